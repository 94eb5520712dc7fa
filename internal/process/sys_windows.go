//go:build windows
// +build windows

package process

/**
 * Code in this file is based on the source code at
 * https://github.com/hashicorp/consul-template/tree/3ea7d99ad8eff17897e0d63dac86d74770170bb8/child/sys_windows.go
 */

import (
	"os"
	"os/exec"
)

func setSetpgid(cmd *exec.Cmd, value bool) {}

func processNotFoundErr(err error) bool {
	return false
}

// defaultShellCommand returns the shell binary and its "run a string"
// flag for Command.WithShell. pwsh (PowerShell 7+) is preferred over the
// older powershell.exe, matching original_source's shell.rs
// find_command_on_path special-casing of "pwsh"/"powershell"; %ComSpec%
// is the last resort for hosts with no PowerShell installed.
func defaultShellCommand() (string, []string) {
	if path, err := exec.LookPath("pwsh"); err == nil {
		return path, []string{"-Command"}
	}
	if path, err := exec.LookPath("powershell"); err == nil {
		return path, []string{"-Command"}
	}
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return comspec, []string{"/C"}
}
