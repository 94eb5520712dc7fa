package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-gatedio"
	"github.com/hashicorp/go-hclog"
)

// ExecMode names which of a Command's three terminal operations produced
// a CommandError, matching the original implementation's Capture/Stream/
// StreamCapture process-error variants (nextgen/process/src/process_error.rs).
type ExecMode int

const (
	ExecCaptureOutput ExecMode = iota
	ExecStreamOutput
	ExecStreamAndCaptureOutput
)

func (m ExecMode) String() string {
	switch m {
	case ExecCaptureOutput:
		return "execute and capture output"
	case ExecStreamOutput:
		return "execute and stream output"
	case ExecStreamAndCaptureOutput:
		return "execute, stream, and capture output"
	default:
		return "execute"
	}
}

// CommandError reports a Command's terminal exec mode failing, carrying
// whatever stderr it managed to capture so a caller doesn't need to
// re-run the command to see why.
type CommandError struct {
	Bin    string
	Mode   ExecMode
	Output string
	Cause  error
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("failed to %s for %q: %v", e.Mode, e.Bin, e.Cause)
	}
	return fmt.Sprintf("failed to %s for %q: %v\n\n%s", e.Mode, e.Bin, e.Cause, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Cause }

// Command builds one OS process invocation per spec.md §4.4: a binary,
// its arguments, a working directory, an environment, and an optional
// shell wrap, run through one of three terminal exec modes. It is the
// typed front end onto Manager, which still owns process registration
// and signal-driven teardown the way the teacher's Manager/Child pair
// always has; Command only decides what exec.Cmd gets built and how its
// output is collected.
type Command struct {
	manager *Manager
	logger  hclog.Logger

	bin   string
	args  []string
	dir   string
	env   []string
	shell bool
}

// NewCommand returns a Command that will run bin with args under m, once
// one of its Exec* methods is called.
func NewCommand(m *Manager, logger hclog.Logger, bin string, args ...string) *Command {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Command{manager: m, logger: logger, bin: bin, args: args}
}

// WithDir sets the child's working directory.
func (c *Command) WithDir(dir string) *Command {
	c.dir = dir
	return c
}

// WithEnv replaces the child's inherited environment with env.
func (c *Command) WithEnv(env []string) *Command {
	c.env = env
	return c
}

// WithShell wraps the command in the platform's default shell before
// exec (spec.md §4.4: a Task's `shell: true` option), selecting pwsh on
// Windows or $SHELL on Unix rather than always assuming /bin/sh.
func (c *Command) WithShell(shell bool) *Command {
	c.shell = shell
	return c
}

// resolve applies shell-wrapping, then Windows script-path resolution,
// in that order: a shell-wrapped .cmd target is run as a string inside
// the shell, so only an un-wrapped script target needs its own
// interpreter resolved (original_source's shell.rs is_windows_script).
func (c *Command) resolve() (string, []string, error) {
	if c.shell {
		shellBin, shellArgs := defaultShellCommand()
		full := strings.TrimSpace(c.bin + " " + strings.Join(c.args, " "))
		return shellBin, append(shellArgs, full), nil
	}
	if isWindowsScript(c.bin) {
		return resolveWindowsScript(c.bin, c.args)
	}
	return c.bin, c.args, nil
}

func (c *Command) build(ctx context.Context) (*exec.Cmd, error) {
	bin, args, err := c.resolve()
	if err != nil {
		return nil, err
	}
	c.logger.Debug("building command", "bin", bin, "dir", c.dir, "shell", c.shell)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = c.dir
	if c.env != nil {
		cmd.Env = c.env
	}
	return cmd, nil
}

// isWindowsScript reports whether bin is a script file Windows can't
// exec directly and must instead hand to its associated interpreter
// (original_source's shell.rs is_windows_script: .cmd/.bat/.ps1, any
// case).
func isWindowsScript(bin string) bool {
	switch strings.ToLower(filepath.Ext(bin)) {
	case ".cmd", ".bat", ".ps1":
		return true
	default:
		return false
	}
}

// resolveWindowsScript rewrites a script target into an invocation of
// its interpreter: %ComSpec% /C for .cmd/.bat, pwsh/powershell -File for
// .ps1.
func resolveWindowsScript(bin string, args []string) (string, []string, error) {
	if strings.ToLower(filepath.Ext(bin)) == ".ps1" {
		shellBin, _ := findShellOnPath("pwsh", "powershell")
		return shellBin, append([]string{"-NoProfile", "-NonInteractive", "-File", bin}, args...), nil
	}
	comspec := os.Getenv("ComSpec")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return comspec, append([]string{"/C", bin}, args...), nil
}

// findShellOnPath looks up the first of names found on PATH, falling
// back to the first name itself so callers still get a sensible binary
// to report in an error (original_source's shell.rs find_command_on_path,
// which special-cases "pwsh"/"powershell" the same way).
func findShellOnPath(names ...string) (string, bool) {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return names[0], false
}

// ExecCaptureOutput runs the command to completion and returns its
// buffered stdout/stderr, writing to neither of the parent process's own
// streams (spec.md §4.4, "exec_capture_output").
func (c *Command) ExecCaptureOutput(ctx context.Context) (stdout, stderr []byte, err error) {
	cmd, buildErr := c.build(ctx)
	if buildErr != nil {
		return nil, nil, buildErr
	}
	outBuf := gatedio.NewByteBuffer()
	errBuf := gatedio.NewByteBuffer()
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	if execErr := c.manager.Exec(cmd); execErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), c.wrapErr(ExecCaptureOutput, errBuf.Bytes(), execErr)
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// ExecStreamOutput runs the command to completion, forwarding its
// stdout/stderr to out/errOut as produced and capturing nothing (spec.md
// §4.4, "exec_stream_output").
func (c *Command) ExecStreamOutput(ctx context.Context, out, errOut io.Writer) error {
	cmd, err := c.build(ctx)
	if err != nil {
		return err
	}
	cmd.Stdout = out
	cmd.Stderr = errOut

	if execErr := c.manager.Exec(cmd); execErr != nil {
		return c.wrapErr(ExecStreamOutput, nil, execErr)
	}
	return nil
}

// ExecStreamAndCaptureOutput does both: out/errOut see the live stream
// and the full buffered copy is returned once the child exits (spec.md
// §4.4, "exec_stream_and_capture_output").
func (c *Command) ExecStreamAndCaptureOutput(ctx context.Context, out, errOut io.Writer) (stdout, stderr []byte, err error) {
	cmd, buildErr := c.build(ctx)
	if buildErr != nil {
		return nil, nil, buildErr
	}
	outBuf := gatedio.NewByteBuffer()
	errBuf := gatedio.NewByteBuffer()
	cmd.Stdout = io.MultiWriter(out, outBuf)
	cmd.Stderr = io.MultiWriter(errOut, errBuf)

	if execErr := c.manager.Exec(cmd); execErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), c.wrapErr(ExecStreamAndCaptureOutput, errBuf.Bytes(), execErr)
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

func (c *Command) wrapErr(mode ExecMode, errOutput []byte, cause error) error {
	return &CommandError{Bin: c.bin, Mode: mode, Output: strings.TrimSpace(string(errOutput)), Cause: cause}
}
