package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetCwd returns the process's current working directory with symlinks
// resolved, matching the convention the workspace-root discovery in
// cmdutil expects from a cwd string.
func GetCwd() (string, error) {
	cwdRaw, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}
	// We evaluate symlinks here because the package managers
	// we support do the same.
	cwd, err := filepath.EvalSymlinks(cwdRaw)
	if err != nil {
		return "", fmt.Errorf("evaluating symlinks in cwd: %w", err)
	}
	return cwd, nil
}
