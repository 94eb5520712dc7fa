// Package vcs implements collaborators.VCSAdapter against a local git
// checkout by shelling out to `git hash-object`/`git ls-files` rather
// than reimplementing git's object model, and follows the same
// shell-out style for diff and branch queries.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// GitAdapter implements collaborators.VCSAdapter by invoking the `git`
// binary on PATH against a working tree rooted at Root.
type GitAdapter struct {
	Root turbopath.AbsoluteSystemPath
}

// New constructs a GitAdapter rooted at root.
func New(root turbopath.AbsoluteSystemPath) *GitAdapter {
	return &GitAdapter{Root: root}
}

func (g *GitAdapter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Root.ToString()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// TouchedFilesSince returns the set of paths that differ between rev and
// the current working tree, including untracked files, mirroring the
// "affected" filter's touched-files input (spec.md §4.6, §GLOSSARY).
func (g *GitAdapter) TouchedFilesSince(ctx context.Context, rev string) (map[string]struct{}, error) {
	touched := make(map[string]struct{})

	diffOut, err := g.run(ctx, "diff", "--name-only", rev+"...HEAD")
	if err != nil {
		return nil, err
	}
	addLines(touched, diffOut)

	statusOut, err := g.run(ctx, "status", "--porcelain", "-uall")
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(strings.NewReader(statusOut))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 3 {
			touched[strings.TrimSpace(line[3:])] = struct{}{}
		}
	}
	return touched, nil
}

func addLines(set map[string]struct{}, out string) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			set[line] = struct{}{}
		}
	}
}

// FileHashes returns git's blob hash for each path, via `git hash-object`.
func (g *GitAdapter) FileHashes(ctx context.Context, paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}
	args := append([]string{"hash-object"}, paths...)
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	hashes := strings.Fields(out)
	if len(hashes) != len(paths) {
		return nil, fmt.Errorf("git hash-object returned %d hashes for %d paths", len(hashes), len(paths))
	}
	result := make(map[string]string, len(paths))
	for i, p := range paths {
		result[p] = hashes[i]
	}
	return result, nil
}

// ListFiles returns every tracked file plus every untracked, non-ignored
// file in the working tree, via `git ls-files --cached --others
// --exclude-standard`, for hasher.walkStrategy=vcs.
func (g *GitAdapter) ListFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--cached", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// LocalBranch returns the currently checked-out branch name.
func (g *GitAdapter) LocalBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	return strings.TrimSpace(out), err
}

// DefaultBranch returns the remote's configured default branch, falling
// back to "main" if the remote HEAD symref is unavailable (e.g. a fresh
// clone with no fetched remote state).
func (g *GitAdapter) DefaultBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "main", nil
	}
	return strings.TrimPrefix(strings.TrimSpace(out), "refs/remotes/origin/"), nil
}
