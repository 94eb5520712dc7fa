// Package globby resolves a task's declared output globs into the
// concrete file set the archiver and hydrator operate on (spec.md §4.7,
// "Resolve the output set (files + glob expansion under each task-local
// root)").
//
// Grounded on the teacher's internal/globby package, which expanded turbo
// task inputs/outputs via github.com/bmatcuk/doublestar against an
// afero.Fs; this package keeps the same include/exclude-glob shape but
// walks the vendored internal/doublestar over an os.DirFS rooted at each
// task's working directory, since doublestar is already present in this
// tree as a fully self-contained package.
package globby

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moonrepo/pipeline-core/internal/doublestar"
)

// GlobError wraps a malformed glob pattern with the pattern that caused it.
type GlobError struct {
	Pattern string
	Cause   error
}

func (e *GlobError) Error() string {
	return fmt.Sprintf("invalid glob %q: %v", e.Pattern, e.Cause)
}

func (e *GlobError) Unwrap() error { return e.Cause }

// isExclusion reports whether pattern is a "!"-prefixed negation, per the
// teacher's turbo.json output-glob convention.
func isExclusion(pattern string) bool {
	return strings.HasPrefix(pattern, "!")
}

// GlobFiles expands globs (a mix of inclusion and "!"-prefixed exclusion
// patterns) against the file tree rooted at root, returning the matched
// paths relative to root, deterministically sorted.
//
// A glob with no magic characters and no matching file is still included,
// mirroring the teacher's tolerance for output declarations of files a
// task hasn't produced yet on a first run.
func GlobFiles(root string, globs []string) ([]string, error) {
	fsys := os.DirFS(root)

	included := make(map[string]struct{})
	excluded := make(map[string]struct{})

	for _, raw := range globs {
		exclude := isExclusion(raw)
		pattern := raw
		if exclude {
			pattern = strings.TrimPrefix(raw, "!")
		}
		pattern = filepath.ToSlash(pattern)

		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, &GlobError{Pattern: raw, Cause: err}
		}

		dest := included
		if exclude {
			dest = excluded
		}
		if len(matches) == 0 && !doublestar.ValidatePattern(pattern) {
			return nil, &GlobError{Pattern: raw, Cause: fmt.Errorf("malformed pattern")}
		}
		for _, m := range matches {
			dest[m] = struct{}{}
		}
		// A literal (non-glob) inclusion pattern is kept even with zero
		// matches, so a not-yet-produced declared output still archives
		// correctly once the task actually writes it.
		if !exclude && len(matches) == 0 && !hasMeta(pattern) {
			dest[pattern] = struct{}{}
		}
	}

	out := make([]string, 0, len(included))
	for p := range included {
		if _, isExcluded := excluded[p]; isExcluded {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]{}!")
}
