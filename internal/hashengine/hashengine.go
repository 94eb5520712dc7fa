// Package hashengine turns named, serializable content records into a
// single stable hex digest. It is the lowest layer of the cache stack:
// the task hasher and the cache engine digest their manifests and records
// through it.
//
// Grounded on the teacher's internal/fs xxhash-based HashObject
// (internal/fs/hash.go), generalized from a single xxhash sum over a
// fmt.Sprintf'd struct to a sorted, canonical-JSON SHA-256 digest per this
// project's manifest format.
package hashengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/moonrepo/pipeline-core/internal/fs"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// Digest is a lowercase hex-encoded SHA-256 sum.
type Digest string

// ContentHashFailedError is returned when a content record cannot be
// canonicalized (e.g. it is not JSON-serializable). Per spec.md §4.1 this
// is always fatal to the caller; the engine never substitutes a
// best-effort hash.
type ContentHashFailedError struct {
	Label string
	Cause error
}

func (e *ContentHashFailedError) Error() string {
	return fmt.Sprintf("failed to canonicalize content %q: %v", e.Label, e.Cause)
}

func (e *ContentHashFailedError) Unwrap() error { return e.Cause }

// Engine computes and persists content hashes under a cache root.
type Engine struct {
	// ManifestDir is where SaveManifest writes <digest>.json.
	ManifestDir turbopath.AbsoluteSystemPath
}

// New constructs an Engine rooted at manifestDir (typically
// <workspace>/.moon/cache/hashes).
func New(manifestDir turbopath.AbsoluteSystemPath) *Engine {
	return &Engine{ManifestDir: manifestDir}
}

// canonicalize marshals v through encoding/json, whose map key ordering is
// already lexicographic and which never emits float formatting ambiguity
// for the integer-only fields this project hashes. The result has no
// indentation, matching "no presentation whitespace" in spec.md §4.1.
func canonicalize(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Hash canonicalizes every record in contents, concatenates them in
// label-sorted order, and returns the SHA-256 digest of that stream.
func (e *Engine) Hash(contents map[string]interface{}) (Digest, error) {
	labels := make([]string, 0, len(contents))
	for label := range contents {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	h := sha256.New()
	for _, label := range labels {
		buf, err := canonicalize(contents[label])
		if err != nil {
			return "", &ContentHashFailedError{Label: label, Cause: err}
		}
		fmt.Fprintf(h, "%s\x00", label)
		h.Write(buf)
		h.Write([]byte{0})
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// HashOne is a convenience wrapper for the common case of a single named
// record (e.g. one task's HashManifest).
func (e *Engine) HashOne(label string, content interface{}) (Digest, error) {
	return e.Hash(map[string]interface{}{label: content})
}

// SaveManifest hashes contents and additionally persists the canonical
// JSON to <ManifestDir>/<digest>.json for later forensic diffing via
// query_hash.
func (e *Engine) SaveManifest(label string, content interface{}) (Digest, error) {
	digest, err := e.HashOne(label, content)
	if err != nil {
		return "", err
	}
	buf, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return "", &ContentHashFailedError{Label: label, Cause: err}
	}
	path := e.ManifestDir.UntypedJoin(string(digest) + ".json")
	if err := fs.WriteFileAtomic(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return digest, nil
}

// ManifestExists reports whether a manifest for digest was already saved.
func (e *Engine) ManifestExists(digest Digest) bool {
	return fs.SystemPathExists(e.ManifestDir.UntypedJoin(string(digest) + ".json"))
}

// ReadManifest loads the raw manifest bytes for digest, for query_hash and
// query_hash_diff.
func (e *Engine) ReadManifest(digest Digest) ([]byte, error) {
	return fs.ReadSystemFile(e.ManifestDir.UntypedJoin(string(digest) + ".json"))
}
