// Package cacheengine is the local on-disk cache store: state files, hash
// manifests (delegated to hashengine), output archive bookkeeping, and
// staleness GC. Grounded on the teacher's internal/cache (cacheMultiplexer)
// and internal/runcache (state/output layout), generalized from
// turbo's fs-cache-plus-http-cache split into the read/write/off mode gate
// spec.md §4.2 requires.
package cacheengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moonrepo/pipeline-core/internal/config"
	"github.com/moonrepo/pipeline-core/internal/fs"
	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// Engine is the local cache: hash manifests, state files, and output
// archive storage, all rooted under <workspace>/.moon/cache.
type Engine struct {
	Root  turbopath.AbsoluteSystemPath // .moon/cache
	Mode  config.CacheMode
	Hash  *hashengine.Engine
}

// New constructs an Engine rooted at cacheDir, creating the standard
// subdirectories (hashes/, outputs/, states/, temp/) per spec.md §3.
func New(cacheDir turbopath.AbsoluteSystemPath, mode config.CacheMode) (*Engine, error) {
	for _, sub := range []string{"hashes", "outputs", "states", "temp"} {
		if err := os.MkdirAll(cacheDir.UntypedJoin(sub).ToString(), 0o775); err != nil {
			return nil, fmt.Errorf("creating cache dir %s: %w", sub, err)
		}
	}
	return &Engine{
		Root: cacheDir,
		Mode: mode,
		Hash: hashengine.New(cacheDir.UntypedJoin("hashes")),
	}, nil
}

// OutputsDir is where archived task outputs (<hash>.tar.zst) live.
func (e *Engine) OutputsDir() turbopath.AbsoluteSystemPath {
	return e.Root.UntypedJoin("outputs")
}

// TempDir is scratch space, swept by CleanStale.
func (e *Engine) TempDir() turbopath.AbsoluteSystemPath {
	return e.Root.UntypedJoin("temp")
}

// StatesDir is the root for per-target/per-engine JSON state files.
func (e *Engine) StatesDir() turbopath.AbsoluteSystemPath {
	return e.Root.UntypedJoin("states")
}

// LoadState reads and unmarshals the JSON state file at a path relative
// to StatesDir into dst. A missing file is not an error; dst is left
// untouched and ok is false.
func (e *Engine) LoadState(relPath string, dst interface{}) (ok bool, err error) {
	path := e.StatesDir().UntypedJoin(relPath)
	buf, err := os.ReadFile(path.ToString())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(buf, dst); err != nil {
		return false, fmt.Errorf("parsing state file %s: %w", relPath, err)
	}
	return true, nil
}

// SaveState marshals v as camelCase-tagged JSON and atomically writes it
// to relPath under StatesDir, creating parent directories as needed.
// A no-op (but not an error) when the cache mode forbids writes.
func (e *Engine) SaveState(relPath string, v interface{}) error {
	if !e.Mode.CanWrite() {
		return nil
	}
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := e.StatesDir().UntypedJoin(relPath)
	return fs.WriteFileAtomic(path, buf, 0o644)
}

// ExecuteIfChanged is the idempotence helper from spec.md §4.2: it hashes
// hashInput, compares it against the last recorded hash for key, and
// only invokes f when they differ (or no prior hash exists). The stored
// hash is updated after f returns nil.
func (e *Engine) ExecuteIfChanged(key string, hashInput interface{}, f func() error) error {
	digest, err := e.Hash.HashOne(key, hashInput)
	if err != nil {
		return err
	}

	type lastHash struct {
		Hash string `json:"hash"`
	}
	relPath := filepath.Join(key, "lastHash.json")

	var prev lastHash
	found, err := e.LoadState(relPath, &prev)
	if err == nil && found && prev.Hash == string(digest) {
		return nil
	}

	if err := f(); err != nil {
		return err
	}
	return e.SaveState(relPath, lastHash{Hash: string(digest)})
}

// CleanStale deletes files under hashes/, outputs/, and temp/ whose
// modification time is older than lifetime. force ignores the cache mode
// gate (GC always runs on explicit request even when the cache is
// read-only). Returns the number of files removed and bytes reclaimed.
func (e *Engine) CleanStale(lifetime time.Duration, force bool) (filesDeleted int, bytesSaved int64, err error) {
	if !force && !e.Mode.CanWrite() {
		return 0, 0, nil
	}
	cutoff := time.Now().Add(-lifetime)

	for _, dir := range []turbopath.AbsoluteSystemPath{
		e.Root.UntypedJoin("hashes"),
		e.OutputsDir(),
		e.TempDir(),
	} {
		entries, readErr := os.ReadDir(dir.ToString())
		if readErr != nil {
			continue
		}
		for _, entry := range entries {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := dir.UntypedJoin(entry.Name())
			if rmErr := os.Remove(path.ToString()); rmErr == nil {
				filesDeleted++
				bytesSaved += info.Size()
			}
		}
	}
	return filesDeleted, bytesSaved, nil
}
