// Package taskhash assembles a task's content fingerprint: toolchain
// versions, command/args/env, every declared input file's content hash,
// and the already-computed hashes of its dependency targets, then asks
// hashengine to digest the resulting manifest.
//
// Grounded on the teacher's internal/taskhash.Tracker, which walks a
// task's input files with an errgroup worker pool and composes dependency
// hashes via a dag.Set; generalized here to drop package.json/framework
// inference (turbo-specific) and operate on the spec's input_files/
// input_globs/input_env fields instead.
package taskhash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"
	gitignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/moonrepo/pipeline-core/internal/collaborators"
	"github.com/moonrepo/pipeline-core/internal/env"
	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// Optimization selects how input files are fingerprinted (spec.md §4.6:
// "hasher.optimization=accuracy hashes content; performance may
// substitute VCS blob IDs").
type Optimization string

const (
	// OptimizationAccuracy hashes each input file's content directly.
	OptimizationAccuracy Optimization = "accuracy"
	// OptimizationPerformance substitutes each input file's VCS blob hash
	// (via a collaborators.VCSAdapter) when one is configured, falling
	// back to content hashing for files the VCS doesn't track.
	OptimizationPerformance Optimization = "performance"
)

// WalkStrategy selects how the input file tree is traversed when a task
// declares input_globs (spec.md §4.6, "hasher.walkStrategy").
type WalkStrategy string

const (
	// WalkDirWalk walks the filesystem directly with godirwalk.
	WalkDirWalk WalkStrategy = "dirwalk"
	// WalkVCS lists candidate files from the VCS adapter's tracked-file
	// set instead of a filesystem walk, when one is configured.
	WalkVCS WalkStrategy = "vcs"
)

// MissingInputFileError is returned when a declared input file does not
// exist and warn_on_missing_inputs is false (spec.md §4.6).
type MissingInputFileError struct {
	Path string
}

func (e *MissingInputFileError) Error() string {
	return fmt.Sprintf("missing declared input file: %s", e.Path)
}

// MissingDependencyHashError is returned when a dependency target's hash
// was not yet computed when this task is hashed — always fatal for the
// target being hashed (spec.md §4.8).
type MissingDependencyHashError struct {
	Target string
}

func (e *MissingDependencyHashError) Error() string {
	return fmt.Sprintf("missing dependency hash for target %s", e.Target)
}

// Options tunes the hasher's batching and miss policy, sourced from
// workspace config (hasher.batchSize, hasher.walkStrategy,
// hasher.optimization, warn_on_missing_inputs in spec.md §4.6).
type Options struct {
	BatchSize           int
	WarnOnMissingInputs bool
	Optimization        Optimization
	WalkStrategy        WalkStrategy
}

func (o Options) optimization() Optimization {
	if o.Optimization == "" {
		return OptimizationAccuracy
	}
	return o.Optimization
}

func (o Options) walkStrategy() WalkStrategy {
	if o.WalkStrategy == "" {
		return WalkDirWalk
	}
	return o.WalkStrategy
}

func (o Options) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return runtime.NumCPU() * 4
}

// Hasher computes HashManifests and delegates digesting to a hashengine.Engine.
type Hasher struct {
	Root    turbopath.AbsoluteSystemPath
	Engine  *hashengine.Engine
	Options Options

	// VCS backs Options.Optimization=performance (blob-hash substitution)
	// and Options.WalkStrategy=vcs (VCS-sourced candidate file list). Both
	// fall back to their filesystem-native behavior when VCS is nil.
	VCS collaborators.VCSAdapter

	// OnMissingInputWarning receives a warning message when an input file is missing
	// and WarnOnMissingInputs is true; nil is a valid no-op sink.
	OnMissingInputWarning func(path string)
}

// New constructs a Hasher rooted at root, using engine to digest manifests.
func New(root turbopath.AbsoluteSystemPath, engine *hashengine.Engine, opts Options) *Hasher {
	return &Hasher{Root: root, Engine: engine, Options: opts}
}

// HashTask builds the HashManifest for task and returns its digest.
// depHashes must already contain every target task.Deps references, keyed
// by Target.String(); a missing entry is fatal (MissingDependencyHashError).
func (h *Hasher) HashTask(ctx context.Context, target model.Target, task model.Task, toolchainVersions []string, depHashes map[string]hashengine.Digest) (hashengine.Digest, error) {
	depDigests := make([]string, 0, len(task.Deps))
	for _, dep := range task.Deps {
		digest, ok := depHashes[dep.String()]
		if !ok {
			return "", &MissingDependencyHashError{Target: dep.String()}
		}
		depDigests = append(depDigests, dep.String()+"="+string(digest))
	}
	sort.Strings(depDigests)

	files, err := h.expandInputs(ctx, task.InputFiles, task.InputGlobs)
	if err != nil {
		return "", err
	}

	fileHashes, err := h.hashFiles(ctx, files)
	if err != nil {
		return "", err
	}

	processEnv := env.GetEnvMap()
	inputEnv := make(env.EnvironmentVariableMap, len(task.InputEnv))
	for _, name := range task.InputEnv {
		inputEnv.Add(name, processEnv[name])
	}

	manifest := model.HashManifest{
		Target:            target.String(),
		ToolchainVersions: toolchainVersions,
		Command:           task.Command,
		Args:              task.Args,
		Env:               task.Env,
		InputFileHashes:   fileHashes,
		InputEnv:          inputEnv,
		DependencyHashes:  depDigests,
		TaskOptions: model.TaskOptionsFingerprint{
			EnvMergeStrategy:     task.Options.EnvMergeStrategy,
			ArgsMergeStrategy:    task.Options.ArgsMergeStrategy,
			AffectedFiles:        task.Options.AffectedFiles,
			RunFromWorkspaceRoot: task.Options.RunFromWorkspaceRoot,
		},
		Platform: model.PlatformTuple{OS: runtime.GOOS, Arch: runtime.GOARCH},
	}

	return h.Engine.SaveManifest(target.String(), manifest)
}

// expandInputs resolves explicit files plus glob expansion into a sorted,
// de-duplicated, workspace-relative file list. The candidate list comes
// from a godirwalk filesystem walk by default, or from h.VCS.ListFiles
// when Options.WalkStrategy is WalkVCS and a VCS adapter is configured
// (spec.md §4.6, "hasher.walkStrategy").
func (h *Hasher) expandInputs(ctx context.Context, files, globs []string) ([]string, error) {
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		set[f] = struct{}{}
	}

	if len(globs) > 0 {
		compiled := make([]glob.Glob, 0, len(globs))
		for _, g := range globs {
			pattern, err := glob.Compile(g, '/')
			if err != nil {
				continue
			}
			compiled = append(compiled, pattern)
		}

		match := func(rel string) {
			for _, pattern := range compiled {
				if pattern.Match(rel) {
					set[rel] = struct{}{}
					return
				}
			}
		}

		if h.Options.walkStrategy() == WalkVCS && h.VCS != nil {
			candidates, err := h.VCS.ListFiles(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing vcs files: %w", err)
			}
			for _, rel := range candidates {
				match(filepath.ToSlash(rel))
			}
		} else {
			ignore, _ := gitignore.CompileIgnoreFile(h.Root.UntypedJoin(".gitignore").ToString())
			err := godirwalk.Walk(h.Root.ToString(), &godirwalk.Options{
				Unsorted: true,
				Callback: func(osPathname string, de *godirwalk.Dirent) error {
					if de.IsDir() {
						return nil
					}
					rel, err := filepath.Rel(h.Root.ToString(), osPathname)
					if err != nil {
						return nil
					}
					rel = filepath.ToSlash(rel)
					if ignore != nil && ignore.MatchesPath(rel) {
						return nil
					}
					match(rel)
					return nil
				},
			})
			if err != nil {
				return nil, fmt.Errorf("walking inputs: %w", err)
			}
		}
	}

	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// hashFiles hashes every file in batches of Options.BatchSize using an
// errgroup worker pool, mirroring the teacher's CalculateFileHashes. When
// Options.Optimization is performance and a VCS adapter is configured,
// each file's git blob hash substitutes for a content hash; any file the
// VCS doesn't have a blob for (e.g. newly created, not yet staged) still
// falls back to direct content hashing.
func (h *Hasher) hashFiles(ctx context.Context, files []string) (map[string]string, error) {
	if h.Options.optimization() == OptimizationPerformance && h.VCS != nil && len(files) > 0 {
		vcsHashes, err := h.VCS.FileHashes(ctx, files)
		if err == nil {
			remaining := make([]string, 0)
			results := make(map[string]string, len(files))
			for _, rel := range files {
				if hash, ok := vcsHashes[rel]; ok {
					results[rel] = hash
				} else {
					remaining = append(remaining, rel)
				}
			}
			if len(remaining) == 0 {
				return results, nil
			}
			rest, err := h.hashFilesByContent(ctx, remaining)
			if err != nil {
				return nil, err
			}
			for k, v := range rest {
				results[k] = v
			}
			return results, nil
		}
	}
	return h.hashFilesByContent(ctx, files)
}

// hashFilesByContent hashes every file in batches of Options.BatchSize
// using an errgroup worker pool, mirroring the teacher's
// CalculateFileHashes.
func (h *Hasher) hashFilesByContent(ctx context.Context, files []string) (map[string]string, error) {
	results := make(map[string]string, len(files))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, h.Options.batchSize())

	for _, rel := range files {
		rel := rel
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			digest, err := hashFile(h.Root.UntypedJoin(rel).ToString())
			if os.IsNotExist(err) {
				if !h.Options.WarnOnMissingInputs {
					return &MissingInputFileError{Path: rel}
				}
				if h.OnMissingInputWarning != nil {
					h.OnMissingInputWarning(rel)
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("hashing %s: %w", rel, err)
			}
			mu.Lock()
			results[rel] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
