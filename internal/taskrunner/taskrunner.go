// Package taskrunner drives a single RunTask node through the state
// machine in spec.md §4.8: Planning -> Hashing -> CacheCheck -> {Hit ->
// Hydrate -> Done | Miss -> Dispatch -> Running -> {Pass -> Archive -> Done |
// Fail -> retry? -> Done(Fail)}}. It is the leaf handler the action
// dispatcher registers for model.KindRunTask.
//
// Grounded on the teacher's internal/runcache (the turbo equivalent of
// CacheCheck/Hydrate/Archive sequencing) and internal/process (child exec
// with retry via the Manager), generalized to drive a content hash through
// hashengine/cacheengine/archive/remote instead of turbo's single local+HTTP
// cache split. Single-flight is golang.org/x/sync/singleflight, already
// pulled in by the teacher's go.mod as a sibling of errgroup.
package taskrunner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/moonrepo/pipeline-core/internal/archive"
	"github.com/moonrepo/pipeline-core/internal/cacheengine"
	"github.com/moonrepo/pipeline-core/internal/fs"
	"github.com/moonrepo/pipeline-core/internal/globby"
	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/process"
	"github.com/moonrepo/pipeline-core/internal/remote"
	"github.com/moonrepo/pipeline-core/internal/taskhash"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// OutputFactory builds a fresh pair of stdout/stderr writers for one
// action's process execution, keyed by its label (e.g. for a
// logstreamer.Logstreamer with a per-task colored prefix). Called once per
// attempt, since concurrent executions must never share a Logstreamer's
// internal line buffer.
type OutputFactory func(label string) (stdout, stderr io.Writer)

// EmitFunc delivers a runner-observed occurrence to the event emitter. It
// mirrors events.Emitter.Emit's signature without importing events, so
// taskrunner never depends back on the subscriber package.
type EmitFunc func(kind string, hash string, attempt int) (abort bool)

// Runner executes RunTask nodes: hashing, cache lookup (local then
// remote), process dispatch with retry, and output archiving.
type Runner struct {
	Workspace turbopath.AbsoluteSystemPath
	Hasher    *taskhash.Hasher
	Cache     *cacheengine.Engine
	Remote    *remote.Client // nil disables remote lookups entirely
	Procs     *process.Manager
	Emit      EmitFunc

	// Logger is passed to every process.Command this runner builds, so a
	// task's shell resolution and build steps show up at debug verbosity.
	// Nil is replaced with a no-op logger.
	Logger hclog.Logger

	// Output builds per-attempt stdout/stderr writers for a running task's
	// child process. Nil discards all task output.
	Output OutputFactory

	sf singleflight.Group
}

// New constructs a Runner. remoteClient may be nil.
func New(workspace turbopath.AbsoluteSystemPath, hasher *taskhash.Hasher, cache *cacheengine.Engine, remoteClient *remote.Client, procs *process.Manager, emit EmitFunc) *Runner {
	return &Runner{Workspace: workspace, Hasher: hasher, Cache: cache, Remote: remoteClient, Procs: procs, Emit: emit, Logger: hclog.NewNullLogger()}
}

func (r *Runner) outputWriters(label string) (io.Writer, io.Writer) {
	if r.Output == nil {
		return io.Discard, io.Discard
	}
	return r.Output(label)
}

// Plan is everything the graph builder already resolved about a RunTask
// node that the runner needs to execute it.
type Plan struct {
	Target            model.Target
	Task              model.Task
	ToolchainVersions []string
	DependencyHashes  map[string]hashengine.Digest

	// Affected, when non-nil, is the VCS touched-file set; a task whose
	// declared input files are all outside it is Skipped (spec.md §4.8).
	// A task that declares any input glob is treated as affected.
	Affected map[string]struct{}
}

func (p Plan) isAffected() bool {
	if p.Affected == nil {
		return true
	}
	if len(p.Task.InputGlobs) > 0 {
		return true
	}
	for _, f := range p.Task.InputFiles {
		if _, ok := p.Affected[f]; ok {
			return true
		}
	}
	return false
}

// Run executes plan's task through the full state machine, recording one
// model.Operation per phase onto action. action.Status is set to the
// terminal status and also returned for the dispatcher's convenience.
func (r *Runner) Run(ctx context.Context, action *model.Action, plan Plan) (model.ActionStatus, error) {
	if !plan.Task.Options.RunInCI && isCI() {
		return r.finish(action, model.StatusSkipped, nil)
	}
	if !plan.isAffected() {
		return r.finish(action, model.StatusSkipped, nil)
	}

	var digest hashengine.Digest
	hashOp := model.Operation{Kind: model.OpHashManifest, StartedAt: time.Now()}
	d, hashErr := r.Hasher.HashTask(ctx, plan.Target, plan.Task, plan.ToolchainVersions, plan.DependencyHashes)
	hashOp.EndedAt = time.Now()
	if hashErr != nil {
		hashOp.Error = hashErr.Error()
		action.Operations = append(action.Operations, hashOp)
		return r.finish(action, model.StatusFailed, &model.ActionFailedError{Label: action.Label, Cause: hashErr})
	}
	digest = d
	action.Operations = append(action.Operations, hashOp)
	action.Digest = string(digest)
	action.Label = action.Label + "#" + string(digest)[:12]

	// Single-flight: concurrent jobs hashing to the same digest share one
	// execution. Only the winner runs cache-check/dispatch/archive; losers
	// block on the same result (spec.md §4.8, "at most one in-flight build
	// per hash").
	v, err, _ := r.sf.Do(string(digest), func() (interface{}, error) {
		status, err := r.runLocked(ctx, action, plan, digest)
		return status, err
	})
	if err != nil {
		return r.finish(action, model.StatusFailed, err)
	}
	return r.finish(action, v.(model.ActionStatus), nil)
}

func (r *Runner) runLocked(ctx context.Context, action *model.Action, plan Plan, digest hashengine.Digest) (model.ActionStatus, error) {
	archivePath := r.Cache.OutputsDir().UntypedJoin(string(digest) + ".tar.zst")

	hit := false
	err := r.runOp(action, model.OpCacheCheck, func() (int32, error) {
		hit = r.checkCache(ctx, digest, archivePath, plan)
		return 0, nil
	})
	if err != nil {
		return model.StatusFailed, err
	}

	if hit {
		if err := r.runOp(action, model.OpOutputHydrate, func() (int32, error) {
			outputs, globErr := r.resolveOutputs(plan)
			if globErr != nil {
				return 0, globErr
			}
			return 0, archive.Hydrate(archivePath, r.Workspace, outputs)
		}); err != nil {
			// Hydration failure demotes a hit to a miss rather than failing
			// the task outright; fall through to execution.
		} else {
			r.emit("OutputHydrated", string(digest))
			return model.StatusCached, nil
		}
	}
	r.emit("CacheMiss", string(digest))

	status, execErr := r.execute(ctx, action, plan)
	if status != model.StatusPassed {
		return status, execErr
	}

	if err := r.runOp(action, model.OpOutputArchive, func() (int32, error) {
		outputs, globErr := r.resolveOutputs(plan)
		if globErr != nil {
			return 0, globErr
		}
		return 0, archive.Create(r.Workspace, outputs, archivePath)
	}); err != nil {
		return model.StatusFailed, &model.ActionFailedError{Label: action.Label, Cause: err}
	}
	r.emit("OutputArchived", string(digest))

	if plan.Task.Options.Cache && r.Cache.Mode.CanWrite() {
		_ = r.runOp(action, model.OpCacheUpload, func() (int32, error) {
			r.uploadRemote(ctx, digest, archivePath)
			return 0, nil
		})
	}

	return model.StatusPassed, nil
}

// resolveOutputs expands plan.Task.OutputGlobs under the workspace root
// and merges the result with its literal OutputFiles, giving the
// archiver and hydrator the full declared output set (spec.md §4.7). The
// input side resolves globs the same way (taskhash.Hasher.expandInputs
// against h.Root), so both walk the same tree.
func (r *Runner) resolveOutputs(plan Plan) ([]string, error) {
	if len(plan.Task.OutputGlobs) == 0 {
		return plan.Task.OutputFiles, nil
	}
	globbed, err := globby.GlobFiles(r.Workspace.ToString(), plan.Task.OutputGlobs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(plan.Task.OutputFiles)+len(globbed))
	outputs := make([]string, 0, len(plan.Task.OutputFiles)+len(globbed))
	for _, f := range plan.Task.OutputFiles {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			outputs = append(outputs, f)
		}
	}
	for _, f := range globbed {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			outputs = append(outputs, f)
		}
	}
	return outputs, nil
}

// checkCache reports whether outputs for digest are already available,
// preferring the local archive and falling back to remote AC+CAS when the
// cache mode permits reads.
func (r *Runner) checkCache(ctx context.Context, digest hashengine.Digest, archivePath turbopath.AbsoluteSystemPath, plan Plan) bool {
	if !plan.Task.Options.Cache || !r.Cache.Mode.CanRead() {
		return false
	}
	if fs.SystemPathExists(archivePath) {
		return true
	}
	if r.Remote == nil {
		return false
	}

	actionDigest := toRemoteDigest(string(digest))
	result, err := r.Remote.GetActionResult(ctx, actionDigest)
	if err != nil || result == nil {
		return false
	}

	blobDigests := make([]*repb.Digest, 0, len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		blobDigests = append(blobDigests, f.Digest)
	}
	if len(blobDigests) == 0 {
		return false
	}
	blobs, err := r.Remote.BatchReadBlobs(ctx, blobDigests)
	if err != nil || len(blobs) != len(blobDigests) {
		return false
	}

	var buf bytes.Buffer
	for _, d := range blobDigests {
		buf.Write(blobs[d.Hash])
	}
	if err := fs.WriteFileAtomic(archivePath, buf.Bytes(), 0o644); err != nil {
		return false
	}
	return true
}

func (r *Runner) uploadRemote(ctx context.Context, digest hashengine.Digest, archivePath turbopath.AbsoluteSystemPath) {
	if r.Remote == nil {
		return
	}
	data, err := fs.ReadSystemFile(archivePath)
	if err != nil {
		return
	}
	blobDigest := digest.NewFromBlob(data).ToProto()
	_, _ = r.Remote.BatchUpdateBlobs(ctx, map[string][]byte{blobDigest.Hash: data})
	result := &repb.ActionResult{
		OutputFiles: []*repb.OutputFile{{Path: "archive.tar.zst", Digest: blobDigest}},
	}
	_ = r.Remote.UpdateActionResult(ctx, toRemoteDigest(string(digest)), result)
}

// execute runs the task's command up to options.retry_count+1 times,
// recording one OpProcessExecute operation per attempt (spec.md's S5
// scenario: retry_count=2 yields exactly 3 ProcessExecution operations).
func (r *Runner) execute(ctx context.Context, action *model.Action, plan Plan) (model.ActionStatus, error) {
	maxAttempts := plan.Task.Options.RetryCount + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		action.Attempts = attempt
		var exitErr error
		opErr := r.runOp(action, model.OpProcessExecute, func() (int32, error) {
			cmd := process.NewCommand(r.Procs, r.Logger, plan.Task.Command, plan.Task.Args...).
				WithDir(r.Workspace.ToString()).
				WithEnv(mergeEnv(plan.Task.Env)).
				WithShell(plan.Task.Options.Shell)
			stdout, stderr := r.outputWriters(action.Label)
			err := cmd.ExecStreamOutput(ctx, stdout, stderr)
			exitErr = err
			return exitCodeOf(err), err
		})
		lastErr = opErr
		r.emit("TaskRan", plan.Target.String())

		if opErr == nil {
			return model.StatusPassed, nil
		}

		if ctx.Err() != nil {
			// The context was canceled out from under the process: this is
			// the pipeline's own cancel/abort token tripping, not a task
			// failure, so it never counts against retry_count.
			if isCancellationCode(exitCodeOf(exitErr)) {
				return model.StatusSkipped, opErr
			}
			return model.StatusFailedAndAbort, opErr
		}
		if attempt == maxAttempts {
			break
		}
	}
	return model.StatusFailed, &model.ActionFailedError{Label: action.Label, Cause: lastErr}
}

func (r *Runner) finish(action *model.Action, status model.ActionStatus, err error) (model.ActionStatus, error) {
	action.Status = status
	action.EndedAt = time.Now()
	if err != nil {
		action.Error = err.Error()
	}
	return status, err
}

func (r *Runner) emit(kind, hash string) {
	if r.Emit != nil {
		r.Emit(kind, hash, 0)
	}
}

// runOp times f and appends the resulting Operation to action.Operations.
func (r *Runner) runOp(action *model.Action, kind model.OperationKind, f func() (int32, error)) error {
	op := model.Operation{Kind: kind, StartedAt: time.Now()}
	code, err := f()
	op.EndedAt = time.Now()
	if err != nil {
		op.Error = err.Error()
	}
	c := code
	op.ExitCode = &c
	action.Operations = append(action.Operations, op)
	return err
}

func exitCodeOf(err error) int32 {
	if err == nil {
		return 0
	}
	var ce *process.ChildExit
	if errors.As(err, &ce) {
		return int32(ce.ExitCode)
	}
	return -1
}

// isCancellationCode reports whether code matches one of the signal-driven
// exit codes spec.md §4.8 calls out (143 = SIGTERM, 130 = SIGINT, -1 =
// internal cancellation marker).
func isCancellationCode(code int32) bool {
	return code == 143 || code == 130 || code == -1
}

func toRemoteDigest(hash string) *repb.Digest {
	return &repb.Digest{Hash: hash}
}
