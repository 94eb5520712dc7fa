// Package orchestrator is the final assembly point: it takes a
// planner.Result (a frozen graph plus per-RunTask plan skeletons), a
// taskrunner.Runner, and an actionhandlers.Handlers, and produces a ready-
// to-run pipeline.Pipeline with every one of the five ActionNode kinds
// wired to a real handler.
//
// This is where spec.md §2's control-flow sentence ("the Pipeline owns a
// built Action Graph, spawns Job tasks ... each job invokes the Action
// Dispatcher, which routes to a handler") becomes concrete wiring, rather
// than living only in prose. It has no teacher equivalent as a standalone
// package — the teacher's cli/cmd/run.go performs the equivalent
// assembly inline in a single command's RunE — but the wiring shape
// (construct dispatcher, register every handler, construct engine,
// construct pipeline) mirrors that command body one-for-one.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/moonrepo/pipeline-core/internal/actionhandlers"
	"github.com/moonrepo/pipeline-core/internal/dispatcher"
	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/pipeline"
	"github.com/moonrepo/pipeline-core/internal/planner"
	"github.com/moonrepo/pipeline-core/internal/taskrunner"
)

// digestTable is the shared, mutex-guarded node-index -> digest map that
// lets the RunTask handler read an already-completed dependency's hash
// without the pipeline package needing to expose its internal Action
// slice (spec.md §9: "no back-pointers from node to graph").
type digestTable struct {
	mu      sync.RWMutex
	byIndex map[int]hashengine.Digest
}

func newDigestTable() *digestTable {
	return &digestTable{byIndex: make(map[int]hashengine.Digest)}
}

func (t *digestTable) set(i int, d hashengine.Digest) {
	t.mu.Lock()
	t.byIndex[i] = d
	t.mu.Unlock()
}

func (t *digestTable) get(i int) (hashengine.Digest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.byIndex[i]
	return d, ok
}

// MissingDependencyHashError is returned when a RunTask node dispatches
// before one of its declared dependency targets has recorded a digest —
// a planning bug (the ready iterator is supposed to guarantee
// dependency-first ordering), surfaced per spec.md §4.8 rather than
// silently hashed without it.
type MissingDependencyHashError struct {
	Target string
	Dep    string
}

func (e *MissingDependencyHashError) Error() string {
	return fmt.Sprintf("dependency %s of %s has no recorded hash", e.Dep, e.Target)
}

// Build constructs a dispatcher with all five ActionNode kinds registered
// and a pipeline ready to run plan.Graph. userEmit, if non-nil, is called
// for every action lifecycle occurrence in addition to the digest-capture
// bookkeeping this function installs internally.
func Build(plan *planner.Result, runner *taskrunner.Runner, handlers *actionhandlers.Handlers, concurrency int, onFailure pipeline.OnFailure, userEmit pipeline.EmitFunc) *pipeline.Pipeline {
	digests := newDigestTable()

	d := dispatcher.New()
	handlers.Register(d)
	d.Register(model.KindRunTask, runTaskHandler(plan, runner, digests))

	emit := func(kind string, action *model.Action) bool {
		if kind == "ActionCompleted" && action.Digest != "" {
			digests.set(action.NodeIndex, hashengine.Digest(action.Digest))
		}
		if userEmit != nil {
			return userEmit(kind, action)
		}
		return false
	}

	return pipeline.New(plan.Graph, d, concurrency, onFailure, emit)
}

func runTaskHandler(plan *planner.Result, runner *taskrunner.Runner, digests *digestTable) dispatcher.Handler {
	return func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		rtp, ok := plan.Plans[action.NodeIndex]
		if !ok {
			return model.StatusInvalid, fmt.Errorf("no resolved plan for RunTask node %d (%s)", action.NodeIndex, action.Label)
		}

		depHashes := make(map[string]hashengine.Digest, len(rtp.DependencyNodeIndices))
		for depKey, depIdx := range rtp.DependencyNodeIndices {
			digest, ok := digests.get(depIdx)
			if !ok {
				return model.StatusFailed, &MissingDependencyHashError{Target: rtp.Target.String(), Dep: depKey}
			}
			depHashes[depKey] = digest
		}

		taskPlan := taskrunner.Plan{
			Target:            rtp.Target,
			Task:              rtp.Task,
			ToolchainVersions: rtp.ToolchainVersions,
			DependencyHashes:  depHashes,
		}
		return runner.Run(ctx, action, taskPlan)
	}
}
