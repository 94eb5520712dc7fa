// Package pipeline is the job dispatcher of spec.md §4.10: it determines a
// concurrency budget, drains the action graph's ready iterator, dispatches
// each node through the action dispatcher under a shared pair of
// cancellation tokens, and collects every node's terminal Action record.
//
// Grounded on the teacher's internal/core engine loop (spawn-under-semaphore
// draining a dag.Walk queue), generalized to the explicit
// actiongraph.ReadyIterator and to golang.org/x/sync/semaphore.Weighted in
// place of the teacher's buffered-channel concurrency gate, since the spec
// calls for an explicit permit_semaphore.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/moonrepo/pipeline-core/internal/actiongraph"
	"github.com/moonrepo/pipeline-core/internal/dispatcher"
	"github.com/moonrepo/pipeline-core/internal/model"
)

// Status is the pipeline's terminal outcome, per spec.md §4.10.
type Status string

const (
	StatusCompleted   Status = "Completed"
	StatusAborted     Status = "Aborted"
	StatusInterrupted Status = "Interrupted"
	StatusTerminated  Status = "Terminated"
)

// OnFailure selects sibling behavior when a task fails, per spec.md §7.
type OnFailure string

const (
	OnFailureBail     OnFailure = "bail"
	OnFailureContinue OnFailure = "continue"
)

// EmitFunc reports an action lifecycle occurrence to the caller's event
// emitter. Returning true requests pipeline abort (the webhook subscriber's
// contract in spec.md §4.11). Kept as a function value, not an
// events.Emitter dependency, so this package stays usable without pulling
// in the subscriber set.
type EmitFunc func(kind string, action *model.Action) (abort bool)

// Result is everything the run report needs once every job has resolved.
type Result struct {
	Actions  []model.Action
	Status   Status
	Duration time.Duration
}

// Pipeline drives one action graph to completion.
type Pipeline struct {
	Graph       *actiongraph.Graph
	Dispatcher  *dispatcher.Dispatcher
	Concurrency int
	OnFailure   OnFailure
	Emit        EmitFunc

	cancelFn context.CancelFunc
	abortFn  context.CancelFunc

	canceled int32
	aborted  int32
}

// New constructs a Pipeline. concurrency <= 0 defaults to runtime.NumCPU().
func New(graph *actiongraph.Graph, d *dispatcher.Dispatcher, concurrency int, onFailure OnFailure, emit EmitFunc) *Pipeline {
	return &Pipeline{Graph: graph, Dispatcher: d, Concurrency: concurrency, OnFailure: onFailure, Emit: emit}
}

// Cancel requests graceful shutdown (external SIGINT/SIGTERM per spec.md
// §4.10): no new job is dispatched, but jobs already running are allowed to
// finish or abort under their own policy.
func (p *Pipeline) Cancel() {
	atomic.StoreInt32(&p.canceled, 1)
	if p.cancelFn != nil {
		p.cancelFn()
	}
}

// Abort requests immediate shutdown (internal fatal sibling or an
// unverified subscriber, spec.md §4.10): running processes are terminated,
// via the same context that every dispatched handler's process spawn is
// rooted in.
func (p *Pipeline) Abort() {
	atomic.StoreInt32(&p.aborted, 1)
	p.Cancel()
	if p.abortFn != nil {
		p.abortFn()
	}
}

// Run dispatches every node in Graph, respecting topological order, and
// blocks until the graph is drained or the run is canceled/aborted.
func (p *Pipeline) Run(parent context.Context) Result {
	start := time.Now()

	cancelCtx, cancelFn := context.WithCancel(parent)
	abortCtx, abortFn := context.WithCancel(parent)
	p.cancelFn = cancelFn
	p.abortFn = abortFn
	defer cancelFn()
	defer abortFn()

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	it := actiongraph.NewReadyIterator(p.Graph)
	n := p.Graph.NodeCount()
	actions := make([]model.Action, n)
	resolved := make([]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	markSkipped := func(i int, status model.ActionStatus) {
		mu.Lock()
		if !resolved[i] {
			a := model.NewAction(i, p.Graph.Node(i))
			a.Status = status
			a.EndedAt = time.Now()
			a.Error = (&model.AbortedError{Reason: string(status)}).Error()
			actions[i] = a
			resolved[i] = true
		}
		mu.Unlock()
	}

	stop := cancelCtx.Done()

dispatchLoop:
	for {
		idx, ok := it.Ready(stop)
		if !ok {
			if atomic.LoadInt32(&p.canceled) == 1 {
				// Drain whatever remains as Skipped so every node resolves.
				for i := 0; i < n; i++ {
					markSkipped(i, model.StatusSkipped)
				}
			}
			break dispatchLoop
		}

		if err := sem.Acquire(cancelCtx, 1); err != nil {
			skipStatus := model.StatusSkipped
			if atomic.LoadInt32(&p.aborted) == 1 {
				skipStatus = model.StatusFailedAndAbort
			}
			markSkipped(idx, skipStatus)
			it.Skip(idx, func(dep int) { markSkipped(dep, skipStatus) })
			continue
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			status := p.runOne(abortCtx, i, &mu, actions, resolved)
			if status.IsFailure() {
				// A failed node never unblocks its dependents (spec.md
				// testable property 3 and 8): cascade Skipped down every
				// transitive dependent instead of completing it.
				it.Skip(i, func(dep int) { markSkipped(dep, model.StatusSkipped) })
			} else {
				it.Complete(i)
			}
		}(idx)
	}

	wg.Wait()

	status := StatusCompleted
	switch {
	case atomic.LoadInt32(&p.aborted) == 1:
		status = StatusAborted
	case atomic.LoadInt32(&p.canceled) == 1:
		status = StatusInterrupted
	}

	return Result{Actions: actions, Status: status, Duration: time.Since(start)}
}

func (p *Pipeline) runOne(ctx context.Context, i int, mu *sync.Mutex, actions []model.Action, resolved []bool) model.ActionStatus {
	node := p.Graph.Node(i)
	action := model.NewAction(i, node)
	mu.Lock()
	actions[i] = action
	mu.Unlock()

	if p.Emit != nil {
		p.Emit("ActionStarted", &action)
	}

	status, err := p.Dispatcher.Dispatch(ctx, &action)
	action.Status = status
	action.EndedAt = time.Now()
	if err != nil {
		action.Error = err.Error()
	}

	mu.Lock()
	actions[i] = action
	resolved[i] = true
	mu.Unlock()

	if p.Emit != nil {
		if abort := p.Emit("ActionCompleted", &action); abort {
			p.Abort()
		}
	}
	if status.IsFailure() && p.OnFailure == OnFailureBail {
		p.Abort()
	}
	return status
}
