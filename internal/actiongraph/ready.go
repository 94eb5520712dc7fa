package actiongraph

import "sync"

// ReadyIterator yields node indices whose dependencies have all completed
// successfully, per spec.md §4.5. The pipeline's job dispatcher drains
// Ready(), dispatches each index, and calls Complete once the job
// finishes; Complete pushes any newly-unblocked dependents back onto the
// ready channel. A node whose dependency failed is never completed and so
// never unblocks its dependents, which is how topological-on-success
// ordering (spec.md testable property 3) is enforced.
type ReadyIterator struct {
	g *Graph

	mu        sync.Mutex
	remaining []int // remaining[i] = count of not-yet-completed deps for node i
	done      []bool
	started   []bool

	ready chan int
	left  int // nodes neither completed nor failed-skipped
}

// NewReadyIterator constructs an iterator over g. All nodes with no
// dependencies are immediately enqueued as ready.
func NewReadyIterator(g *Graph) *ReadyIterator {
	n := g.NodeCount()
	it := &ReadyIterator{
		g:         g,
		remaining: make([]int, n),
		done:      make([]bool, n),
		started:   make([]bool, n),
		ready:     make(chan int, n),
		left:      n,
	}
	for i := 0; i < n; i++ {
		it.remaining[i] = len(g.Dependencies(i))
		if it.remaining[i] == 0 {
			it.started[i] = true
			it.ready <- i
		}
	}
	return it
}

// Ready blocks until a node is ready to dispatch, the iterator is
// exhausted (ok=false), or stop is closed.
func (it *ReadyIterator) Ready(stop <-chan struct{}) (idx int, ok bool) {
	select {
	case idx, ok = <-it.ready:
		return idx, ok
	case <-stop:
		return 0, false
	}
}

// Complete marks node i as finished with a non-failing status, decrementing
// the remaining-dependency count of every dependent and enqueueing any
// that just became ready. It closes the ready channel once every node has
// been resolved one way or another.
func (it *ReadyIterator) Complete(i int) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.done[i] {
		return
	}
	it.done[i] = true
	it.left--

	for _, dep := range it.g.Dependents(i) {
		if it.done[dep] || it.started[dep] {
			continue
		}
		it.remaining[dep]--
		if it.remaining[dep] == 0 {
			it.started[dep] = true
			it.ready <- dep
		}
	}
	if it.left == 0 {
		close(it.ready)
	}
}

// Skip marks node i as permanently unresolved (its dependency failed, or
// the pipeline is aborting) and cascades the same treatment to every
// dependent, transitively, since none of them can ever become ready. The
// caller is responsible for recording the resulting Skipped/
// FailedAndAbort status on every node this call resolves; onSkip is
// invoked once for each dependent cascaded this way (not for i itself,
// which the caller already knows about).
func (it *ReadyIterator) Skip(i int, onSkip func(dependent int)) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.skipLocked(i, onSkip)
}

func (it *ReadyIterator) skipLocked(i int, onSkip func(dependent int)) {
	if it.done[i] {
		return
	}
	it.done[i] = true
	it.left--

	for _, dep := range it.g.Dependents(i) {
		if it.done[dep] {
			continue
		}
		if onSkip != nil {
			onSkip(dep)
		}
		it.skipLocked(dep, onSkip)
	}

	if it.left == 0 {
		close(it.ready)
	}
}

// Remaining reports how many nodes have not yet been resolved.
func (it *ReadyIterator) Remaining() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.left
}
