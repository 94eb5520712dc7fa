// Package dispatcher routes an ActionNode to the handler that implements
// it. It is a pure routing table: no handler may panic, and every fault
// becomes a structured error attached to the Action record (spec.md §4.9).
package dispatcher

import (
	"context"
	"fmt"

	"github.com/moonrepo/pipeline-core/internal/model"
)

// Handler executes one ActionNode and returns the resulting status. It
// must be idempotent (a retried call with the same node produces the same
// observable effect) and must never panic.
type Handler func(ctx context.Context, action *model.Action) (model.ActionStatus, error)

// Dispatcher maps NodeKind to its Handler.
type Dispatcher struct {
	handlers map[model.NodeKind]Handler
}

// New constructs an empty Dispatcher; call Register for each NodeKind
// before use.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[model.NodeKind]Handler)}
}

// Register installs the handler for kind, replacing any previous one.
func (d *Dispatcher) Register(kind model.NodeKind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch routes action.Node to its handler. An unregistered kind is a
// configuration bug, surfaced as a recovered, non-fatal error so a single
// bad node can't crash the pipeline.
func (d *Dispatcher) Dispatch(ctx context.Context, action *model.Action) (status model.ActionStatus, err error) {
	h, ok := d.handlers[action.Node.Kind]
	if !ok {
		return model.StatusInvalid, fmt.Errorf("no handler registered for node kind %q", action.Node.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			status = model.StatusFailed
			err = fmt.Errorf("handler for %s panicked: %v", action.Label, r)
		}
	}()

	return h(ctx, action)
}
