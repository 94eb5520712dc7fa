// Package events is the pipeline's typed event stream. The emitter awaits
// subscribers sequentially per event so ordering is preserved per
// subscriber; subscriber errors are logged, never fatal, except the
// webhook subscriber which may explicitly signal abort.
//
// Ships a small trio of built-in subscribers (cleanup, remote-flush,
// webhooks) plus a telemetry subscriber, all implementing the same
// on_emit-style contract.
package events

import (
	"time"

	"github.com/moonrepo/pipeline-core/internal/model"
)

// Kind identifies the event variant, matching the representative set in
// spec.md §4.11.
type Kind string

const (
	PipelineStarted   Kind = "PipelineStarted"
	PipelineCompleted Kind = "PipelineCompleted"
	ActionStarted     Kind = "ActionStarted"
	ActionCompleted   Kind = "ActionCompleted"
	TaskRan           Kind = "TaskRan"
	CacheHit          Kind = "CacheHit"
	CacheMiss         Kind = "CacheMiss"
	OutputArchived    Kind = "OutputArchived"
	OutputHydrated    Kind = "OutputHydrated"
)

// Event is one point-in-time occurrence emitted by the pipeline. Fields
// not applicable to Kind are left at their zero value.
type Event struct {
	Kind Kind
	At   time.Time

	ActionCount int
	Status      string
	Duration    time.Duration

	Action  *model.Action
	Attempt int
	Hash    string
}

// Subscriber reacts to events one at a time, in emission order. Returning
// a non-nil error only logs; a Subscriber that also implements Aborter and
// reports ShouldAbort() == true additionally trips the pipeline's internal
// abort token.
type Subscriber interface {
	OnEmit(e Event) error
}

// Aborter is an optional interface a Subscriber implements when it can
// request pipeline-wide abort (only the webhook subscriber does today).
type Aborter interface {
	ShouldAbort() bool
}

// Emitter fans an Event out to every registered Subscriber, sequentially
// per subscriber, so each subscriber sees strict FIFO ordering while
// distinct subscribers may be scheduled independently by the caller.
type Emitter struct {
	subscribers []Subscriber
	onError     func(sub Subscriber, event Event, err error)
}

// New constructs an empty Emitter. The pipeline constructs one per run
// with the desired subscriber set (spec.md §9: "owned by the emitter, not
// a global").
func New(onError func(sub Subscriber, event Event, err error)) *Emitter {
	return &Emitter{onError: onError}
}

// Subscribe registers sub to receive all future events.
func (em *Emitter) Subscribe(sub Subscriber) {
	em.subscribers = append(em.subscribers, sub)
}

// Emit delivers e to every subscriber in registration order, awaiting each
// before moving to the next (per spec.md §5, "Event emission is FIFO per
// subscriber"). It returns true if any subscriber signaled abort.
func (em *Emitter) Emit(e Event) (abort bool) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, sub := range em.subscribers {
		if err := sub.OnEmit(e); err != nil && em.onError != nil {
			em.onError(sub, e, err)
		}
		if a, ok := sub.(Aborter); ok && a.ShouldAbort() {
			abort = true
		}
	}
	return abort
}
