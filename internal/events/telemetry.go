package events

import (
	"os"
	"sync"
)

// TelemetrySubscriber counts TaskRan events per task target across a run,
// in CI only. It records target labels, not toolchain ids or versions, and
// makes no outbound network call; Snapshot exposes the counts for a caller
// (e.g. the run report writer) to persist or print.
type TelemetrySubscriber struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewTelemetrySubscriber() *TelemetrySubscriber {
	return &TelemetrySubscriber{counts: make(map[string]int)}
}

// isCI reports whether the CI env var is set, gating telemetry to CI
// environments only (spec.md §4.11, "anonymous toolchain usage in CI").
func isCI() bool {
	v := os.Getenv("CI")
	return v != "" && v != "0" && v != "false"
}

// OnEmit counts one occurrence per TaskRan event, keyed by e.Hash — the
// taskrunner repurposes the hash field to carry the target string for
// this event kind (spec.md §4.11, "TaskRan{task, attempt}") — falling
// back to e.Action.Label when Hash is unset. Outside CI this is a no-op:
// spec.md §4.11 scopes telemetry collection to CI runs only.
func (s *TelemetrySubscriber) OnEmit(e Event) error {
	if e.Kind != TaskRan || !isCI() {
		return nil
	}
	key := e.Hash
	if key == "" && e.Action != nil {
		key = e.Action.Label
	}
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return nil
}

// Snapshot returns a copy of the current per-label usage counts.
func (s *TelemetrySubscriber) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
