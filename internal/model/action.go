package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus is the terminal or in-flight state of a single Action,
// ported from moon's action status enum (original_source/crates/action/src/lib.rs).
type ActionStatus string

const (
	StatusRunning        ActionStatus = "running"
	StatusPassed         ActionStatus = "passed"
	StatusCached         ActionStatus = "cached"
	StatusFailed         ActionStatus = "failed"
	StatusFailedAndAbort ActionStatus = "failed-and-abort"
	StatusSkipped        ActionStatus = "skipped"
	StatusInvalid        ActionStatus = "invalid"
)

// IsComplete reports whether the action has left the Running state.
func (s ActionStatus) IsComplete() bool {
	return s != StatusRunning
}

// IsFailure reports whether the status represents a failed outcome.
func (s ActionStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusFailedAndAbort || s == StatusInvalid
}

// OperationKind names one step the task runner performed while executing
// an action, recorded for the run report.
type OperationKind string

const (
	OpHashManifest   OperationKind = "hash-manifest"
	OpCacheCheck     OperationKind = "cache-check"
	OpOutputHydrate  OperationKind = "output-hydrate"
	OpProcessExecute OperationKind = "process-execute"
	OpOutputArchive  OperationKind = "output-archive"
	OpCacheUpload    OperationKind = "cache-upload"
)

// Operation is a single timed step within an action's execution, mirroring
// moon's Operation record (original_source/crates/action/src/lib.rs).
type Operation struct {
	Kind      OperationKind
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  *int32
	Error     string
}

// Duration returns how long the operation ran.
func (o Operation) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}

// Action is the per-execution record produced when an ActionNode runs
// through the pipeline. NodeIndex ties it back to its position in the
// frozen graph for the run report and for dependency-result lookups.
type Action struct {
	ID        uuid.UUID
	NodeIndex int
	Label     string

	Node ActionNode

	Status     ActionStatus
	Error      string
	Operations []Operation

	// Digest is the full hash-manifest digest computed for a RunTask
	// action, set once the hash phase completes. Empty for node kinds
	// that never hash (SyncWorkspace, SyncProject, SetupToolchain,
	// InstallDeps) and for actions that failed before hashing. Dependents
	// read it off an already-completed Action to chain dependency hashes
	// (spec.md §4.6, "a dep's hash must be present before hashing").
	Digest string

	StartedAt time.Time
	EndedAt   time.Time

	// Attempts counts process execution attempts, including retries.
	Attempts int
}

// Duration returns the wall-clock time spent on the action end to end.
func (a Action) Duration() time.Duration {
	if a.EndedAt.IsZero() {
		return time.Since(a.StartedAt)
	}
	return a.EndedAt.Sub(a.StartedAt)
}

// NewAction constructs a fresh, running Action record for a node about to
// be dispatched.
func NewAction(nodeIndex int, node ActionNode) Action {
	return Action{
		ID:        uuid.New(),
		NodeIndex: nodeIndex,
		Label:     node.Label(),
		Node:      node,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}
