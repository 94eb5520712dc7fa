package model

import (
	"fmt"
	"strings"
)

// ScopeKind is the scope portion of a Target, as defined in spec.md §3.
// Only ScopeProject targets survive into the executed action graph; the
// rest are expanded by the graph builder during planning.
type ScopeKind string

const (
	ScopeAll     ScopeKind = "all"     // ":task"
	ScopeDeps    ScopeKind = "deps"    // "^:task"
	ScopeOwnSelf ScopeKind = "ownself" // "~:task"
	ScopeProject ScopeKind = "project" // "project:task"
	ScopeTag     ScopeKind = "tag"     // "#tag:task"
)

// Target is (scope, task_id). ProjectID carries the project id for
// ScopeProject and the tag for ScopeTag, and is empty otherwise.
type Target struct {
	Scope     ScopeKind
	ProjectID string
	TaskID    string
}

// String renders the canonical "project:task" form used for labels, logs
// and the run report. Non-project scopes render with their sigil prefix.
func (t Target) String() string {
	switch t.Scope {
	case ScopeAll:
		return ":" + t.TaskID
	case ScopeDeps:
		return "^:" + t.TaskID
	case ScopeOwnSelf:
		return "~:" + t.TaskID
	case ScopeTag:
		return fmt.Sprintf("#%s:%s", t.ProjectID, t.TaskID)
	default:
		return fmt.Sprintf("%s:%s", t.ProjectID, t.TaskID)
	}
}

// NewProjectTarget builds a fully-qualified Project(id):task target, the
// only kind that appears in the frozen action graph.
func NewProjectTarget(projectID, taskID string) Target {
	return Target{Scope: ScopeProject, ProjectID: projectID, TaskID: taskID}
}

// ParseTarget is the inverse of Target.String: it parses the sigil-prefixed
// CLI/config target syntax from spec.md §3 into a Target. Accepted forms
// are ":task" (all), "^:task" (deps), "~:task" (ownself), "#tag:task"
// (tag), and "project:task" (project).
func ParseTarget(raw string) (Target, error) {
	switch {
	case strings.HasPrefix(raw, "^:"):
		return Target{Scope: ScopeDeps, TaskID: raw[2:]}, nil
	case strings.HasPrefix(raw, "~:"):
		return Target{Scope: ScopeOwnSelf, TaskID: raw[2:]}, nil
	case strings.HasPrefix(raw, ":"):
		return Target{Scope: ScopeAll, TaskID: raw[1:]}, nil
	case strings.HasPrefix(raw, "#"):
		rest := raw[1:]
		idx := strings.Index(rest, ":")
		if idx < 0 {
			return Target{}, fmt.Errorf("invalid tag target %q: expected #tag:task", raw)
		}
		return Target{Scope: ScopeTag, ProjectID: rest[:idx], TaskID: rest[idx+1:]}, nil
	default:
		idx := strings.Index(raw, ":")
		if idx < 0 {
			return Target{}, fmt.Errorf("invalid target %q: expected project:task", raw)
		}
		return NewProjectTarget(raw[:idx], raw[idx+1:]), nil
	}
}
