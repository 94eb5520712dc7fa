// Package targetscope expands the non-project Target scopes
// (All/Deps/OwnSelf/Tag) into the fully-qualified Project(id):task_id
// targets the action graph builder accepts (spec.md §3: "Only
// fully-qualified Project(id):task_id targets appear in the executed
// graph; the others are expanded during graph construction").
//
// Grounded on the teacher's internal/scope/scope.go and
// internal/graph/graph.go, which expand turbo's own `//#task`/`pkg#task`
// filter syntax against a package graph; generalized here to moon's
// sigil-prefixed scope kinds and a collaborators.ProjectGraphProvider.
// Tag matching reuses internal/util/filter's glob-capable
// IncludeExcludeFilter, already a consumer of the teacher's
// github.com/gobwas/glob dependency.
package targetscope

import (
	"context"
	"fmt"
	"sort"

	"github.com/moonrepo/pipeline-core/internal/collaborators"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/util/filter"
)

// UnknownProjectError is returned when an OwnSelf or Deps target is used
// without a resolvable current-project context, and by
// projectgraph.Provider.Project for an id the graph does not contain.
type UnknownProjectError struct {
	ProjectID string
}

func (e *UnknownProjectError) Error() string {
	return fmt.Sprintf("unknown project %q", e.ProjectID)
}

// Expander resolves Target scopes against a project graph.
type Expander struct {
	Projects collaborators.ProjectGraphProvider

	// CurrentProjectID is the project inferred from the invoking working
	// directory, used for ScopeOwnSelf and ScopeDeps. Empty if the
	// invocation has no project context (e.g. a workspace-root run),
	// in which case OwnSelf/Deps targets are rejected.
	CurrentProjectID string
}

// New constructs an Expander.
func New(projects collaborators.ProjectGraphProvider, currentProjectID string) *Expander {
	return &Expander{Projects: projects, CurrentProjectID: currentProjectID}
}

// Expand resolves targets (a mix of scopes) into a de-duplicated, sorted
// list of ScopeProject targets. Targets expanded from the other scopes name
// only projects that declare the requested task_id; a target that is
// already ScopeProject passes through unchanged and is not checked.
func (e *Expander) Expand(ctx context.Context, targets []model.Target) ([]model.Target, error) {
	seen := make(map[string]struct{})
	var out []model.Target

	add := func(t model.Target) {
		key := t.String()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out = append(out, t)
		}
	}

	for _, t := range targets {
		resolved, err := e.expandOne(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, r := range resolved {
			add(r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (e *Expander) expandOne(ctx context.Context, t model.Target) ([]model.Target, error) {
	switch t.Scope {
	case model.ScopeProject:
		return []model.Target{t}, nil

	case model.ScopeAll:
		all, err := e.Projects.AllProjects(ctx)
		if err != nil {
			return nil, err
		}
		return projectsDeclaring(all, t.TaskID), nil

	case model.ScopeOwnSelf:
		if e.CurrentProjectID == "" {
			return nil, &UnknownProjectError{ProjectID: "(none: no current project context)"}
		}
		proj, err := e.Projects.Project(ctx, e.CurrentProjectID)
		if err != nil {
			return nil, err
		}
		if _, ok := proj.Tasks[t.TaskID]; !ok {
			return nil, nil
		}
		return []model.Target{model.NewProjectTarget(proj.ID, t.TaskID)}, nil

	case model.ScopeDeps:
		if e.CurrentProjectID == "" {
			return nil, &UnknownProjectError{ProjectID: "(none: no current project context)"}
		}
		deps, err := e.transitiveDeps(ctx, e.CurrentProjectID)
		if err != nil {
			return nil, err
		}
		return projectsDeclaring(deps, t.TaskID), nil

	case model.ScopeTag:
		all, err := e.Projects.AllProjects(ctx)
		if err != nil {
			return nil, err
		}
		f, err := filter.Compile([]string{t.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("compiling tag filter %q: %w", t.ProjectID, err)
		}
		var matching []model.Project
		for _, p := range all {
			for _, tag := range p.Tags {
				if f != nil && f.Match(tag) {
					matching = append(matching, p)
					break
				}
			}
		}
		return projectsDeclaring(matching, t.TaskID), nil

	default:
		return nil, fmt.Errorf("unknown target scope %q", t.Scope)
	}
}

// transitiveDeps walks projectID's dependency edges breadth-first and
// returns every reachable project (not including projectID itself).
func (e *Expander) transitiveDeps(ctx context.Context, projectID string) ([]model.Project, error) {
	visited := map[string]struct{}{projectID: {}}
	queue := []string{projectID}
	var deps []model.Project

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		proj, err := e.Projects.Project(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, dep := range proj.Dependencies {
			if _, ok := visited[dep.ID]; ok {
				continue
			}
			visited[dep.ID] = struct{}{}
			depProj, err := e.Projects.Project(ctx, dep.ID)
			if err != nil {
				return nil, err
			}
			deps = append(deps, depProj)
			queue = append(queue, dep.ID)
		}
	}
	return deps, nil
}

// projectsDeclaring filters projects down to those that define taskID,
// returning one ScopeProject target each.
func projectsDeclaring(projects []model.Project, taskID string) []model.Target {
	var out []model.Target
	for _, p := range projects {
		if _, ok := p.Tasks[taskID]; ok {
			out = append(out, model.NewProjectTarget(p.ID, taskID))
		}
	}
	return out
}
