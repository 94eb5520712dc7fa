// Package planner is the "plan" step spec.md §3 refers to in the Action
// Graph lifecycle: it resolves a set of requested targets against a
// project graph into a frozen actiongraph.Graph, recursively walking each
// task's declared dependencies, wiring SyncWorkspace/SyncProject/
// SetupToolchain/InstallDependencies per spec.md §4.5's edge rules, and
// producing the per-RunTask-node taskrunner.Plan skeleton the orchestrator
// hands to the task runner at dispatch time.
//
// Grounded on the teacher's internal/graph (TaskGraph construction from a
// PackageGraph plus each package.json's pipeline declarations): generalized
// from turbo's implicit "depends on the same task in every workspace dep"
// rule to moon's explicit per-task Deps target list and toolchain-scoped
// install nodes.
package planner

import (
	"context"
	"fmt"

	"github.com/moonrepo/pipeline-core/internal/actiongraph"
	"github.com/moonrepo/pipeline-core/internal/collaborators"
	"github.com/moonrepo/pipeline-core/internal/hashengine"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/targetscope"
)

// RunTaskPlan is everything the planner resolved about one RunTask node
// that the orchestrator needs to build a taskrunner.Plan once its
// dependency hashes are known at dispatch time.
type RunTaskPlan struct {
	Target            model.Target
	Task              model.Task
	ToolchainVersions []string

	// DependencyNodeIndices maps each declared dependency's Target.String()
	// (the exact key taskhash.Hasher.HashTask looks digests up by) to the
	// RunTask node index that produces it, for the orchestrator to look up
	// once-completed dependency digests (spec.md §4.8: "a dep's hash must
	// be present before hashing").
	DependencyNodeIndices map[string]int
}

// Result is the frozen graph plus every RunTask node's resolved plan,
// keyed by node index.
type Result struct {
	Graph *actiongraph.Graph
	Plans map[int]RunTaskPlan
}

// ToolchainRequires optionally maps a toolchain id to the other toolchain
// ids it must be set up after (spec.md §4.5: "setup_toolchain(tk) may
// depend on other setup_toolchain nodes per a toolchain-level requires
// list"). A nil map means no toolchain declares cross-dependencies.
type ToolchainRequires map[string][]string

// Planner resolves requested targets into a frozen action graph.
type Planner struct {
	Projects collaborators.ProjectGraphProvider
	Expander *targetscope.Expander

	// ToolchainVersions maps a toolchain id to the version string
	// SetupToolchain should install, typically sourced from
	// config.WorkspaceConfig.ToolchainVersions.
	ToolchainVersions map[string]string
	Requires          ToolchainRequires

	// Monorepo selects InstallDependencies' scoping rule (spec.md §3):
	// workspace-scoped (ProjectID empty) when true, project-scoped when
	// false (polyrepo).
	Monorepo bool

	// Affected, when non-nil, restricts the requested targets (not their
	// transitive dependencies, which must still be graphed to satisfy
	// ordering) to those whose declared input files intersect it. A task
	// that declares any input_glob is conservatively treated as
	// potentially affected, since glob expansion against the touched-file
	// set requires the filesystem walk this package intentionally stays
	// out of (that's taskhash's job).
	Affected map[string]struct{}
}

// New constructs a Planner.
func New(projects collaborators.ProjectGraphProvider, expander *targetscope.Expander) *Planner {
	return &Planner{Projects: projects, Expander: expander}
}

func (p *Planner) isAffected(task model.Task) bool {
	if p.Affected == nil {
		return true
	}
	if len(task.InputGlobs) > 0 {
		return true
	}
	for _, f := range task.InputFiles {
		if _, ok := p.Affected[f]; ok {
			return true
		}
	}
	return false
}

// planState threads the shared builder and memoization tables through the
// recursive resolution of one requested target and its transitive deps.
type planState struct {
	builder      *actiongraph.Builder
	plans        map[int]RunTaskPlan
	visiting     map[string]bool // cycle guard, keyed by target string
	runTaskIndex map[string]int  // target string -> RunTask node index, memoized
}

// Plan resolves requested (a mix of scope kinds) into a frozen action
// graph. requested targets that fail the affected filter are dropped from
// the entry set but may still be included if some other requested target
// depends on them.
func (p *Planner) Plan(ctx context.Context, requested []model.Target) (*Result, error) {
	expanded, err := p.Expander.Expand(ctx, requested)
	if err != nil {
		return nil, fmt.Errorf("expanding targets: %w", err)
	}

	st := &planState{
		builder:      actiongraph.NewBuilder(),
		plans:        make(map[int]RunTaskPlan),
		visiting:     make(map[string]bool),
		runTaskIndex: make(map[string]int),
	}
	st.builder.SyncWorkspace()

	for _, target := range expanded {
		project, err := p.Projects.Project(ctx, target.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("resolving project %s: %w", target.ProjectID, err)
		}
		task, ok := project.Tasks[target.TaskID]
		if !ok {
			return nil, &model.UnknownTargetError{Target: target.String()}
		}
		if !p.isAffected(task) {
			continue
		}
		if _, err := p.resolveRunTask(ctx, st, target); err != nil {
			return nil, err
		}
	}

	graph, err := st.builder.Build()
	if err != nil {
		return nil, err
	}
	return &Result{Graph: graph, Plans: st.plans}, nil
}

// resolveRunTask recursively builds the RunTask node for target and every
// transitive task dependency, memoizing by target string so a task shared
// by multiple requested entry points is only resolved once (spec.md §3,
// "Each node appears at most once per build").
func (p *Planner) resolveRunTask(ctx context.Context, st *planState, target model.Target) (int, error) {
	key := target.String()
	if idx, ok := st.runTaskIndex[key]; ok {
		return idx, nil
	}
	if st.visiting[key] {
		return 0, &model.CycleError{Labels: []string{key}}
	}
	st.visiting[key] = true
	defer delete(st.visiting, key)

	project, err := p.Projects.Project(ctx, target.ProjectID)
	if err != nil {
		return 0, fmt.Errorf("resolving project %s: %w", target.ProjectID, err)
	}
	task, ok := project.Tasks[target.TaskID]
	if !ok {
		return 0, &model.UnknownTargetError{Target: key}
	}

	toolchains := task.Toolchains
	if len(toolchains) == 0 {
		toolchains = project.Toolchains
	}
	if len(toolchains) == 0 {
		return 0, &model.UnknownToolchainError{ToolchainID: "(none declared for " + key + ")"}
	}
	primary := toolchains[0]

	installProject := target.ProjectID
	if p.Monorepo {
		installProject = ""
	}
	installIdx := st.builder.InstallDeps(primary, p.ToolchainVersions[primary], installProject)
	for _, tc := range toolchains[1:] {
		st.builder.SetupToolchain(tc, p.ToolchainVersions[tc], p.Requires[tc])
	}
	st.builder.SetupToolchain(primary, p.ToolchainVersions[primary], p.Requires[primary])

	// task.Deps is already the resolved dependency list (spec.md §3, "Task
	// (resolved)": deps[target]) — each entry is expected to be a
	// fully-qualified Project(id):task_id target, config-time resolution
	// of any sigil scope having already happened upstream of the project
	// graph provider. taskhash.Hasher.HashTask looks digests up keyed by
	// each dep's exact Target.String(), so that's the key this map uses.
	depByKey := make(map[string]int, len(task.Deps))
	depIndices := make([]int, 0, len(task.Deps))
	for _, dep := range task.Deps {
		if dep.Scope != model.ScopeProject {
			return 0, fmt.Errorf("task %s declares unresolved dependency scope %q (%s): expected a fully-qualified project:task target", key, dep.Scope, dep.String())
		}
		depIdx, err := p.resolveRunTask(ctx, st, dep)
		if err != nil {
			return 0, err
		}
		depByKey[dep.String()] = depIdx
		depIndices = append(depIndices, depIdx)
	}

	idx := st.builder.RunTask(target, primary, installIdx, depIndices)
	st.runTaskIndex[key] = idx

	versions := make([]string, len(toolchains))
	for i, tc := range toolchains {
		versions[i] = p.ToolchainVersions[tc]
	}
	st.plans[idx] = RunTaskPlan{
		Target:                target,
		Task:                  task,
		ToolchainVersions:     versions,
		DependencyNodeIndices: depByKey,
	}
	return idx, nil
}

// DependencyDigests looks up the already-computed digest for every
// dependency target in byKey from digestOf, returning a target-string-keyed
// map ready for taskhash.Hasher.HashTask. A missing entry (dependency not
// yet completed, or completed without a digest e.g. it was Skipped) is
// simply omitted; the caller decides whether that's fatal (spec.md §4.8's
// MissingDependencyHash).
func DependencyDigests(byKey map[string]int, digestOf func(nodeIndex int) (hashengine.Digest, bool)) map[string]hashengine.Digest {
	out := make(map[string]hashengine.Digest, len(byKey))
	for depKey, idx := range byKey {
		d, ok := digestOf(idx)
		if !ok {
			continue
		}
		out[depKey] = d
	}
	return out
}
