// Package projectgraph is the one concrete collaborators.ProjectGraphProvider
// this repo ships: a loader for an already-resolved, flat JSON manifest of
// projects and tasks. Building that manifest from a tree of per-project
// config files with "extends" inheritance and workspace-glob discovery is
// out of scope here — this package only deserializes the resolved output
// such a builder would produce.
//
// Carries an explicit schemaVersion field and decodes with json.Decoder
// without DisallowUnknownFields, for forward compatibility; internal/runreport
// does the same with its version field and json.Unmarshal.
package projectgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/targetscope"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

const manifestSchemaVersion = 1

// UnsupportedSchemaVersionError is returned when a manifest declares a
// schemaVersion this loader doesn't understand.
type UnsupportedSchemaVersionError struct {
	Got int
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("projectgraph manifest schemaVersion %d is not supported (want %d)", e.Got, manifestSchemaVersion)
}

type manifestDependency struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

type manifestTaskOptions struct {
	Cache                bool   `json:"cache"`
	RetryCount           int    `json:"retryCount"`
	Persistent           bool   `json:"persistent"`
	RunInCI              bool   `json:"runInCI"`
	OutputStyle          string `json:"outputStyle"`
	EnvMergeStrategy     string `json:"envMergeStrategy"`
	ArgsMergeStrategy    string `json:"argsMergeStrategy"`
	AffectedFiles        bool   `json:"affectedFiles"`
	EnvFile              string `json:"envFile"`
	Shell                bool   `json:"shell"`
	RunFromWorkspaceRoot bool   `json:"runFromWorkspaceRoot"`
}

type manifestTask struct {
	Command     string               `json:"command"`
	Args        []string             `json:"args"`
	Env         map[string]string    `json:"env"`
	Deps        []string             `json:"deps"`
	InputFiles  []string             `json:"inputFiles"`
	InputGlobs  []string             `json:"inputGlobs"`
	InputEnv    []string             `json:"inputEnv"`
	OutputFiles []string             `json:"outputFiles"`
	OutputGlobs []string             `json:"outputGlobs"`
	Toolchains  []string             `json:"toolchains"`
	Options     manifestTaskOptions  `json:"options"`
}

type manifestProject struct {
	ID           string                  `json:"id"`
	SourcePath   string                  `json:"sourcePath"`
	Language     string                  `json:"language"`
	Toolchains   []string                `json:"toolchains"`
	Tags         []string                `json:"tags"`
	Dependencies []manifestDependency    `json:"dependencies"`
	Tasks        map[string]manifestTask `json:"tasks"`
}

type manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	Projects      []manifestProject `json:"projects"`
}

// Provider is a collaborators.ProjectGraphProvider backed by a single
// parsed manifest file, held immutable for the lifetime of one pipeline
// run (spec.md §1 Non-goals: no live reload).
type Provider struct {
	byID map[string]model.Project
}

var _ interface {
	Project(ctx context.Context, id string) (model.Project, error)
	AllProjects(ctx context.Context) ([]model.Project, error)
} = (*Provider)(nil)

// Load reads and parses the project manifest at path.
func Load(path turbopath.AbsoluteSystemPath) (*Provider, error) {
	f, err := os.Open(path.ToString())
	if err != nil {
		return nil, fmt.Errorf("opening project manifest: %w", err)
	}
	defer f.Close()

	var m manifest
	dec := json.NewDecoder(f)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing project manifest: %w", err)
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, &UnsupportedSchemaVersionError{Got: m.SchemaVersion}
	}

	byID := make(map[string]model.Project, len(m.Projects))
	for _, p := range m.Projects {
		project, err := convertProject(p)
		if err != nil {
			return nil, err
		}
		byID[project.ID] = project
	}
	return &Provider{byID: byID}, nil
}

func convertProject(p manifestProject) (model.Project, error) {
	deps := make([]model.ProjectDependency, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		scope := model.ScopeProd
		if d.Scope != "" {
			scope = model.DependencyScope(d.Scope)
		}
		deps = append(deps, model.ProjectDependency{ID: d.ID, Scope: scope})
	}

	tasks := make(map[string]model.Task, len(p.Tasks))
	for id, t := range p.Tasks {
		taskDeps := make([]model.Target, 0, len(t.Deps))
		for _, raw := range t.Deps {
			target, err := model.ParseTarget(raw)
			if err != nil {
				return model.Project{}, fmt.Errorf("project %s task %s: %w", p.ID, id, err)
			}
			taskDeps = append(taskDeps, target)
		}

		tasks[id] = model.Task{
			ID:          id,
			Command:     t.Command,
			Args:        t.Args,
			Env:         t.Env,
			Deps:        taskDeps,
			InputFiles:  t.InputFiles,
			InputGlobs:  t.InputGlobs,
			InputEnv:    t.InputEnv,
			OutputFiles: t.OutputFiles,
			OutputGlobs: t.OutputGlobs,
			Toolchains:  t.Toolchains,
			Options: model.TaskOptions{
				Cache:                t.Options.Cache,
				RetryCount:           t.Options.RetryCount,
				Persistent:           t.Options.Persistent,
				RunInCI:              t.Options.RunInCI,
				OutputStyle:          model.OutputStyle(orDefault(t.Options.OutputStyle, string(model.OutputFull))),
				EnvMergeStrategy:     model.MergeStrategy(orDefault(t.Options.EnvMergeStrategy, string(model.MergeReplace))),
				ArgsMergeStrategy:    model.MergeStrategy(orDefault(t.Options.ArgsMergeStrategy, string(model.MergeReplace))),
				AffectedFiles:        t.Options.AffectedFiles,
				EnvFile:              t.Options.EnvFile,
				Shell:                t.Options.Shell,
				RunFromWorkspaceRoot: t.Options.RunFromWorkspaceRoot,
			},
		}
	}

	return model.Project{
		ID:           p.ID,
		SourcePath:   p.SourcePath,
		Language:     p.Language,
		Toolchains:   p.Toolchains,
		Tags:         p.Tags,
		Dependencies: deps,
		Tasks:        tasks,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Project implements collaborators.ProjectGraphProvider.
func (p *Provider) Project(ctx context.Context, id string) (model.Project, error) {
	project, ok := p.byID[id]
	if !ok {
		return model.Project{}, &targetscope.UnknownProjectError{ProjectID: id}
	}
	return project, nil
}

// AllProjects implements collaborators.ProjectGraphProvider, returning
// every project sorted by ID for deterministic iteration order.
func (p *Provider) AllProjects(ctx context.Context) ([]model.Project, error) {
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.byID[id])
	}
	return out, nil
}
