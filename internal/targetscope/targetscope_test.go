package targetscope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/model"
)

type fakeProjects struct {
	byID map[string]model.Project
}

func (f *fakeProjects) Project(ctx context.Context, id string) (model.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return model.Project{}, &UnknownProjectError{ProjectID: id}
	}
	return p, nil
}

func (f *fakeProjects) AllProjects(ctx context.Context) ([]model.Project, error) {
	out := make([]model.Project, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func newFixture() *fakeProjects {
	return &fakeProjects{byID: map[string]model.Project{
		"a": {ID: "a", Tags: []string{"frontend"}, Tasks: map[string]model.Task{"build": {ID: "build"}}},
		"b": {
			ID:           "b",
			Tags:         []string{"backend"},
			Dependencies: []model.ProjectDependency{{ID: "a", Scope: model.ScopeProd}},
			Tasks:        map[string]model.Task{"build": {ID: "build"}},
		},
		"c": {ID: "c", Tasks: map[string]model.Task{"lint": {ID: "lint"}}},
	}}
}

func TestExpandAllReturnsEveryProjectDeclaringTask(t *testing.T) {
	e := New(newFixture(), "")
	out, err := e.Expand(context.Background(), []model.Target{{Scope: model.ScopeAll, TaskID: "build"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a:build", out[0].String())
	assert.Equal(t, "b:build", out[1].String())
}

func TestExpandProjectScopePassesThroughUnchanged(t *testing.T) {
	e := New(newFixture(), "")
	target := model.NewProjectTarget("c", "lint")
	out, err := e.Expand(context.Background(), []model.Target{target})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, target, out[0])
}

func TestExpandOwnSelfRequiresCurrentProject(t *testing.T) {
	e := New(newFixture(), "")
	_, err := e.Expand(context.Background(), []model.Target{{Scope: model.ScopeOwnSelf, TaskID: "build"}})
	require.Error(t, err)
	var unknownErr *UnknownProjectError
	assert.ErrorAs(t, err, &unknownErr)
}

func TestExpandOwnSelfResolvesCurrentProject(t *testing.T) {
	e := New(newFixture(), "a")
	out, err := e.Expand(context.Background(), []model.Target{{Scope: model.ScopeOwnSelf, TaskID: "build"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a:build", out[0].String())
}

func TestExpandDepsWalksTransitiveDependencies(t *testing.T) {
	e := New(newFixture(), "b")
	out, err := e.Expand(context.Background(), []model.Target{{Scope: model.ScopeDeps, TaskID: "build"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a:build", out[0].String())
}

func TestExpandTagFiltersByDeclaredTag(t *testing.T) {
	e := New(newFixture(), "")
	out, err := e.Expand(context.Background(), []model.Target{{Scope: model.ScopeTag, ProjectID: "frontend", TaskID: "build"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a:build", out[0].String())
}

func TestExpandDedupesAcrossScopes(t *testing.T) {
	e := New(newFixture(), "")
	out, err := e.Expand(context.Background(), []model.Target{
		model.NewProjectTarget("a", "build"),
		{Scope: model.ScopeAll, TaskID: "build"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2) // a:build and b:build, "a:build" deduped across both inputs
}
