package actionhandlers

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/cacheengine"
	"github.com/moonrepo/pipeline-core/internal/config"
	"github.com/moonrepo/pipeline-core/internal/dispatcher"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

type fakeProjects struct {
	byID map[string]model.Project
}

func (f *fakeProjects) Project(ctx context.Context, id string) (model.Project, error) {
	p, ok := f.byID[id]
	if !ok {
		return model.Project{}, errors.New("unknown project")
	}
	return p, nil
}

func (f *fakeProjects) AllProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

type fakeToolchains struct {
	setupErr   error
	installErr error
	setupCalls int
	installCalls int
}

func (f *fakeToolchains) Setup(ctx context.Context, toolchainID, version string) ([]model.Operation, error) {
	f.setupCalls++
	if f.setupErr != nil {
		return nil, f.setupErr
	}
	return []model.Operation{{Kind: model.OpProcessExecute}}, nil
}

func (f *fakeToolchains) InstallDependencies(ctx context.Context, toolchainID, projectID string) ([]model.Operation, error) {
	f.installCalls++
	if f.installErr != nil {
		return nil, f.installErr
	}
	return []model.Operation{{Kind: model.OpProcessExecute}}, nil
}

func (f *fakeToolchains) AugmentCommand(ctx context.Context, toolchainID string, cmd []string, env map[string]string) ([]string, map[string]string, error) {
	return cmd, env, nil
}

func newEngine(t *testing.T) *cacheengine.Engine {
	t.Helper()
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	e, err := cacheengine.New(dir, config.CacheReadWrite)
	require.NoError(t, err)
	return e
}

func clearSkipEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envSkipSyncWorkspace, envSkipSetupToolchain, envSkipInstallDeps, envToolchainForceGlobals} {
		os.Unsetenv(k)
	}
}

func TestSyncWorkspacePassesByDefault(t *testing.T) {
	clearSkipEnv(t)
	h := &Handlers{}
	action := model.NewAction(0, model.SyncWorkspaceNode())
	status, err := h.syncWorkspace(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, status)
}

func TestSyncWorkspaceSkippedByEnvOverride(t *testing.T) {
	clearSkipEnv(t)
	os.Setenv(envSkipSyncWorkspace, "1")
	defer clearSkipEnv(t)

	h := &Handlers{}
	action := model.NewAction(0, model.SyncWorkspaceNode())
	status, err := h.syncWorkspace(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, status)
}

func TestSyncProjectCachesSecondRun(t *testing.T) {
	clearSkipEnv(t)
	projects := &fakeProjects{byID: map[string]model.Project{
		"a": {ID: "a", SourcePath: "packages/a", Language: "go"},
	}}
	h := &Handlers{Projects: projects, Cache: newEngine(t)}

	action1 := model.NewAction(0, model.SyncProjectNode("a"))
	status1, err := h.syncProject(context.Background(), &action1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, status1)

	action2 := model.NewAction(0, model.SyncProjectNode("a"))
	status2, err := h.syncProject(context.Background(), &action2)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCached, status2)
}

func TestSyncProjectUnknownProjectFails(t *testing.T) {
	clearSkipEnv(t)
	h := &Handlers{Projects: &fakeProjects{byID: map[string]model.Project{}}, Cache: newEngine(t)}
	action := model.NewAction(0, model.SyncProjectNode("missing"))
	status, err := h.syncProject(context.Background(), &action)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, status)
}

func TestSetupToolchainMergesOperations(t *testing.T) {
	clearSkipEnv(t)
	tc := &fakeToolchains{}
	h := &Handlers{Toolchains: tc}
	action := model.NewAction(0, model.SetupToolchainNode("node", "18.0.0"))
	status, err := h.setupToolchain(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, status)
	assert.Equal(t, 1, tc.setupCalls)
	require.Len(t, action.Operations, 1)
}

func TestSetupToolchainSkippedWhenForceGlobals(t *testing.T) {
	clearSkipEnv(t)
	os.Setenv(envToolchainForceGlobals, "1")
	defer clearSkipEnv(t)

	tc := &fakeToolchains{}
	h := &Handlers{Toolchains: tc}
	action := model.NewAction(0, model.SetupToolchainNode("node", "18.0.0"))
	status, err := h.setupToolchain(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, status)
	assert.Equal(t, 0, tc.setupCalls)
}

func TestSetupToolchainPropagatesPluginError(t *testing.T) {
	clearSkipEnv(t)
	tc := &fakeToolchains{setupErr: errors.New("plugin boom")}
	h := &Handlers{Toolchains: tc}
	action := model.NewAction(0, model.SetupToolchainNode("node", "18.0.0"))
	status, err := h.setupToolchain(context.Background(), &action)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, status)
}

func TestInstallDepsSkippedByEnvOverride(t *testing.T) {
	clearSkipEnv(t)
	os.Setenv(envSkipInstallDeps, "1")
	defer clearSkipEnv(t)

	tc := &fakeToolchains{}
	h := &Handlers{Toolchains: tc}
	action := model.NewAction(0, model.InstallDepsNode("node", "a"))
	status, err := h.installDeps(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, status)
	assert.Equal(t, 0, tc.installCalls)
}

func TestInstallDepsWorkspaceScoped(t *testing.T) {
	clearSkipEnv(t)
	tc := &fakeToolchains{}
	h := &Handlers{Toolchains: tc}
	action := model.NewAction(0, model.InstallDepsNode("node", ""))
	status, err := h.installDeps(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, status)
	assert.Equal(t, 1, tc.installCalls)
}

func TestRegisterInstallsAllFourHandlers(t *testing.T) {
	clearSkipEnv(t)
	projects := &fakeProjects{byID: map[string]model.Project{
		"a": {ID: "a", SourcePath: "packages/a", Language: "go"},
	}}
	h := &Handlers{Projects: projects, Toolchains: &fakeToolchains{}, Cache: newEngine(t)}
	d := dispatcher.New()
	h.Register(d)

	for _, node := range []model.ActionNode{
		model.SyncWorkspaceNode(),
		model.SyncProjectNode("a"),
		model.SetupToolchainNode("node", "18.0.0"),
		model.InstallDepsNode("node", ""),
	} {
		action := model.NewAction(0, node)
		_, err := d.Dispatch(context.Background(), &action)
		require.NoError(t, err)
	}
}
