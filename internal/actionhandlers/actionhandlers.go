// Package actionhandlers wires the four ActionNode kinds that aren't
// RunTask (SyncWorkspace, SyncProject, SetupToolchain, InstallDependencies)
// to their dispatcher.Handler implementations. RunTask's handler lives in
// internal/taskrunner, since it's the bulk of the executor; these four are
// thin adapters onto the out-of-scope collaborators (spec.md §6) plus the
// MOON_SKIP_* phase overrides and MOON_TOOLCHAIN_FORCE_GLOBALS named in
// spec.md §6's environment variable table.
//
// Grounded on the teacher's internal/core dispatch switch, which routes a
// task-graph node to one of a handful of small handler funcs rather than a
// type hierarchy; idempotence here is delegated to
// cacheengine.Engine.ExecuteIfChanged, the same helper spec.md §4.2 names
// for this exact purpose ("idempotence helper").
package actionhandlers

import (
	"context"
	"fmt"
	"os"

	"github.com/moonrepo/pipeline-core/internal/cacheengine"
	"github.com/moonrepo/pipeline-core/internal/collaborators"
	"github.com/moonrepo/pipeline-core/internal/dispatcher"
	"github.com/moonrepo/pipeline-core/internal/model"
)

const (
	envSkipSyncWorkspace     = "MOON_SKIP_SYNC_WORKSPACE"
	envSkipSetupToolchain    = "MOON_SKIP_SETUP_TOOLCHAIN"
	envSkipInstallDeps       = "MOON_SKIP_INSTALL_DEPS"
	envToolchainForceGlobals = "MOON_TOOLCHAIN_FORCE_GLOBALS"
)

func envFlag(name string) bool {
	v := os.Getenv(name)
	return v != "" && v != "0" && v != "false"
}

// Handlers bundles the collaborators this package's four handlers call
// into. Projects is required; Toolchains and Cache may be nil, in which
// case SetupToolchain/InstallDependencies/SyncProject degrade to no-ops
// that report Passed (a workspace with no toolchain plugin host configured
// still has a graph that executes, it just never does real install work).
type Handlers struct {
	Projects   collaborators.ProjectGraphProvider
	Toolchains collaborators.ToolchainPluginHost
	Cache      *cacheengine.Engine
}

// Register installs all four handlers onto d.
func (h *Handlers) Register(d *dispatcher.Dispatcher) {
	d.Register(model.KindSyncWorkspace, h.syncWorkspace)
	d.Register(model.KindSyncProject, h.syncProject)
	d.Register(model.KindSetupToolchain, h.setupToolchain)
	d.Register(model.KindInstallDeps, h.installDeps)
}

// syncWorkspace ensures workspace-level generated state (e.g. root
// lockfiles, codegen manifests) is current. There's exactly one of these
// nodes per run (spec.md §3); MOON_SKIP_SYNC_WORKSPACE short-circuits it
// to Skipped without calling any collaborator, for environments that
// already ran sync out of band.
func (h *Handlers) syncWorkspace(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
	if envFlag(envSkipSyncWorkspace) {
		return model.StatusSkipped, nil
	}
	// Workspace sync has no dedicated collaborator contract in spec.md §6
	// beyond the project graph provider already covering per-project
	// state; a bare workspace-level sync is a successful no-op until a
	// concrete sync mechanism (e.g. root-level codegen) is configured.
	return model.StatusPassed, nil
}

// syncProject ensures one project's on-disk generated state is current,
// idempotent via ExecuteIfChanged keyed on the project's resolved fields
// so an unchanged project is skipped on every rerun within the cache's
// lifetime. spec.md §6 names no per-project sync override (only the
// workspace-wide MOON_SKIP_SYNC_WORKSPACE, which gates syncWorkspace
// above), so this handler relies solely on ExecuteIfChanged's own
// idempotence rather than reusing that workspace-scoped flag.
func (h *Handlers) syncProject(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
	projectID := action.Node.ProjectID
	if h.Projects == nil || h.Cache == nil {
		return model.StatusPassed, nil
	}

	project, err := h.Projects.Project(ctx, projectID)
	if err != nil {
		return model.StatusFailed, fmt.Errorf("sync project %s: %w", projectID, err)
	}

	ran := false
	key := "projects/" + projectID
	hashInput := struct {
		SourcePath string
		Language   string
		Toolchains []string
	}{project.SourcePath, project.Language, project.Toolchains}

	if err := h.Cache.ExecuteIfChanged(key, hashInput, func() error {
		ran = true
		return nil
	}); err != nil {
		return model.StatusFailed, fmt.Errorf("sync project %s: %w", projectID, err)
	}
	if !ran {
		return model.StatusCached, nil
	}
	return model.StatusPassed, nil
}

// setupToolchain delegates installation to the toolchain plugin host,
// merging the Operations it reports onto the action so the run report
// shows what the plugin actually did (spec.md §6, "Returns Operations
// that are merged into the action's operation list").
// MOON_TOOLCHAIN_FORCE_GLOBALS skips plugin-managed install entirely and
// assumes a global toolchain install already satisfies the version
// requirement, matching spec.md §6's env var table.
func (h *Handlers) setupToolchain(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
	if envFlag(envSkipSetupToolchain) || envFlag(envToolchainForceGlobals) {
		return model.StatusSkipped, nil
	}
	if h.Toolchains == nil {
		return model.StatusPassed, nil
	}

	ops, err := h.Toolchains.Setup(ctx, action.Node.ToolchainID, action.Node.Version)
	action.Operations = append(action.Operations, ops...)
	if err != nil {
		return model.StatusFailed, fmt.Errorf("setup toolchain %s@%s: %w", action.Node.ToolchainID, action.Node.Version, err)
	}
	return model.StatusPassed, nil
}

// installDeps resolves and installs dependencies for a project (polyrepo
// layout) or the whole workspace (monorepo layout, ProjectID empty), per
// spec.md §3's InstallDependencies variant.
func (h *Handlers) installDeps(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
	if envFlag(envSkipInstallDeps) {
		return model.StatusSkipped, nil
	}
	if h.Toolchains == nil {
		return model.StatusPassed, nil
	}

	ops, err := h.Toolchains.InstallDependencies(ctx, action.Node.ToolchainID, action.Node.ProjectID)
	action.Operations = append(action.Operations, ops...)
	if err != nil {
		label := action.Node.ToolchainID
		if action.Node.ProjectID != "" {
			label += "," + action.Node.ProjectID
		}
		return model.StatusFailed, fmt.Errorf("install dependencies %s: %w", label, err)
	}
	return model.StatusPassed, nil
}
