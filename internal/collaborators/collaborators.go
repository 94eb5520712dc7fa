// Package collaborators sketches the contracts this pipeline consumes
// from, but does not implement, systems outside its scope (spec.md §6):
// the project graph provider, the toolchain/WASM plugin host, and the
// console reporter. The VCS adapter contract is defined here too. Two of
// these contracts have concrete implementations elsewhere in this module:
// the VCS adapter in internal/vcs and the console reporter in
// internal/console.
package collaborators

import (
	"context"

	"github.com/moonrepo/pipeline-core/internal/model"
)

// ProjectGraphProvider yields resolved Project records. Constructing this
// graph from on-disk configuration is explicitly out of scope (spec.md §1
// Non-goals); the pipeline only ever consumes its output.
type ProjectGraphProvider interface {
	Project(ctx context.Context, id string) (model.Project, error)
	AllProjects(ctx context.Context) ([]model.Project, error)
}

// VCSAdapter answers questions about the repository's version control
// state: which files changed, their content hashes, and branch identity.
type VCSAdapter interface {
	TouchedFilesSince(ctx context.Context, rev string) (map[string]struct{}, error)
	FileHashes(ctx context.Context, paths []string) (map[string]string, error)
	LocalBranch(ctx context.Context) (string, error)
	DefaultBranch(ctx context.Context) (string, error)

	// ListFiles returns every tracked-or-untracked-but-not-ignored file in
	// the working tree, for hasher.walkStrategy=vcs (spec.md §4.6): a
	// glob-expansion candidate list sourced from the VCS instead of a raw
	// filesystem walk.
	ListFiles(ctx context.Context) ([]string, error)
}

// ToolchainPluginHost invokes a WASM (or otherwise sandboxed) toolchain
// plugin over a bounded JSON-in/JSON-out interface (spec.md §9). A plugin
// failure must yield a structured error, never a panic or a host crash.
type ToolchainPluginHost interface {
	Setup(ctx context.Context, toolchainID, version string) ([]model.Operation, error)
	InstallDependencies(ctx context.Context, toolchainID string, projectID string) ([]model.Operation, error)
	AugmentCommand(ctx context.Context, toolchainID string, cmd []string, env map[string]string) ([]string, map[string]string, error)
}

// ConsoleReporter renders pipeline progress to the user. Its render method
// takes an opaque "element" describing structured output (e.g. a table or
// a checkpoint list); this package does not define that type, since the
// console's rendering vocabulary is itself out of scope.
type ConsoleReporter interface {
	OnActionStarted(action model.Action)
	OnActionRunning(action model.Action)
	OnActionCompleted(action model.Action)
	WriteLine(line string)
	Render(element interface{})
}
