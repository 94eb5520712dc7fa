// Package model holds the data types shared across the action pipeline:
// action nodes, targets, resolved tasks and projects, and the action
// record produced when a node is executed.
package model

import "fmt"

// NodeKind identifies which ActionNode variant a node carries.
type NodeKind string

const (
	KindSyncWorkspace     NodeKind = "SyncWorkspace"
	KindSyncProject       NodeKind = "SyncProject"
	KindSetupToolchain    NodeKind = "SetupToolchain"
	KindInstallDeps       NodeKind = "InstallDependencies"
	KindRunTask           NodeKind = "RunTask"
)

// ActionNode is the tagged-variant terminal unit of scheduled work described
// in spec.md §3. Equality and hashing are by Label (logical identity), never
// by Go struct identity, since two helper calls constructing the "same"
// node must collapse to a single graph vertex.
type ActionNode struct {
	Kind NodeKind

	// ProjectID is set for SyncProject, InstallDeps (project-scoped) and RunTask.
	ProjectID string

	// ToolchainID and Version are set for SetupToolchain, and ToolchainID
	// alone for InstallDeps.
	ToolchainID string
	Version     string

	// Target is set for RunTask only.
	Target Target
}

// Label returns the node's logical identity string. Two ActionNodes with
// equal labels are the same node for graph de-duplication purposes.
func (n ActionNode) Label() string {
	switch n.Kind {
	case KindSyncWorkspace:
		return "SyncWorkspace"
	case KindSyncProject:
		return fmt.Sprintf("SyncProject(%s)", n.ProjectID)
	case KindSetupToolchain:
		return fmt.Sprintf("SetupToolchain(%s@%s)", n.ToolchainID, n.Version)
	case KindInstallDeps:
		if n.ProjectID == "" {
			return fmt.Sprintf("InstallDependencies(%s)", n.ToolchainID)
		}
		return fmt.Sprintf("InstallDependencies(%s,%s)", n.ToolchainID, n.ProjectID)
	case KindRunTask:
		return fmt.Sprintf("RunTask(%s)", n.Target.String())
	default:
		return fmt.Sprintf("Unknown(%s)", n.Kind)
	}
}

// SyncWorkspaceNode constructs the single per-run workspace sync node.
func SyncWorkspaceNode() ActionNode {
	return ActionNode{Kind: KindSyncWorkspace}
}

// SyncProjectNode constructs a per-project sync node.
func SyncProjectNode(projectID string) ActionNode {
	return ActionNode{Kind: KindSyncProject, ProjectID: projectID}
}

// SetupToolchainNode constructs a toolchain install node.
func SetupToolchainNode(toolchainID, version string) ActionNode {
	return ActionNode{Kind: KindSetupToolchain, ToolchainID: toolchainID, Version: version}
}

// InstallDepsNode constructs a dependency-install node. projectID is empty
// for workspace-scoped (monorepo) installs.
func InstallDepsNode(toolchainID, projectID string) ActionNode {
	return ActionNode{Kind: KindInstallDeps, ToolchainID: toolchainID, ProjectID: projectID}
}

// RunTaskNode constructs the value-bearing leaf node for a single task.
func RunTaskNode(target Target, toolchainID string) ActionNode {
	return ActionNode{Kind: KindRunTask, Target: target, ProjectID: target.ProjectID, ToolchainID: toolchainID}
}
