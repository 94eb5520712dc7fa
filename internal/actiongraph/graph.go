// Package actiongraph builds and freezes the directed acyclic graph of
// ActionNodes that the pipeline executes, and exposes the topological
// ready-set iterator the job dispatcher drains.
//
// Wraps github.com/pyr-sh/dag's AcyclicGraph: Add/Connect to build,
// Validate to reject cycles. The ready-set/completion-channel iterator
// below goes beyond a plain dag.Walk traversal, since this package needs
// an explicit, resettable "nodes whose dependencies are all done"
// primitive that the pipeline (not the graph) drives.
package actiongraph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pyr-sh/dag"

	"github.com/moonrepo/pipeline-core/internal/model"
)

// vertex adapts an int node index to satisfy dag.Vertex (an empty
// interface) while giving the graph a stable, hashable identity distinct
// from the node's own equality-by-label rule — the index is the graph's
// notion of identity, the label is the node's.
type vertex int

func (v vertex) Hashcode() interface{} { return int(v) }

// Builder incrementally constructs an action graph, de-duplicating nodes
// by their logical label as required by spec.md §3.
type Builder struct {
	g          dag.AcyclicGraph
	indexByKey map[string]int
	nodes      []model.ActionNode
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{indexByKey: make(map[string]int)}
}

// addNode returns the existing index for node if one was already added
// with the same label, or registers a new one.
func (b *Builder) addNode(node model.ActionNode) int {
	key := node.Label()
	if idx, ok := b.indexByKey[key]; ok {
		return idx
	}
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node)
	b.indexByKey[key] = idx
	b.g.Add(vertex(idx))
	return idx
}

func (b *Builder) connect(from, to int) {
	if from == to {
		return
	}
	b.g.Connect(dag.BasicEdge(vertex(from), vertex(to)))
}

// SyncWorkspace registers the single per-run workspace sync node.
func (b *Builder) SyncWorkspace() int {
	return b.addNode(model.SyncWorkspaceNode())
}

// SyncProject registers a project sync node depending on SyncWorkspace.
func (b *Builder) SyncProject(projectID string) int {
	idx := b.addNode(model.SyncProjectNode(projectID))
	b.connect(idx, b.SyncWorkspace())
	return idx
}

// SetupToolchain registers a toolchain install node, optionally depending
// on other toolchains via a requires list (spec.md §4.5).
func (b *Builder) SetupToolchain(toolchainID, version string, requires []string) int {
	idx := b.addNode(model.SetupToolchainNode(toolchainID, version))
	for _, req := range requires {
		reqIdx := b.addNode(model.SetupToolchainNode(req, version))
		b.connect(idx, reqIdx)
	}
	return idx
}

// InstallDeps registers a dependency install node. projectID is empty for
// a workspace-scoped (monorepo) install. toolchainVersion resolves the
// SetupToolchain dependency this install requires.
func (b *Builder) InstallDeps(toolchainID, toolchainVersion, projectID string) int {
	idx := b.addNode(model.InstallDepsNode(toolchainID, projectID))
	b.connect(idx, b.SetupToolchain(toolchainID, toolchainVersion, nil))
	return idx
}

// RunTask registers a task node. taskDeps are the node indices of the
// target's declared task dependencies (already resolved to
// Project(id):task targets); toolchainID is the task's toolchain, already
// installed via installIdx.
func (b *Builder) RunTask(target model.Target, toolchainID string, installIdx int, taskDeps []int) int {
	idx := b.addNode(model.RunTaskNode(target, toolchainID))
	b.connect(idx, installIdx)
	b.connect(idx, b.SyncProject(target.ProjectID))
	for _, dep := range taskDeps {
		b.connect(idx, dep)
	}
	return idx
}

// IndexOf returns the index of an already-added node by its label, and
// whether it exists.
func (b *Builder) IndexOf(node model.ActionNode) (int, bool) {
	idx, ok := b.indexByKey[node.Label()]
	return idx, ok
}

// Build validates the graph for cycles (Tarjan's SCC via dag.Validate) and
// freezes it into a Graph. Any strongly connected component of size > 1
// is reported as a CycleError naming every label in the chain.
func (b *Builder) Build() (*Graph, error) {
	if err := b.g.Validate(); err != nil {
		return nil, &model.CycleError{Labels: cycleLabels(err.Error(), b.nodes)}
	}

	n := len(b.nodes)
	deps := make([][]int, n)
	dependents := make([][]int, n)
	for i := range b.nodes {
		down := b.g.DownEdges(vertex(i))
		for _, raw := range down.List() {
			j := int(raw.(vertex))
			deps[i] = append(deps[i], j)
			dependents[j] = append(dependents[j], i)
		}
		sort.Ints(deps[i])
	}

	return &Graph{
		nodes:      b.nodes,
		deps:       deps,
		dependents: dependents,
	}, nil
}

// cycleLabels best-effort extracts node labels from dag's cycle error text,
// falling back to every node's label if parsing fails, which is always a
// safe (if noisy) superset for diagnostics.
func cycleLabels(msg string, nodes []model.ActionNode) []string {
	var found []string
	for _, n := range nodes {
		if strings.Contains(msg, fmt.Sprint(n.Label())) {
			found = append(found, n.Label())
		}
	}
	if len(found) == 0 {
		for _, n := range nodes {
			found = append(found, n.Label())
		}
	}
	return found
}

// Graph is a frozen, validated action graph: a flat node vector plus
// integer edge lists, per spec.md §9 ("no back-pointers from node to
// graph; the pipeline passes the graph in by reference").
type Graph struct {
	mu         sync.RWMutex
	nodes      []model.ActionNode
	deps       [][]int
	dependents [][]int
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// Node returns the ActionNode at index i.
func (g *Graph) Node(i int) model.ActionNode { return g.nodes[i] }

// Label returns the label of the node at index i.
func (g *Graph) Label(i int) string { return g.nodes[i].Label() }

// Dependencies returns the indices node i depends on.
func (g *Graph) Dependencies(i int) []int { return g.deps[i] }

// Dependents returns the indices that depend on node i.
func (g *Graph) Dependents(i int) []int { return g.dependents[i] }
