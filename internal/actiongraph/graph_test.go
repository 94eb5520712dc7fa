package actiongraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/model"
)

func TestBuilderDeduplicatesByLabel(t *testing.T) {
	b := NewBuilder()
	first := b.SyncWorkspace()
	second := b.SyncWorkspace()
	assert.Equal(t, first, second, "two calls constructing the same logical node must collapse to one vertex")
	assert.Equal(t, 1, len(b.nodes))
}

func TestLinearDAGEdgesAndTopologicalIndexing(t *testing.T) {
	b := NewBuilder()
	install := b.InstallDeps("system", "1.0", "a")
	runA := b.RunTask(model.NewProjectTarget("a", "build"), "system", install, nil)
	runB := b.RunTask(model.NewProjectTarget("b", "build"), "system", install, []int{runA})

	g, err := b.Build()
	require.NoError(t, err)

	assert.Contains(t, g.Dependencies(runB), runA, "b:build must depend on a:build")
	assert.Contains(t, g.Dependents(runA), runB)
}

func TestCycleDetected(t *testing.T) {
	b := NewBuilder()
	x := b.addNode(model.RunTaskNode(model.NewProjectTarget("a", "x"), "system"))
	y := b.addNode(model.RunTaskNode(model.NewProjectTarget("b", "y"), "system"))
	b.connect(x, y)
	b.connect(y, x)

	_, err := b.Build()
	require.Error(t, err)
	var cycleErr *model.CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Labels)
}

func TestGraphDeterminismAcrossBuilds(t *testing.T) {
	build := func() (*Graph, error) {
		b := NewBuilder()
		install := b.InstallDeps("system", "1.0", "a")
		run := b.RunTask(model.NewProjectTarget("a", "build"), "system", install, nil)
		_ = run
		return b.Build()
	}

	g1, err := build()
	require.NoError(t, err)
	g2, err := build()
	require.NoError(t, err)

	require.Equal(t, g1.NodeCount(), g2.NodeCount())
	for i := 0; i < g1.NodeCount(); i++ {
		assert.Equal(t, g1.Label(i), g2.Label(i))
		assert.Equal(t, g1.Dependencies(i), g2.Dependencies(i))
	}
}

func TestSetupToolchainRequires(t *testing.T) {
	b := NewBuilder()
	idx := b.SetupToolchain("node", "20", []string{"system"})
	g, err := b.Build()
	require.NoError(t, err)

	deps := g.Dependencies(idx)
	require.Len(t, deps, 1)
	assert.Equal(t, "SetupToolchain(system@20)", g.Label(deps[0]))
}
