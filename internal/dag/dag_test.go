package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode_Idempotent(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	g.AddNode("a")
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Has("a"))
	assert.False(t, g.Has("b"))
}

func TestAddEdge(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	g.AddNode("b")

	require.NoError(t, g.AddEdge("a", "b"))
	deps, err := g.Dependencies("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, deps)
	dependents, err := g.Dependents("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, dependents)

	assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential")
	assert.ErrorContains(t, g.AddEdge("dne", "b"), "not found")
	assert.ErrorContains(t, g.AddEdge("a", "dne"), "not found")
}

func TestLayers(t *testing.T) {
	t.Parallel()

	// a -> b -> d, a -> c -> d
	g := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "d"))
	require.NoError(t, g.AddEdge("c", "d"))

	layers, cycle := g.Layers()
	require.Nil(t, cycle)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, layers)

	order, cycle := g.TopoOrder()
	require.Nil(t, cycle)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestLayers_ReportsCycle(t *testing.T) {
	t.Parallel()

	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("root")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "a"))

	layers, cycle := g.Layers()
	assert.Nil(t, layers)
	assert.Equal(t, []string{"a", "b"}, cycle, "only unreducible nodes are reported")
}

func TestTransitiveDependents(t *testing.T) {
	t.Parallel()

	// a -> b -> c, a -> d, e isolated
	g := New()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		g.AddNode(id)
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("a", "d"))

	assert.Equal(t, []string{"b", "c", "d"}, g.TransitiveDependents([]string{"a"}))
	assert.Equal(t, []string{"c"}, g.TransitiveDependents([]string{"b"}))
	assert.Empty(t, g.TransitiveDependents([]string{"e"}))
	assert.Empty(t, g.TransitiveDependents([]string{"missing"}))
}
