package validation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCyclicDependencies_NoCycle(t *testing.T) {
	// Linear chain: A -> B -> C
	nodes := []Node{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
	}

	result := DetectCyclicDependencies(nodes)
	if result.HasCycle {
		t.Errorf("Expected no cycle, but found cycle: %v", result.CyclePath)
	}
	if err := ValidateDAGDependencies(nodes); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestDetectCyclicDependencies_SimpleCycle(t *testing.T) {
	// Cycle: A -> B -> C -> A
	nodes := []Node{
		{ID: "A", Dependencies: []string{"C"}},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
	}

	result := DetectCyclicDependencies(nodes)
	require.True(t, result.HasCycle)
	assert.Equal(t, []int{0, 1, 2}, result.CyclicNodes)
	require.NotEmpty(t, result.CyclePath)
	assert.Equal(t, result.CyclePath[0], result.CyclePath[len(result.CyclePath)-1])
	assert.Contains(t, result.ErrorMessage, "circular dependency")
	assert.Error(t, ValidateDAGDependencies(nodes))
}

func TestDetectCyclicDependencies_SelfLoop(t *testing.T) {
	nodes := []Node{
		{ID: "1"},
		{ID: "2", Dependencies: []string{"2"}},
	}
	result := DetectCyclicDependencies(nodes)
	require.True(t, result.HasCycle)
	assert.Equal(t, []int{1}, result.CyclicNodes)
	assert.Equal(t, []string{"2", "2"}, result.CyclePath)
}

func TestDetectCyclicDependencies_CycleClosedThroughFinishedNode(t *testing.T) {
	// P -> E -> P is found first; D -> E -> P -> D closes through E after
	// E has already been finished.
	nodes := []Node{
		{ID: "P", Dependencies: []string{"E", "D"}},
		{ID: "E", Dependencies: []string{"P"}},
		{ID: "D", Dependencies: []string{"E"}},
		{ID: "X", Dependencies: []string{"P"}},
	}
	result := DetectCyclicDependencies(nodes)
	require.True(t, result.HasCycle)
	assert.Equal(t, []int{0, 1, 2}, result.CyclicNodes, "X only depends on a cycle")
}

func TestDetectCyclicDependencies_DiamondIsAcyclic(t *testing.T) {
	nodes := []Node{
		{ID: "1"},
		{ID: "2", Dependencies: []string{"1"}},
		{ID: "3", Dependencies: []string{"1"}},
		{ID: "4", Dependencies: []string{"2", "3"}},
	}
	assert.False(t, DetectCyclicDependencies(nodes).HasCycle)
}

func TestDetectCyclicDependencies_UnknownDependencyIgnored(t *testing.T) {
	nodes := []Node{{ID: "1", Dependencies: []string{"9"}}}
	assert.False(t, DetectCyclicDependencies(nodes).HasCycle)
}

func TestDetectCyclicDependencies_DeepChainDoesNotRecurse(t *testing.T) {
	const n = 50000
	nodes := make([]Node, n)
	for i := 0; i < n; i++ {
		nodes[i].ID = fmt.Sprint(i)
		if i > 0 {
			nodes[i].Dependencies = []string{fmt.Sprint(i - 1)}
		}
	}
	nodes[0].Dependencies = []string{fmt.Sprint(n - 1)}

	result := DetectCyclicDependencies(nodes)
	require.True(t, result.HasCycle)
	assert.Len(t, result.CyclicNodes, n)
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	nodes := []Node{
		{ID: "4", Dependencies: []string{"2", "3"}},
		{ID: "1"},
		{ID: "2", Dependencies: []string{"1"}},
		{ID: "3", Dependencies: []string{"1"}},
	}
	result := TopologicalOrder(nodes)
	require.True(t, result.Complete())
	require.Len(t, result.Order, 4)

	pos := map[string]int{}
	for p, i := range result.Order {
		pos[nodes[i].ID] = p
	}
	for _, n := range nodes {
		for _, d := range n.Dependencies {
			assert.Less(t, pos[d], pos[n.ID], "%s must precede %s", d, n.ID)
		}
	}
}

func TestTopologicalOrder_TiesFollowDeclarationOrder(t *testing.T) {
	nodes := []Node{
		{ID: "c"},
		{ID: "a"},
		{ID: "b"},
		{ID: "d", Dependencies: []string{"c"}},
		{ID: "e", Dependencies: []string{"c"}},
	}
	result := TopologicalOrder(nodes)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, result.Order)
}

func TestTopologicalOrder_ResidualOnCycleAndDanglingDependency(t *testing.T) {
	nodes := []Node{
		{ID: "1"},
		{ID: "2", Dependencies: []string{"3"}},
		{ID: "3", Dependencies: []string{"2"}},
		{ID: "4", Dependencies: []string{"missing"}},
		{ID: "5", Dependencies: []string{"1"}},
	}
	result := TopologicalOrder(nodes)
	assert.False(t, result.Complete())
	assert.Equal(t, []int{0, 4}, result.Order)
	assert.Equal(t, []int{1, 2, 3}, result.Residual)
}

func TestTopologicalOrder_DuplicateDependencyResolves(t *testing.T) {
	nodes := []Node{
		{ID: "1"},
		{ID: "2", Dependencies: []string{"1", "1"}},
	}
	result := TopologicalOrder(nodes)
	assert.True(t, result.Complete())
	assert.Equal(t, []int{0, 1}, result.Order)
}

func TestTopologicalOrder_Empty(t *testing.T) {
	result := TopologicalOrder(nil)
	assert.True(t, result.Complete())
	assert.Empty(t, result.Order)
}
