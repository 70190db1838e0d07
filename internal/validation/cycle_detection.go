// Package validation provides dependency-graph checks over plan steps.
package validation

import (
	"fmt"
	"strings"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
)

// Node is the minimal information needed to order or check a step graph.
// A node depends on every ID in Dependencies.
type Node struct {
	ID           string
	Dependencies []string
}

// TopologicalResult is the outcome of ordering a step graph.
type TopologicalResult struct {
	// Order holds node indexes in a dependency-respecting order.
	Order []int
	// Residual holds, in declaration order, the indexes Kahn's algorithm could
	// not place because of a cycle or a dependency on an unknown ID.
	Residual []int
}

// Complete reports whether every node was placed.
func (r TopologicalResult) Complete() bool { return len(r.Residual) == 0 }

// TopologicalOrder computes a Kahn ordering. The in-degree of a node is its
// full dependency count, so a dangling dependency keeps the node residual.
// The ready set is a FIFO seeded in declaration order, which makes ties
// resolve by original position.
func TopologicalOrder(nodes []Node) TopologicalResult {
	index := indexByID(nodes)
	inDegree := make([]int, len(nodes))
	dependents := make([][]int, len(nodes))

	for i, n := range nodes {
		inDegree[i] = len(n.Dependencies)
		for _, dep := range n.Dependencies {
			if j, ok := index[dep]; ok {
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	placed := make([]bool, len(nodes))
	order := make([]int, 0, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		placed[current] = true

		for _, d := range dependents[current] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	var residual []int
	for i := range nodes {
		if !placed[i] {
			residual = append(residual, i)
		}
	}
	return TopologicalResult{Order: order, Residual: residual}
}

// CycleDetectionResult contains the result of cycle detection
type CycleDetectionResult struct {
	HasCycle bool
	// CyclicNodes lists, in declaration order, indexes of nodes found on a
	// dependency cycle.
	CyclicNodes []int
	// CyclePath is the first cycle found, as IDs, closed on its first element.
	CyclePath    []string
	ErrorMessage string
}

const (
	unvisited = iota
	inProgress
	done
)

type frame struct {
	node int
	next int
}

// DetectCyclicDependencies finds dependency cycles with an iterative
// depth-first traversal over an explicit stack. Each node is unvisited, in
// progress (on the traversal stack) or done. Reaching an in-progress node
// closes a cycle. Low-link bookkeeping groups nodes into strongly connected
// components, so a node whose cycle closes through an already finished
// node is still reported. Dependencies on unknown IDs are ignored here;
// they are reported separately.
func DetectCyclicDependencies(nodes []Node) CycleDetectionResult {
	index := indexByID(nodes)
	state := make([]int, len(nodes))
	order := make([]int, len(nodes))
	low := make([]int, len(nodes))
	onComponent := make([]bool, len(nodes))
	cyclic := make([]bool, len(nodes))
	var component []int
	var firstPath []string
	counter := 0

	visit := func(i int) {
		state[i] = inProgress
		order[i], low[i] = counter, counter
		counter++
		component = append(component, i)
		onComponent[i] = true
	}

	for root := range nodes {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{node: root}}
		visit(root)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := nodes[top.node].Dependencies
			if top.next < len(deps) {
				dep := deps[top.next]
				top.next++

				j, ok := index[dep]
				if !ok {
					continue
				}
				switch state[j] {
				case unvisited:
					visit(j)
					stack = append(stack, frame{node: j})
				case inProgress:
					if j == top.node {
						cyclic[j] = true
					}
					if order[j] < low[top.node] {
						low[top.node] = order[j]
					}
					if firstPath == nil {
						start := len(stack) - 1
						for start > 0 && stack[start].node != j {
							start--
						}
						for _, f := range stack[start:] {
							firstPath = append(firstPath, nodes[f.node].ID)
						}
						firstPath = append(firstPath, nodes[j].ID)
					}
				default:
					if onComponent[j] && order[j] < low[top.node] {
						low[top.node] = order[j]
					}
				}
				continue
			}

			node := top.node
			state[node] = done
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				parent := stack[len(stack)-1].node
				if low[node] < low[parent] {
					low[parent] = low[node]
				}
			}
			if low[node] != order[node] {
				continue
			}
			// node roots a component; pop it
			k := len(component) - 1
			for component[k] != node {
				k--
			}
			members := component[k:]
			component = component[:k]
			for _, m := range members {
				onComponent[m] = false
				if len(members) > 1 {
					cyclic[m] = true
				}
			}
		}
	}

	var members []int
	for i, c := range cyclic {
		if c {
			members = append(members, i)
		}
	}
	if len(members) == 0 {
		return CycleDetectionResult{}
	}
	return CycleDetectionResult{
		HasCycle:     true,
		CyclicNodes:  members,
		CyclePath:    firstPath,
		ErrorMessage: fmt.Sprintf("circular dependency detected: %s", strings.Join(firstPath, " -> ")),
	}
}

// NodesFromSteps projects plan steps onto graph nodes, preserving order.
func NodesFromSteps(steps []*models.PlanStep) []Node {
	nodes := make([]Node, len(steps))
	for i, s := range steps {
		nodes[i] = Node{ID: s.ID, Dependencies: s.Dependencies}
	}
	return nodes
}

// ValidateDAGDependencies is a convenience function that returns an error if cycles exist
func ValidateDAGDependencies(nodes []Node) error {
	result := DetectCyclicDependencies(nodes)
	if result.HasCycle {
		return fmt.Errorf("%s", result.ErrorMessage)
	}
	return nil
}

// indexByID maps each ID to its first declaration.
func indexByID(nodes []Node) map[string]int {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, exists := index[n.ID]; !exists {
			index[n.ID] = i
		}
	}
	return index
}
