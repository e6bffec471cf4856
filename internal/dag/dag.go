// SPDX-License-Identifier: MPL-2.0

// Package dag orders named nodes by "must come before" edges and reports
// cycles with the offending path. The matrix file uses it to resolve
// environment inheritance: a base set must be resolved before every
// environment that inherits it.
package dag

import (
	"fmt"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle. Cycle lists the
	// nodes along one cycle, with the first node repeated at the end.
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph keyed by node name. An edge from A to B means
	// A must be ordered before B.
	Graph struct {
		adjacency map[string][]string
		nodes     []string
		nodeSet   map[string]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from must be ordered before to.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// TopologicalSort returns an order compatible with every edge (Kahn's
// algorithm). Nodes on the same level keep insertion order.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, n := range neighbors {
			inDegree[n]++
		}
	}

	var queue []string
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, n := range g.adjacency[node] {
			inDegree[n]--
			if inDegree[n] == 0 {
				queue = append(queue, n)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, &CycleError{Cycle: g.findCycle()}
	}
	return result, nil
}

// findCycle walks the graph depth-first and returns the first back edge as a
// closed path.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(string) bool
	visit = func(node string) bool {
		color[node] = grey
		stack = append(stack, node)
		for _, n := range g.adjacency[node] {
			switch color[n] {
			case grey:
				for i, s := range stack {
					if s == n {
						cycle = append(append([]string{}, stack[i:]...), n)
						return true
					}
				}
			case white:
				if visit(n) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return false
	}

	for _, node := range g.nodes {
		if color[node] == white && visit(node) {
			return cycle
		}
	}
	return nil
}
