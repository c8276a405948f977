// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package solgraph

// =============================================================================
// Strongly Connected Components (Kosaraju)
// =============================================================================

// dfsFrame is one level of the explicit DFS stack.
type dfsFrame struct {
	node int
	edge int
}

// stronglyConnected labels every node of adj with its component.
//
// Description:
//
//	Kosaraju's algorithm. A forward DFS records finishing order; a second
//	DFS over the transpose, started from nodes in decreasing finish order,
//	collects one component per tree. Both passes use explicit stacks so
//	long step chains cannot exhaust the goroutine stack.
//
// Inputs:
//
//	adj - Adjacency lists over nodes 0..len(adj)-1.
//
// Outputs:
//
//	[]int - Component label per node.
//	int - Number of components.
func stronglyConnected(adj [][]int) ([]int, int) {
	n := len(adj)
	visited := make([]bool, n)
	order := make([]int, 0, n)

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		visited[start] = true
		stack := []dfsFrame{{node: start}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.edge < len(adj[top.node]) {
				next := adj[top.node][top.edge]
				top.edge++
				if !visited[next] {
					visited[next] = true
					stack = append(stack, dfsFrame{node: next})
				}
				continue
			}
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}

	radj := make([][]int, n)
	for u, outs := range adj {
		for _, v := range outs {
			radj[v] = append(radj[v], u)
		}
	}

	comp := make([]int, n)
	for i := range comp {
		comp[i] = -1
	}
	count := 0
	for i := len(order) - 1; i >= 0; i-- {
		root := order[i]
		if comp[root] != -1 {
			continue
		}
		comp[root] = count
		pending := []int{root}
		for len(pending) > 0 {
			u := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			for _, w := range radj[u] {
				if comp[w] == -1 {
					comp[w] = count
					pending = append(pending, w)
				}
			}
		}
		count++
	}
	return comp, count
}
