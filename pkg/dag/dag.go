// Package dag builds an execution plan from a workflow's step list: it
// validates step IDs, resolves depends_on edges, detects cycles, and
// produces an ordered set of layers where every step in a layer only
// depends on steps in earlier layers — so the executor can run each
// layer's steps concurrently while still honoring the dependency order.
//
// The layering follows the in-degree / remaining-dependency-count approach
// a Kahn's-algorithm topological sort uses, generalized here from a single
// ready queue to ready "layers" so the workflow executor gets natural
// concurrency batches instead of having to rediscover them itself.
package dag

import (
	"sort"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Node is the subset of a step's shape the builder needs.
type Node struct {
	ID        string
	DependsOn []string
}

// Plan is an ordered list of layers; steps within a layer have no
// dependency relationship to one another and may run concurrently. Layers
// themselves must run in order.
type Plan struct {
	Layers [][]string
}

// Build validates the node set and returns a layered execution plan.
//
// Errors:
//   - ValidationError if a node names a depends_on step that doesn't exist,
//     or if two nodes share an ID.
//   - CycleDetectedError if the dependency relation is not acyclic.
func Build(nodes []Node) (*Plan, error) {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return nil, &apperrors.ValidationError{
				Field:   "id",
				Message: "duplicate step id \"" + n.ID + "\"",
			}
		}
		byID[n.ID] = n
	}

	dependents := make(map[string][]string, len(nodes))
	remaining := make(map[string]int, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, &apperrors.ValidationError{
					Field:   "depends_on",
					Message: "step \"" + n.ID + "\" depends on unknown step \"" + dep + "\"",
				}
			}
			dependents[dep] = append(dependents[dep], n.ID)
		}
		remaining[n.ID] = len(n.DependsOn)
	}

	var layers [][]string
	settled := make(map[string]bool, len(nodes))

	for len(settled) < len(nodes) {
		var ready []string
		for _, n := range nodes {
			if settled[n.ID] {
				continue
			}
			if remaining[n.ID] == 0 {
				ready = append(ready, n.ID)
			}
		}
		if len(ready) == 0 {
			return nil, cycleError(nodes, settled)
		}

		sort.Strings(ready)
		layers = append(layers, ready)
		for _, id := range ready {
			settled[id] = true
		}
		for _, id := range ready {
			for _, dependent := range dependents[id] {
				remaining[dependent]--
			}
		}
	}

	return &Plan{Layers: layers}, nil
}

// cycleError walks the unsettled subgraph to produce a concrete cycle path
// for the error message rather than just reporting that one exists.
func cycleError(nodes []Node, settled map[string]bool) error {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var start string
	for _, n := range nodes {
		if !settled[n.ID] {
			start = n.ID
			break
		}
	}

	visited := make(map[string]bool)
	path := []string{start}
	current := start
	for {
		visited[current] = true
		next := ""
		for _, dep := range byID[current].DependsOn {
			if settled[dep] {
				continue
			}
			next = dep
			break
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if visited[next] {
			break
		}
		current = next
	}

	// Drop any lead-in steps that only depend on the cycle, so the path
	// starts and ends at the same ID.
	last := path[len(path)-1]
	for i, id := range path[:len(path)-1] {
		if id == last {
			path = path[i:]
			break
		}
	}

	return &apperrors.CycleDetectedError{CyclePath: path}
}
