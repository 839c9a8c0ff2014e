package scheduler

import (
	"sort"
)

// Level is a set of mutually independent task IDs that may run in parallel.
// IDs are sorted for display only; no order within a level is implied.
type Level []string

// DetectCycle runs a three-colour depth-first search and returns a
// *CycleError naming the first cycle found, or nil.
func (g *DependencyGraph) DetectCycle() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCycleLocked()
}

const (
	white = iota // unvisited
	grey         // on the current DFS path
	black        // finished
)

func (g *DependencyGraph) detectCycleLocked() error {
	colour := make(map[string]int, len(g.nodes))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colour[id] = grey
		path = append(path, id)

		for _, next := range g.nodes[id].Dependents() {
			switch colour[next] {
			case grey:
				// Back edge: the cycle is the path suffix starting at next
				for i, p := range path {
					if p == next {
						cycle := append([]string(nil), path[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		colour[id] = black
		return nil
	}

	ids := append([]string(nil), g.order...)
	sort.Strings(ids)
	for _, id := range ids {
		if colour[id] == white {
			if cycle := visit(id); cycle != nil {
				return &CycleError{Nodes: cycle}
			}
		}
	}
	return nil
}

// Levelize partitions the graph into execution levels. Level 0 holds exactly
// the roots; every edge A->B has level(A) < level(B). A cyclic graph returns
// a *CycleError and no levels.
func Levelize(g *DependencyGraph) ([]Level, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.checkEdgesLocked(); err != nil {
		return nil, err
	}
	if err := g.detectCycleLocked(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.nodes))
	var current []string
	for id, node := range g.nodes {
		indegree[id] = node.InDegree()
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels []Level
	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		levels = append(levels, Level(current))
		placed += len(current)

		var next []string
		for _, id := range current {
			for dependent := range g.nodes[id].dependents {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if placed != len(g.nodes) {
		// Unreachable after detectCycleLocked, kept so a partial result is
		// never returned.
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Nodes: stuck}
	}

	return levels, nil
}

// LevelIndex maps each task ID to the index of its level.
func LevelIndex(levels []Level) map[string]int {
	index := make(map[string]int)
	for i, level := range levels {
		for _, id := range level {
			index[id] = i
		}
	}
	return index
}

// AssignPriorities sets every task's priority to the number of tasks that
// transitively depend on it, so tasks unblocking the most work are dequeued
// first within a level.
func AssignPriorities(g *DependencyGraph) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, node := range g.nodes {
		seen := make(map[string]struct{})
		stack := node.Dependents()
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			for dep := range g.nodes[id].dependents {
				stack = append(stack, dep)
			}
		}
		node.Task.Priority = len(seen)
	}
}
