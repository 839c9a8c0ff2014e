package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// Edge means From must finish before To starts.
type Edge struct {
	From string
	To   string
}

// DependencyGraph is a directed acyclic graph of tasks keyed by task ID.
type DependencyGraph struct {
	mu    sync.RWMutex
	nodes map[string]*TaskNode
	order []string // insertion order, for deterministic iteration
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*TaskNode),
	}
}

// AddTask adds a task with no edges. Returns ErrDuplicateTask if the ID exists.
func (g *DependencyGraph) AddTask(task Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[task.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}

	g.nodes[task.ID] = newTaskNode(task)
	g.order = append(g.order, task.ID)
	return nil
}

// AddDependency records that taskID cannot start before dependsOn finishes.
// Both tasks must already exist. A self-dependency is reported as a cycle.
func (g *DependencyGraph) AddDependency(taskID, dependsOn string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[taskID]
	if !ok {
		return fmt.Errorf("task %q not found", taskID)
	}
	dep, ok := g.nodes[dependsOn]
	if !ok {
		return &DanglingEdgeError{TaskID: taskID, MissingID: dependsOn}
	}
	if taskID == dependsOn {
		return &CycleError{Nodes: []string{taskID, taskID}}
	}

	node.dependencies[dependsOn] = struct{}{}
	dep.dependents[taskID] = struct{}{}
	return nil
}

// RemoveDependency drops the edge dependsOn -> taskID if present.
func (g *DependencyGraph) RemoveDependency(taskID, dependsOn string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node, ok := g.nodes[taskID]; ok {
		delete(node.dependencies, dependsOn)
	}
	if dep, ok := g.nodes[dependsOn]; ok {
		delete(dep.dependents, taskID)
	}
}

// Node returns a copy of the node for id.
func (g *DependencyGraph) Node(id string) (*TaskNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return node.clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (g *DependencyGraph) Nodes() []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]*TaskNode, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id].clone())
	}
	return nodes
}

// IDs returns all task IDs in insertion order.
func (g *DependencyGraph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Roots returns the IDs of nodes with no dependencies, sorted.
func (g *DependencyGraph) Roots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var roots []string
	for id, node := range g.nodes {
		if node.IsRoot() {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// Edges returns every edge sorted by (From, To).
func (g *DependencyGraph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []Edge
	for id, node := range g.nodes {
		for dep := range node.dependencies {
			edges = append(edges, Edge{From: dep, To: id})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// SetPriority overrides the priority of a task.
func (g *DependencyGraph) SetPriority(id string, priority int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	node.Task.Priority = priority
	return nil
}

// Validate checks for dangling edges and cycles, then returns a flat
// topological order of the task IDs computed with gammazero/toposort.
func (g *DependencyGraph) Validate() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.checkEdgesLocked(); err != nil {
		return nil, err
	}
	if err := g.detectCycleLocked(); err != nil {
		return nil, err
	}

	var edges []toposort.Edge
	for _, id := range g.order {
		node := g.nodes[id]
		if node.IsRoot() {
			// Edge from nil keeps isolated roots in the output
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range node.Dependencies() {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.nodes) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, id := range g.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// checkEdgesLocked verifies every edge points at an existing node and that
// both sides of each edge agree.
func (g *DependencyGraph) checkEdgesLocked() error {
	for _, id := range g.order {
		node := g.nodes[id]
		for dep := range node.dependencies {
			other, ok := g.nodes[dep]
			if !ok {
				return &DanglingEdgeError{TaskID: id, MissingID: dep}
			}
			if _, ok := other.dependents[id]; !ok {
				return fmt.Errorf("%w: %q lists %q as dependency but not vice versa", ErrDanglingEdge, id, dep)
			}
		}
		for dependent := range node.dependents {
			if _, ok := g.nodes[dependent]; !ok {
				return fmt.Errorf("%w: %q has non-existent dependent %q", ErrDanglingEdge, id, dependent)
			}
		}
	}
	return nil
}
