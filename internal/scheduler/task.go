package scheduler

import (
	"sort"
	"time"

	"github.com/aristath/taskforge/internal/artifact"
)

// Task represents a unit of work: usually one artifact to produce, but the
// artifact may be nil for ad-hoc tasks.
type Task struct {
	ID                string             // Unique identifier
	Name              string             // Human-readable name
	Artifact          *artifact.Artifact // Artifact this task produces (optional)
	Priority          int                // Higher is more urgent
	Target            string             // Worker this task is addressed to ("" = any)
	AssignedWorktree  string             // Set once a worktree is allocated
	EstimatedDuration time.Duration      // Zero when unknown
}

// TaskNode wraps a Task with its edges. dependencies must finish before the
// task starts; dependents wait on it. Both sets are kept symmetric by
// DependencyGraph.
type TaskNode struct {
	Task         Task
	dependencies map[string]struct{}
	dependents   map[string]struct{}
}

func newTaskNode(task Task) *TaskNode {
	return &TaskNode{
		Task:         task,
		dependencies: make(map[string]struct{}),
		dependents:   make(map[string]struct{}),
	}
}

// InDegree is the number of tasks that must finish first.
func (n *TaskNode) InDegree() int { return len(n.dependencies) }

// IsRoot reports whether the task can be scheduled immediately.
func (n *TaskNode) IsRoot() bool { return len(n.dependencies) == 0 }

// DependsOn reports whether id is a direct dependency.
func (n *TaskNode) DependsOn(id string) bool {
	_, ok := n.dependencies[id]
	return ok
}

// Dependencies returns the direct dependency IDs, sorted.
func (n *TaskNode) Dependencies() []string { return sortedKeys(n.dependencies) }

// Dependents returns the direct dependent IDs, sorted.
func (n *TaskNode) Dependents() []string { return sortedKeys(n.dependents) }

func (n *TaskNode) clone() *TaskNode {
	cp := newTaskNode(n.Task)
	for id := range n.dependencies {
		cp.dependencies[id] = struct{}{}
	}
	for id := range n.dependents {
		cp.dependents[id] = struct{}{}
	}
	return cp
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
