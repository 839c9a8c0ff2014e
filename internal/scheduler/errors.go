package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycleDetected is matched by every *CycleError.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrDanglingEdge is matched by every *DanglingEdgeError.
	ErrDanglingEdge = errors.New("dangling dependency edge")
	// ErrDuplicateTask is returned when a task ID is added twice.
	ErrDuplicateTask = errors.New("duplicate task")
)

// CycleError names the tasks on a dependency cycle. When found by DFS the
// nodes are in cycle order with the first node repeated at the end.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Nodes, " -> "))
}

func (e *CycleError) Is(target error) bool { return target == ErrCycleDetected }

// DanglingEdgeError reports a dependency on a task that is not in the graph.
type DanglingEdgeError struct {
	TaskID    string
	MissingID string
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("%s: task %q depends on non-existent task %q", ErrDanglingEdge, e.TaskID, e.MissingID)
}

func (e *DanglingEdgeError) Is(target error) bool { return target == ErrDanglingEdge }
