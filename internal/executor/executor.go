// Package executor runs a task's work inside its worktree.
//
// An Executor reports two kinds of failure. A task that ran and failed
// (non-zero exit, failing checks) is a Result with Success false and a nil
// error. An error return means the task could not be run at all, e.g. the
// command could not start; those are the failures worth retrying.
package executor

import (
	"context"
	"errors"

	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

// ErrInvalidCommand is returned when the configured command cannot be built
// for a task. Retrying does not help.
var ErrInvalidCommand = errors.New("invalid executor command")

// Executor performs one task in workDir.
type Executor interface {
	Execute(ctx context.Context, task scheduler.Task, workDir string) (queue.Result, error)
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, task scheduler.Task, workDir string) (queue.Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, task scheduler.Task, workDir string) (queue.Result, error) {
	return f(ctx, task, workDir)
}
