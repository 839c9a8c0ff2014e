package queue

import (
	"errors"
	"time"

	"github.com/aristath/taskforge/internal/scheduler"
)

var (
	// ErrTaskNotFound is returned when a queue ID is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change is not allowed,
	// e.g. completing a task that is already terminal.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a queued task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Result is what an executor reports for a task.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// QueuedTask is the queue's record of one admitted task.
type QueuedTask struct {
	ID          string
	Task        scheduler.Task
	Status      Status
	Worker      string // worker that dequeued the task
	CreatedAt   time.Time
	ProcessedAt time.Time // zero until dequeued
	CompletedAt time.Time // zero until terminal
	Result      *Result
}

func (t *QueuedTask) clone() *QueuedTask {
	cp := *t
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}

// Stats is a point-in-time count of tasks per status.
type Stats struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Cancelled  int
}

// Total is the number of tasks ever admitted.
func (s Stats) Total() int {
	return s.Pending + s.InProgress + s.Completed + s.Failed + s.Cancelled
}
