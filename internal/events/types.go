package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicLevel    = "level"
	TopicWorktree = "worktree"
	TopicRun      = "run"
)

// Event type constants
const (
	EventTypeTaskQueued      = "task.queued"
	EventTypeTaskStarted     = "task.started"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskFailed      = "task.failed"
	EventTypeTaskCancelled   = "task.cancelled"
	EventTypeTaskMerged      = "task.merged"
	EventTypeLevelStarted    = "level.started"
	EventTypeLevelCompleted  = "level.completed"
	EventTypeWorktreeCreated = "worktree.created"
	EventTypeWorktreeRemoved = "worktree.removed"
	EventTypeProgress        = "run.progress"
)

// TaskQueuedEvent is published when a task is admitted to the queue.
type TaskQueuedEvent struct {
	ID        string
	QueueID   string
	Level     int
	Priority  int
	Timestamp time.Time
}

func (e TaskQueuedEvent) Topic() string     { return TopicTask }
func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a worker begins executing a task.
type TaskStartedEvent struct {
	ID        string
	QueueID   string
	Worker    string
	Worktree  string
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	QueueID   string
	Output    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	QueueID   string
	Err       string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled, either on
// request or because a dependency did not complete.
type TaskCancelledEvent struct {
	ID        string
	QueueID   string
	Reason    string
	Timestamp time.Time
}

func (e TaskCancelledEvent) Topic() string     { return TopicTask }
func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// TaskMergedEvent is published after merging a task's branch is attempted.
type TaskMergedEvent struct {
	ID            string
	Merged        bool
	ConflictFiles []string
	Timestamp     time.Time
}

func (e TaskMergedEvent) Topic() string     { return TopicTask }
func (e TaskMergedEvent) EventType() string { return EventTypeTaskMerged }
func (e TaskMergedEvent) TaskID() string    { return e.ID }

// LevelStartedEvent is published when a level's tasks are enqueued.
type LevelStartedEvent struct {
	Level     int
	Tasks     []string
	Timestamp time.Time
}

func (e LevelStartedEvent) Topic() string     { return TopicLevel }
func (e LevelStartedEvent) EventType() string { return EventTypeLevelStarted }
func (e LevelStartedEvent) TaskID() string    { return "" }

// LevelCompletedEvent is published once every task of a level is terminal.
type LevelCompletedEvent struct {
	Level     int
	Completed int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

func (e LevelCompletedEvent) Topic() string     { return TopicLevel }
func (e LevelCompletedEvent) EventType() string { return EventTypeLevelCompleted }
func (e LevelCompletedEvent) TaskID() string    { return "" }

// WorktreeCreatedEvent is published when a task's worktree is allocated.
type WorktreeCreatedEvent struct {
	ID        string
	Path      string
	Branch    string
	Timestamp time.Time
}

func (e WorktreeCreatedEvent) Topic() string     { return TopicWorktree }
func (e WorktreeCreatedEvent) EventType() string { return EventTypeWorktreeCreated }
func (e WorktreeCreatedEvent) TaskID() string    { return e.ID }

// WorktreeRemovedEvent is published when a task's worktree is reclaimed.
type WorktreeRemovedEvent struct {
	ID        string
	Path      string
	Timestamp time.Time
}

func (e WorktreeRemovedEvent) Topic() string     { return TopicWorktree }
func (e WorktreeRemovedEvent) EventType() string { return EventTypeWorktreeRemoved }
func (e WorktreeRemovedEvent) TaskID() string    { return e.ID }

// ProgressEvent is published whenever run-wide counts change.
type ProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Cancelled int
	Pending   int
	Timestamp time.Time
}

func (e ProgressEvent) Topic() string     { return TopicRun }
func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }
