package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/worktree"
)

// TaskOutcome is how one task ended.
type TaskOutcome struct {
	TaskID   string
	QueueID  string
	Level    int
	Status   queue.Status
	Worker   string
	Result   *queue.Result
	Worktree string
	Merge    *worktree.MergeResult // nil unless a merge was attempted
	Reason   string                // why the task was cancelled
	Resumed  bool                  // completed by an earlier run, not executed
	Err      error                 // merge or cleanup failure after the task finished
}

// Report summarizes a run.
type Report struct {
	Levels   []scheduler.Level
	Started  time.Time
	Finished time.Time

	mu       sync.Mutex
	outcomes map[string]*TaskOutcome
}

func newReport(levels []scheduler.Level, started time.Time) *Report {
	return &Report{
		Levels:   levels,
		Started:  started,
		outcomes: make(map[string]*TaskOutcome),
	}
}

func (r *Report) set(o TaskOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[o.TaskID] = &o
}

func (r *Report) status(taskID string) (queue.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[taskID]
	if !ok {
		return "", false
	}
	return o.Status, true
}

// Outcome returns the outcome of one task.
func (r *Report) Outcome(taskID string) (TaskOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.outcomes[taskID]
	if !ok {
		return TaskOutcome{}, false
	}
	return *o, true
}

// Outcomes returns every outcome ordered by level, then task ID.
func (r *Report) Outcomes() []TaskOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskOutcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Stats counts outcomes per status.
func (r *Report) Stats() queue.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s queue.Stats
	for _, o := range r.outcomes {
		switch o.Status {
		case queue.StatusPending:
			s.Pending++
		case queue.StatusInProgress:
			s.InProgress++
		case queue.StatusCompleted:
			s.Completed++
		case queue.StatusFailed:
			s.Failed++
		case queue.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Succeeded reports whether every task of the plan completed.
func (r *Report) Succeeded() bool {
	total := 0
	for _, level := range r.Levels {
		total += len(level)
	}
	return r.Stats().Completed == total
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
