// Package queue implements the priority task queue shared by workers.
//
// Ordering is by Task.Priority descending (higher is more urgent), then by
// CreatedAt, then by admission order, so equal-priority tasks are handed out
// FIFO regardless of how many workers dequeue concurrently.
//
// Tasks may be addressed to a worker through Task.Target. Dequeue("w") only
// returns tasks targeted at "w" or untargeted ones; Dequeue("") returns the
// best pending task overall. Each target has its own heap next to the global
// one, so scoped dequeues and cancellations are O(log n).
package queue

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/scheduler"
)

// Queue is a concurrency-safe priority queue of tasks. Mutations are
// mutually exclusive; queries take a shared lock.
type Queue struct {
	mu       sync.RWMutex
	records  map[string]*QueuedTask
	order    []string          // admission order
	pending  map[string]*entry // queue ID -> heap entry, pending tasks only
	all      *taskHeap
	byTarget map[string]*taskHeap
	seq      uint64

	now     func() time.Time
	newID   func() string
	metrics *metrics.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithIDFunc sets the queue ID generator. Defaults to random UUIDs.
func WithIDFunc(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

// WithMetrics records queue metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		records:  make(map[string]*QueuedTask),
		pending:  make(map[string]*entry),
		all:      &taskHeap{global: true},
		byTarget: make(map[string]*taskHeap),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits a task in Pending status and returns its queue ID. Task IDs
// need not be unique; queue IDs are.
func (q *Queue) Enqueue(task scheduler.Task) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.newID()
	for q.records[id] != nil {
		id = q.newID()
	}

	rec := &QueuedTask{
		ID:        id,
		Task:      task,
		Status:    StatusPending,
		CreatedAt: q.now(),
	}
	q.records[id] = rec
	q.order = append(q.order, id)
	q.push(rec)

	q.metrics.Enqueued(task.Target, len(q.pending))
	return id
}

// Dequeue hands the best eligible pending task to workerID and marks it
// InProgress. It never blocks: (nil, false) means nothing is eligible.
func (q *Queue) Dequeue(workerID string) (*QueuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *entry
	if workerID == "" {
		best = q.all.peek()
	} else {
		best = q.peekTarget(workerID)
		if shared := q.peekTarget(""); shared != nil && (best == nil || before(shared, best)) {
			best = shared
		}
	}
	if best == nil {
		return nil, false
	}

	q.remove(best)

	rec := best.rec
	rec.Status = StatusInProgress
	rec.ProcessedAt = q.now()
	rec.Worker = workerID

	q.metrics.Dequeued(workerID, rec.ProcessedAt.Sub(rec.CreatedAt), len(q.pending))
	return rec.clone(), true
}

// Complete records the result of a Pending or InProgress task, moving it to
// Completed or Failed according to result.Success. Completing a terminal
// task returns ErrInvalidTransition and leaves it unchanged.
func (q *Queue) Complete(id string, result Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, rec.Status)
	}

	if e, pending := q.pending[id]; pending {
		q.remove(e)
	}

	status := StatusFailed
	if result.Success {
		status = StatusCompleted
	}
	r := result
	rec.Result = &r
	q.finish(rec, status)
	return nil
}

// Cancel moves a Pending or InProgress task to Cancelled. A pending task is
// removed from the heaps immediately. Cancelling a task that is already
// terminal is a no-op and returns nil, so cancellation is idempotent.
// Cancelling an InProgress task only updates bookkeeping; the executor must
// be told out of band.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	if e, pending := q.pending[id]; pending {
		q.remove(e)
	}
	q.finish(rec, StatusCancelled)
	return nil
}

// AttachWorktree records the worktree allocated to a task.
func (q *Queue) AttachWorktree(id, path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, rec.Status)
	}
	rec.Task.AssignedWorktree = path
	return nil
}

// Status returns the current status of a task.
func (q *Queue) Status(id string) (Status, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, ok := q.records[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return rec.Status, nil
}

// Result returns the recorded result, or nil if the task has none yet.
func (q *Queue) Result(id string) (*Result, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, ok := q.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if rec.Result == nil {
		return nil, nil
	}
	r := *rec.Result
	return &r, nil
}

// Get returns a copy of the task record.
func (q *Queue) Get(id string) (*QueuedTask, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	rec, ok := q.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return rec.clone(), nil
}

// PendingCount returns the number of tasks waiting to be dequeued.
func (q *Queue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

// List returns copies of all records in admission order.
func (q *Queue) List() []*QueuedTask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]*QueuedTask, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.records[id].clone())
	}
	return out
}

// Stats counts records per status.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s Stats
	for _, rec := range q.records {
		switch rec.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Restore loads previously persisted records into an empty queue.
// InProgress records go back to Pending since their worker is gone.
// Records whose ID is already present are skipped.
func (q *Queue) Restore(records []*QueuedTask) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	sorted := make([]*QueuedTask, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	restored := 0
	for _, r := range sorted {
		if _, exists := q.records[r.ID]; exists {
			continue
		}
		rec := r.clone()
		if rec.Status == StatusInProgress {
			rec.Status = StatusPending
			rec.ProcessedAt = time.Time{}
			rec.Worker = ""
		}
		q.records[rec.ID] = rec
		q.order = append(q.order, rec.ID)
		if rec.Status == StatusPending {
			q.push(rec)
		}
		restored++
	}
	return restored
}

func (q *Queue) push(rec *QueuedTask) {
	q.seq++
	e := &entry{rec: rec, seq: q.seq}
	q.pending[rec.ID] = e
	heap.Push(q.all, e)

	h, ok := q.byTarget[rec.Task.Target]
	if !ok {
		h = &taskHeap{}
		q.byTarget[rec.Task.Target] = h
	}
	heap.Push(h, e)
}

func (q *Queue) remove(e *entry) {
	heap.Remove(q.all, e.globalIdx)

	target := e.rec.Task.Target
	if h, ok := q.byTarget[target]; ok {
		heap.Remove(h, e.targetIdx)
		if h.Len() == 0 {
			delete(q.byTarget, target)
		}
	}
	delete(q.pending, e.rec.ID)
}

func (q *Queue) peekTarget(target string) *entry {
	h, ok := q.byTarget[target]
	if !ok {
		return nil
	}
	return h.peek()
}

func (q *Queue) finish(rec *QueuedTask, status Status) {
	rec.Status = status
	rec.CompletedAt = q.now()

	var ran time.Duration
	if !rec.ProcessedAt.IsZero() {
		ran = rec.CompletedAt.Sub(rec.ProcessedAt)
	}
	q.metrics.Finished(string(status), ran, len(q.pending))
}
