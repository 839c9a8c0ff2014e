// Package orchestrator drives a dependency graph to completion: it admits
// one execution level at a time into the queue, lets a pool of workers run
// each task in its own worktree, and reclaims the worktrees afterwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforge/internal/artifact"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/executor"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/worktree"
)

// ErrRunInProgress is returned when Run is called on a busy Runner.
var ErrRunInProgress = errors.New("run already in progress")

// Plan is a validated graph, a flat topological order of its tasks and its
// execution levels.
type Plan struct {
	Graph  *scheduler.DependencyGraph
	Order  []string
	Levels []scheduler.Level
}

// BuildPlan builds the dependency graph of artifacts, ranks tasks by how much
// work they unblock and partitions them into levels.
func BuildPlan(artifacts []artifact.Artifact) (*Plan, error) {
	g, err := scheduler.BuildGraph(artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}
	return PlanGraph(g)
}

// PlanGraph validates and levelizes an existing graph.
func PlanGraph(g *scheduler.DependencyGraph) (*Plan, error) {
	order, err := g.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid dependency graph: %w", err)
	}
	scheduler.AssignPriorities(g)
	levels, err := scheduler.Levelize(g)
	if err != nil {
		return nil, fmt.Errorf("failed to levelize dependency graph: %w", err)
	}
	return &Plan{Graph: g, Order: order, Levels: levels}, nil
}

// Config configures a Runner.
type Config struct {
	Repo                string // Repository worktrees are cut from
	Workers             int    // Concurrent workers (default 4)
	ContinueOnFailure   bool   // Run dependents of failed or cancelled tasks anyway
	MergeOnSuccess      bool   // Merge a completed task's branch into the base branch
	MergeStrategy       worktree.MergeStrategy
	KeepFailedWorktrees bool          // Release failed worktrees for inspection instead of removing them
	HeartbeatInterval   time.Duration // Worktree touch period while a task runs (default 30s)
	Resume              bool          // Skip tasks the store records as completed
}

// Runner executes plans.
type Runner struct {
	cfg       Config
	worktrees *worktree.Manager
	exec      executor.Executor
	queue     *queue.Queue
	bus       *events.EventBus
	store     persistence.Store
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.Mutex
	busy      bool
	total     int
	known     map[string]bool               // task IDs of the current plan
	queueIDs  map[string]string             // task ID -> queue ID
	running   map[string]context.CancelFunc // task ID -> executor cancel
	requested map[string]bool               // cancelled before admission
}

// Option configures a Runner.
type Option func(*Runner)

// WithQueue sets the queue tasks are admitted to.
func WithQueue(q *queue.Queue) Option {
	return func(r *Runner) { r.queue = q }
}

// WithEventBus publishes run events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithStore persists queue and worktree records.
func WithStore(s persistence.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner that allocates worktrees from wt and runs tasks
// with exec.
func NewRunner(cfg Config, wt *worktree.Manager, exec executor.Executor, opts ...Option) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	r := &Runner{
		cfg:       cfg,
		worktrees: wt,
		exec:      exec,
		logger:    logging.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.queue == nil {
		r.queue = queue.New(queue.WithMetrics(r.metrics), queue.WithClock(r.now))
	}
	r.logger = r.logger.WithComponent("runner")
	return r
}

// Queue returns the queue tasks are admitted to.
func (r *Runner) Queue() *queue.Queue { return r.queue }

// Run executes plan level by level. Level k+1 is admitted only once every
// task of level k is terminal. Task failures are reported in the Report,
// not as an error; the error is non-nil only when ctx ended the run early
// or the run could not start.
func (r *Runner) Run(ctx context.Context, plan *Plan) (*Report, error) {
	if err := r.begin(plan); err != nil {
		return nil, err
	}
	defer r.end()

	report := newReport(plan.Levels, r.now())
	r.metrics.Graph(plan.Graph.Len(), len(plan.Levels))

	if r.store != nil {
		if err := r.store.SaveEdges(ctx, plan.Graph.Edges()); err != nil {
			return nil, fmt.Errorf("failed to persist dependency graph: %w", err)
		}
	}
	previous := r.previouslyCompleted(ctx)
	r.reclaimWorktrees(ctx)

	r.logger.Info("run started", "tasks", plan.Graph.Len(), "levels", len(plan.Levels), "workers", r.cfg.Workers)

	for i, level := range plan.Levels {
		r.runLevel(ctx, i, level, plan.Graph, previous, report)
	}

	report.Finished = r.now()
	stats := report.Stats()
	r.logger.Info("run finished",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"duration", report.Duration())

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// Cancel cancels a task of the current run. A pending task is never
// started; a running task's executor context is cancelled and its worktree
// is reclaimed as usual. A task whose level has not been admitted yet is
// cancelled on admission.
func (r *Runner) Cancel(taskID string) error {
	r.mu.Lock()
	if !r.known[taskID] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	qid, admitted := r.queueIDs[taskID]
	cancel := r.running[taskID]
	if !admitted {
		r.requested[taskID] = true
	}
	r.mu.Unlock()

	r.logger.WithTask(taskID).Info("cancel requested", "admitted", admitted)
	if !admitted {
		return nil
	}
	if err := r.queue.Cancel(qid); err != nil {
		return err
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *Runner) begin(plan *Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.busy {
		return ErrRunInProgress
	}
	r.busy = true
	r.total = plan.Graph.Len()
	r.known = make(map[string]bool, r.total)
	for _, id := range plan.Graph.IDs() {
		r.known[id] = true
	}
	r.queueIDs = make(map[string]string, r.total)
	r.running = make(map[string]context.CancelFunc)
	r.requested = make(map[string]bool)
	return nil
}

func (r *Runner) end() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

// previouslyCompleted returns the latest completed record per task ID when
// resuming.
func (r *Runner) previouslyCompleted(ctx context.Context) map[string]*queue.QueuedTask {
	if !r.cfg.Resume || r.store == nil {
		return nil
	}
	records, err := r.store.ListQueuedTasks(ctx)
	if err != nil {
		r.logger.Warn("failed to load previous run, starting fresh", "error", err)
		return nil
	}

	done := make(map[string]*queue.QueuedTask)
	for _, rec := range records {
		if rec.Status != queue.StatusCompleted || !r.known[rec.Task.ID] {
			continue
		}
		if prev, ok := done[rec.Task.ID]; !ok || rec.CompletedAt.After(prev.CompletedAt) {
			done[rec.Task.ID] = rec
		}
	}
	if len(done) > 0 {
		r.logger.Info("resuming run", "already_completed", len(done))
	}
	return done
}

// reclaimWorktrees cleans up after earlier crashed runs.
func (r *Runner) reclaimWorktrees(ctx context.Context) {
	if n, err := r.worktrees.Prune(ctx, r.cfg.Repo); err != nil {
		r.logger.Warn("failed to prune stale worktrees", "error", err)
	} else if n > 0 {
		r.logger.Info("pruned stale worktrees", "count", n)
	}
	if !r.cfg.Resume {
		return
	}
	if n, err := r.worktrees.Adopt(ctx, r.cfg.Repo); err != nil {
		r.logger.Warn("failed to adopt worktrees", "error", err)
	} else if n > 0 {
		r.logger.Info("adopted worktrees from earlier run", "count", n)
	}
}

func (r *Runner) runLevel(ctx context.Context, index int, level scheduler.Level, g *scheduler.DependencyGraph, previous map[string]*queue.QueuedTask, report *Report) {
	logger := r.logger.With("level", index)
	r.bus.Publish(events.LevelStartedEvent{Level: index, Tasks: level, Timestamp: r.now()})
	logger.Info("level started", "tasks", len(level))

	for _, id := range level {
		r.admit(ctx, index, id, g, previous, report)
	}

	if pending := r.queue.PendingCount(); pending > 0 {
		workers := min(pending, r.cfg.Workers)
		// A task pinned to worker-N needs workers 1..N running.
		for _, id := range level {
			node, _ := g.Node(id)
			if n, ok := r.workerNumber(node.Task.Target); ok && n > workers {
				workers = n
			}
		}

		var eg errgroup.Group
		eg.SetLimit(r.cfg.Workers)
		for w := 1; w <= workers; w++ {
			workerID := workerName(w)
			eg.Go(func() error {
				r.work(ctx, workerID, index, report)
				return nil
			})
		}
		_ = eg.Wait()
	}

	// Whatever is still pending was cancelled, belongs to a stopped run or
	// is addressed to a worker that does not exist.
	for _, id := range level {
		if _, done := report.status(id); done {
			continue
		}
		qid := r.queueID(id)
		reason := "no worker for target"
		if st, err := r.queue.Status(qid); err == nil && st == queue.StatusCancelled {
			reason = "cancel requested"
		} else if ctx.Err() != nil {
			reason = "run cancelled"
		}
		if err := r.queue.Cancel(qid); err != nil {
			logger.Error("failed to cancel leftover task", "task_id", id, "error", err)
		}
		out := r.outcome(qid, TaskOutcome{TaskID: id, QueueID: qid, Level: index, Reason: reason})
		report.set(out)
		r.settle(ctx, out)
	}

	var completed, failed, cancelled int
	for _, id := range level {
		switch st, _ := report.status(id); st {
		case queue.StatusCompleted:
			completed++
		case queue.StatusFailed:
			failed++
		case queue.StatusCancelled:
			cancelled++
		}
	}
	r.bus.Publish(events.LevelCompletedEvent{
		Level:     index,
		Completed: completed,
		Failed:    failed,
		Cancelled: cancelled,
		Timestamp: r.now(),
	})
	logger.Info("level completed", "completed", completed, "failed", failed, "cancelled", cancelled)
}

// admit enqueues one task, or cancels it right away when it must not run.
func (r *Runner) admit(ctx context.Context, level int, id string, g *scheduler.DependencyGraph, previous map[string]*queue.QueuedTask, report *Report) {
	node, _ := g.Node(id)
	task := node.Task

	if rec, ok := previous[id]; ok {
		r.queue.Restore([]*queue.QueuedTask{rec})
		r.setQueueID(id, rec.ID)
		report.set(TaskOutcome{
			TaskID:  id,
			QueueID: rec.ID,
			Level:   level,
			Status:  queue.StatusCompleted,
			Worker:  rec.Worker,
			Result:  rec.Result,
			Resumed: true,
		})
		r.logger.WithTask(id).Info("task already completed, skipping")
		return
	}

	qid := r.queue.Enqueue(task)
	r.mu.Lock()
	r.queueIDs[id] = qid
	requested := r.requested[id]
	r.mu.Unlock()

	r.persist(ctx, qid)
	r.bus.Publish(events.TaskQueuedEvent{ID: id, QueueID: qid, Level: level, Priority: task.Priority, Timestamp: r.now()})

	var reason string
	switch {
	case ctx.Err() != nil:
		reason = "run cancelled"
	case requested:
		reason = "cancel requested"
	case !r.cfg.ContinueOnFailure:
		for _, dep := range node.Dependencies() {
			if st, ok := report.status(dep); ok && st != queue.StatusCompleted {
				reason = fmt.Sprintf("dependency %s %s", dep, st)
				break
			}
		}
	}
	if reason == "" {
		return
	}

	if err := r.queue.Cancel(qid); err != nil {
		r.logger.WithTask(id).Error("failed to cancel task", "error", err)
	}
	out := r.outcome(qid, TaskOutcome{TaskID: id, QueueID: qid, Level: level, Reason: reason})
	report.set(out)
	r.settle(ctx, out)
}

func (r *Runner) work(ctx context.Context, workerID string, level int, report *Report) {
	for ctx.Err() == nil {
		qt, ok := r.queue.Dequeue(workerID)
		if !ok {
			return
		}
		out := r.execute(ctx, workerID, level, qt)
		report.set(out)
		r.settle(ctx, out)
	}
}

// execute runs one dequeued task inside a fresh worktree and reclaims the
// worktree afterwards.
func (r *Runner) execute(ctx context.Context, workerID string, level int, qt *queue.QueuedTask) TaskOutcome {
	task := qt.Task
	logger := r.logger.WithWorker(workerID).WithTask(task.ID)
	out := TaskOutcome{TaskID: task.ID, QueueID: qt.ID, Level: level}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.running[task.ID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.running, task.ID)
		r.mu.Unlock()
	}()

	// Cancel may have landed between Dequeue and registration.
	if st, err := r.queue.Status(qt.ID); err == nil && st == queue.StatusCancelled {
		out.Reason = "cancel requested"
		return r.outcome(qt.ID, out)
	}
	r.persist(ctx, qt.ID)

	wt, err := r.acquireWorktree(taskCtx, task)
	if err != nil {
		logger.Error("failed to allocate worktree", "error", err)
		r.completeOrCancel(taskCtx, qt.ID, queue.Result{Error: err.Error()}, &out)
		return r.outcome(qt.ID, out)
	}
	if err := r.queue.AttachWorktree(qt.ID, wt.Path); err != nil {
		logger.Warn("failed to record worktree", "error", err)
	}
	r.bus.Publish(events.TaskStartedEvent{ID: task.ID, QueueID: qt.ID, Worker: workerID, Worktree: wt.Path, Timestamp: r.now()})
	logger.Info("task started", "worktree", wt.Path)

	stopHeartbeat := r.heartbeat(taskCtx, wt.Path)
	start := r.now()
	res, err := r.exec.Execute(taskCtx, task, wt.Path)
	stopHeartbeat()
	if err != nil {
		res = queue.Result{Error: err.Error()}
	}
	if res.Duration == 0 {
		res.Duration = r.now().Sub(start)
	}
	r.completeOrCancel(taskCtx, qt.ID, res, &out)

	status, _ := r.queue.Status(qt.ID)
	if status == queue.StatusCompleted && r.cfg.MergeOnSuccess {
		mr, err := r.worktrees.Merge(context.WithoutCancel(ctx), wt.Path, r.cfg.MergeStrategy)
		if err != nil {
			logger.Error("failed to merge task branch", "error", err)
			out.Err = err
		} else {
			out.Merge = mr
			r.bus.Publish(events.TaskMergedEvent{ID: task.ID, Merged: mr.Merged, ConflictFiles: mr.ConflictFiles, Timestamp: r.now()})
		}
	}

	if err := r.releaseWorktree(ctx, wt, status); err != nil {
		logger.Error("failed to reclaim worktree", "worktree", wt.Path, "error", err)
		out.Err = errors.Join(out.Err, err)
	}
	return r.outcome(qt.ID, out)
}

// completeOrCancel records res unless the task was cancelled meanwhile.
func (r *Runner) completeOrCancel(taskCtx context.Context, qid string, res queue.Result, out *TaskOutcome) {
	if taskCtx.Err() != nil {
		if err := r.queue.Cancel(qid); err != nil {
			r.logger.Error("failed to cancel task", "queue_id", qid, "error", err)
		}
		out.Reason = "cancelled while running"
		return
	}
	if err := r.queue.Complete(qid, res); err != nil {
		// ErrInvalidTransition: Cancel won the race.
		if !errors.Is(err, queue.ErrInvalidTransition) {
			r.logger.Error("failed to complete task", "queue_id", qid, "error", err)
		}
		out.Reason = "cancel requested"
	}
}

// acquireWorktree creates the task's worktree. A worktree left behind by an
// earlier run that nothing uses any more is removed and created afresh.
func (r *Runner) acquireWorktree(ctx context.Context, task scheduler.Task) (*worktree.Worktree, error) {
	wt, err := r.worktrees.Create(ctx, task.ID, r.cfg.Repo, "")
	if errors.Is(err, worktree.ErrWorktreeExists) {
		path, perr := r.worktrees.PathFor(r.cfg.Repo, r.worktrees.BranchFor(task.ID))
		if perr != nil {
			return nil, err
		}
		old, gerr := r.worktrees.Get(path)
		if gerr != nil || old.Active {
			return nil, err
		}
		if rerr := r.worktrees.Remove(ctx, path); rerr != nil {
			return nil, fmt.Errorf("failed to reclaim stale worktree: %w", rerr)
		}
		r.forgetWorktree(ctx, path)
		wt, err = r.worktrees.Create(ctx, task.ID, r.cfg.Repo, "")
	}
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		if err := r.store.SaveWorktree(context.WithoutCancel(ctx), *wt); err != nil {
			r.logger.WithTask(task.ID).Warn("failed to persist worktree", "error", err)
		}
	}
	r.bus.Publish(events.WorktreeCreatedEvent{ID: task.ID, Path: wt.Path, Branch: wt.Branch, Timestamp: r.now()})
	return wt, nil
}

// releaseWorktree removes the worktree, or keeps a failed one for a later
// sweep when configured to.
func (r *Runner) releaseWorktree(ctx context.Context, wt *worktree.Worktree, status queue.Status) error {
	ctx = context.WithoutCancel(ctx)

	if status == queue.StatusFailed && r.cfg.KeepFailedWorktrees {
		if err := r.worktrees.Release(wt.Path); err != nil {
			return err
		}
		if r.store != nil {
			if kept, err := r.worktrees.Get(wt.Path); err == nil {
				if err := r.store.SaveWorktree(ctx, *kept); err != nil {
					r.logger.Warn("failed to persist worktree", "worktree", wt.Path, "error", err)
				}
			}
		}
		r.logger.WithTask(wt.TaskID).Info("keeping failed worktree", "worktree", wt.Path)
		return nil
	}

	if err := r.worktrees.Remove(ctx, wt.Path); err != nil {
		return err
	}
	r.forgetWorktree(ctx, wt.Path)
	r.bus.Publish(events.WorktreeRemovedEvent{ID: wt.TaskID, Path: wt.Path, Timestamp: r.now()})
	return nil
}

// heartbeat touches the worktree at path every HeartbeatInterval until the
// returned stop function is called, keeping it out of idle sweeps.
func (r *Runner) heartbeat(ctx context.Context, path string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.touchWorktree(ctx, path)

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.touchWorktree(ctx, path)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) touchWorktree(ctx context.Context, path string) {
	if err := r.worktrees.Touch(path); err != nil {
		r.logger.Warn("failed to touch worktree", "worktree", path, "error", err)
		return
	}
	if r.store == nil {
		return
	}
	wt, err := r.worktrees.Get(path)
	if err != nil {
		return
	}
	if err := r.store.SaveWorktree(context.WithoutCancel(ctx), *wt); err != nil {
		r.logger.Warn("failed to persist worktree", "worktree", path, "error", err)
	}
}

func workerName(n int) string {
	return fmt.Sprintf("worker-%d", n)
}

// workerNumber returns N for a target naming one of the configured workers
// "worker-N".
func (r *Runner) workerNumber(target string) (int, bool) {
	rest, ok := strings.CutPrefix(target, "worker-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > r.cfg.Workers {
		return 0, false
	}
	return n, true
}

func (r *Runner) forgetWorktree(ctx context.Context, path string) {
	if r.store == nil {
		return
	}
	err := r.store.DeleteWorktree(context.WithoutCancel(ctx), path)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		r.logger.Warn("failed to delete worktree record", "worktree", path, "error", err)
	}
}

// outcome fills out from the queue record.
func (r *Runner) outcome(qid string, out TaskOutcome) TaskOutcome {
	rec, err := r.queue.Get(qid)
	if err != nil {
		return out
	}
	out.Status = rec.Status
	out.Worker = rec.Worker
	out.Result = rec.Result
	out.Worktree = rec.Task.AssignedWorktree
	return out
}

// settle persists and announces a terminal task.
func (r *Runner) settle(ctx context.Context, out TaskOutcome) {
	r.persist(ctx, out.QueueID)

	now := r.now()
	logger := r.logger.WithTask(out.TaskID)
	switch out.Status {
	case queue.StatusCompleted:
		var output string
		var took time.Duration
		if out.Result != nil {
			output, took = out.Result.Output, out.Result.Duration
		}
		r.bus.Publish(events.TaskCompletedEvent{ID: out.TaskID, QueueID: out.QueueID, Output: output, Duration: took, Timestamp: now})
		logger.Info("task completed", "duration", took)
	case queue.StatusFailed:
		var msg string
		var took time.Duration
		if out.Result != nil {
			msg, took = out.Result.Error, out.Result.Duration
		}
		r.bus.Publish(events.TaskFailedEvent{ID: out.TaskID, QueueID: out.QueueID, Err: msg, Duration: took, Timestamp: now})
		logger.Warn("task failed", "error", msg)
	case queue.StatusCancelled:
		r.bus.Publish(events.TaskCancelledEvent{ID: out.TaskID, QueueID: out.QueueID, Reason: out.Reason, Timestamp: now})
		logger.Info("task cancelled", "reason", out.Reason)
	}
	r.publishProgress()
}

func (r *Runner) publishProgress() {
	s := r.queue.Stats()
	r.mu.Lock()
	total := r.total
	r.mu.Unlock()

	pending := total - s.Completed - s.InProgress - s.Failed - s.Cancelled
	if pending < 0 {
		pending = 0
	}
	r.bus.Publish(events.ProgressEvent{
		Total:     total,
		Completed: s.Completed,
		Running:   s.InProgress,
		Failed:    s.Failed,
		Cancelled: s.Cancelled,
		Pending:   pending,
		Timestamp: r.now(),
	})
}

// persist saves the queue record; the run goes on if the store fails.
func (r *Runner) persist(ctx context.Context, qid string) {
	if r.store == nil {
		return
	}
	rec, err := r.queue.Get(qid)
	if err != nil {
		return
	}
	if err := r.store.SaveQueuedTask(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.WithTask(rec.Task.ID).Warn("failed to persist task", "error", err)
	}
}

func (r *Runner) queueID(taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueIDs[taskID]
}

func (r *Runner) setQueueID(taskID, qid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueIDs[taskID] = qid
}
