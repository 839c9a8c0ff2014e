package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforge/internal/artifact"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/worktree"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

func sampleRecord(id string) *queue.QueuedTask {
	return &queue.QueuedTask{
		ID: id,
		Task: scheduler.Task{
			ID:                "src/net/http.rs",
			Name:              "net.http",
			Artifact:          &artifact.Artifact{Path: "src/net/http.rs", Module: artifact.NewModulePath("net", "http"), Language: artifact.LanguageRust},
			Priority:          3,
			Target:            "w1",
			EstimatedDuration: 2 * time.Minute,
		},
		Status:    queue.StatusPending,
		CreatedAt: base,
	}
}

func TestSaveAndGetQueuedTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("q1")
	require.NoError(t, store.SaveQueuedTask(ctx, rec))

	got, err := store.GetQueuedTask(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", got.ID)
	assert.Equal(t, rec.Task.ID, got.Task.ID)
	assert.Equal(t, rec.Task.Name, got.Task.Name)
	assert.Equal(t, 3, got.Task.Priority)
	assert.Equal(t, "w1", got.Task.Target)
	assert.Equal(t, 2*time.Minute, got.Task.EstimatedDuration)
	assert.Equal(t, queue.StatusPending, got.Status)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.True(t, got.ProcessedAt.IsZero())
	assert.Nil(t, got.Result)

	require.NotNil(t, got.Task.Artifact)
	assert.Equal(t, "src/net/http.rs", got.Task.Artifact.Path)
	assert.True(t, got.Task.Artifact.Module.Equal(artifact.NewModulePath("net", "http")))
	assert.Equal(t, artifact.LanguageRust, got.Task.Artifact.Language)
}

func TestSaveQueuedTaskIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := sampleRecord("q1")
	require.NoError(t, store.SaveQueuedTask(ctx, rec))

	rec.Status = queue.StatusFailed
	rec.Worker = "w1"
	rec.Task.AssignedWorktree = "/repo/.worktrees/task-1"
	rec.ProcessedAt = base.Add(time.Second)
	rec.CompletedAt = base.Add(3 * time.Second)
	rec.Result = &queue.Result{Success: false, Output: "partial", Error: "exit status 1", Duration: 2 * time.Second}
	require.NoError(t, store.SaveQueuedTask(ctx, rec))

	all, err := store.ListQueuedTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, "w1", got.Worker)
	assert.Equal(t, "/repo/.worktrees/task-1", got.Task.AssignedWorktree)
	assert.True(t, rec.CompletedAt.Equal(got.CompletedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, *rec.Result, *got.Result)
}

func TestGetQueuedTaskNotFound(t *testing.T) {
	store := testStore(t)
	_, err := store.GetQueuedTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueuedTaskWithoutArtifact(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := &queue.QueuedTask{
		ID:        "adhoc",
		Task:      scheduler.Task{ID: "lint", Name: "lint"},
		Status:    queue.StatusCompleted,
		CreatedAt: base,
		Result:    &queue.Result{Success: true},
	}
	require.NoError(t, store.SaveQueuedTask(ctx, rec))

	got, err := store.GetQueuedTask(ctx, "adhoc")
	require.NoError(t, err)
	assert.Nil(t, got.Task.Artifact)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Success)
}

func TestListQueuedTasksOrder(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, id := range []string{"c", "a", "b"} {
		rec := sampleRecord(id)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.SaveQueuedTask(ctx, rec))
	}

	all, err := store.ListQueuedTasks(ctx)
	require.NoError(t, err)
	var ids []string
	for _, rec := range all {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestRestoreIntoQueue(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	running := sampleRecord("running")
	running.Status = queue.StatusInProgress
	running.Worker = "w1"
	running.ProcessedAt = base.Add(time.Second)
	require.NoError(t, store.SaveQueuedTask(ctx, running))

	done := sampleRecord("done")
	done.Status = queue.StatusCompleted
	done.Result = &queue.Result{Success: true}
	require.NoError(t, store.SaveQueuedTask(ctx, done))

	records, err := store.ListQueuedTasks(ctx)
	require.NoError(t, err)

	q := queue.New()
	assert.Equal(t, 2, q.Restore(records))
	assert.Equal(t, 1, q.PendingCount())

	next, ok := q.Dequeue("w1")
	require.True(t, ok)
	assert.Equal(t, "running", next.ID)
}

func TestSaveAndListEdges(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEdges(ctx, []scheduler.Edge{
		{From: "a", To: "c"},
		{From: "a", To: "b"},
		{From: "a", To: "b"},
	}))

	edges, err := store.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []scheduler.Edge{{From: "a", To: "b"}, {From: "a", To: "c"}}, edges)

	// Saving again replaces the graph
	require.NoError(t, store.SaveEdges(ctx, []scheduler.Edge{{From: "x", To: "y"}}))
	edges, err = store.ListEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []scheduler.Edge{{From: "x", To: "y"}}, edges)
}

func TestWorktreeRecords(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	wt := worktree.Worktree{
		ID:             "wt-1",
		TaskID:         "7",
		Repo:           "/repo",
		Path:           "/repo/.worktrees/task-7",
		Branch:         "task/7",
		CreatedAt:      base,
		LastAccessedAt: base,
		Active:         true,
	}
	require.NoError(t, store.SaveWorktree(ctx, wt))
	require.NoError(t, store.SaveWorktree(ctx, worktree.Worktree{
		ID: "wt-2", Repo: "/other", Path: "/other/.worktrees/x", Branch: "x",
		CreatedAt: base, LastAccessedAt: base,
	}))

	wt.Active = false
	wt.IsOrphaned = true
	wt.LastAccessedAt = base.Add(time.Hour)
	require.NoError(t, store.SaveWorktree(ctx, wt))

	list, err := store.ListWorktrees(ctx, "/repo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "task/7", list[0].Branch)
	assert.False(t, list[0].Active)
	assert.True(t, list[0].IsOrphaned)
	assert.True(t, wt.LastAccessedAt.Equal(list[0].LastAccessedAt))

	all, err := store.ListWorktrees(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteWorktree(ctx, wt.Path))
	assert.ErrorIs(t, store.DeleteWorktree(ctx, wt.Path), ErrNotFound)

	list, err = store.ListWorktrees(ctx, "/repo")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := testStore(t)
	b := testStore(t)

	require.NoError(t, a.SaveQueuedTask(ctx, sampleRecord("q1")))

	all, err := b.ListQueuedTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state", "taskforge.db")

	store, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveQueuedTask(ctx, sampleRecord("q1")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetQueuedTask(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, "net.http", got.Task.Name)
}

func TestConcurrentSaves(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := sampleRecord(string(rune('a' + i)))
			assert.NoError(t, store.SaveQueuedTask(ctx, rec))
		}(i)
	}
	wg.Wait()

	all, err := store.ListQueuedTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}
