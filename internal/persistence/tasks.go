package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskforge/internal/artifact"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

const queuedTaskColumns = `id, task_id, name, artifact_path, module, language, priority, target, worktree,
	estimated_ns, status, worker, created_at, processed_at, completed_at,
	has_result, success, output, error, duration_ns`

// SaveQueuedTask saves or updates a queue record. Artifact content is not
// stored; a loaded record carries the artifact's path, module and language.
func (s *SQLiteStore) SaveQueuedTask(ctx context.Context, rec *queue.QueuedTask) error {
	var artifactPath, module, language string
	if a := rec.Task.Artifact; a != nil {
		artifactPath = a.Path
		module = a.Module.Key()
		language = string(a.Language)
	}

	var res queue.Result
	if rec.Result != nil {
		res = *rec.Result
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_tasks (`+queuedTaskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			priority = excluded.priority,
			target = excluded.target,
			worktree = excluded.worktree,
			status = excluded.status,
			worker = excluded.worker,
			processed_at = excluded.processed_at,
			completed_at = excluded.completed_at,
			has_result = excluded.has_result,
			success = excluded.success,
			output = excluded.output,
			error = excluded.error,
			duration_ns = excluded.duration_ns
	`,
		rec.ID, rec.Task.ID, rec.Task.Name, artifactPath, module, language,
		rec.Task.Priority, rec.Task.Target, rec.Task.AssignedWorktree, int64(rec.Task.EstimatedDuration),
		string(rec.Status), rec.Worker,
		toNanos(rec.CreatedAt), toNanos(rec.ProcessedAt), toNanos(rec.CompletedAt),
		boolToInt(rec.Result != nil), boolToInt(res.Success), res.Output, res.Error, int64(res.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert queued task %s: %w", rec.ID, err)
	}
	return nil
}

// GetQueuedTask retrieves a queue record by queue ID.
func (s *SQLiteStore) GetQueuedTask(ctx context.Context, id string) (*queue.QueuedTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+queuedTaskColumns+` FROM queued_tasks WHERE id = ?`, id)
	rec, err := scanQueuedTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: queued task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued task: %w", err)
	}
	return rec, nil
}

// ListQueuedTasks returns all queue records in creation order.
func (s *SQLiteStore) ListQueuedTasks(ctx context.Context) ([]*queue.QueuedTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queuedTaskColumns+` FROM queued_tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued tasks: %w", err)
	}
	defer rows.Close()

	var out []*queue.QueuedTask
	for rows.Next() {
		rec, err := scanQueuedTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued task: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queued tasks: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQueuedTask(row scanner) (*queue.QueuedTask, error) {
	var (
		rec                                 queue.QueuedTask
		artifactPath, module, language      string
		status                              string
		estimated, duration                 int64
		createdAt, processedAt, completedAt int64
		hasResult, success                  int
		output, errMsg                      string
	)
	err := row.Scan(
		&rec.ID, &rec.Task.ID, &rec.Task.Name, &artifactPath, &module, &language,
		&rec.Task.Priority, &rec.Task.Target, &rec.Task.AssignedWorktree, &estimated,
		&status, &rec.Worker, &createdAt, &processedAt, &completedAt,
		&hasResult, &success, &output, &errMsg, &duration,
	)
	if err != nil {
		return nil, err
	}

	if artifactPath != "" || module != "" {
		rec.Task.Artifact = &artifact.Artifact{
			Path:     artifactPath,
			Module:   artifact.ParseModulePath(module, "/"),
			Language: artifact.Language(language),
		}
	}
	rec.Task.EstimatedDuration = time.Duration(estimated)
	rec.Status = queue.Status(status)
	rec.CreatedAt = fromNanos(createdAt)
	rec.ProcessedAt = fromNanos(processedAt)
	rec.CompletedAt = fromNanos(completedAt)
	if hasResult == 1 {
		rec.Result = &queue.Result{
			Success:  success == 1,
			Output:   output,
			Error:    errMsg,
			Duration: time.Duration(duration),
		}
	}
	return &rec, nil
}

// SaveEdges replaces the stored dependency graph.
func (s *SQLiteStore) SaveEdges(ctx context.Context, edges []scheduler.Edge) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies`); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}

	for _, e := range edges {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, e.To, e.From)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", e.To, e.From, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListEdges returns the stored dependency edges sorted by dependency then
// dependent.
func (s *SQLiteStore) ListEdges(ctx context.Context) ([]scheduler.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id, task_id
		FROM task_dependencies
		ORDER BY depends_on_id, task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var edges []scheduler.Edge
	for rows.Next() {
		var e scheduler.Edge
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return edges, nil
}
