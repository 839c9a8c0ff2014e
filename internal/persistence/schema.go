package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS queued_tasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		artifact_path TEXT NOT NULL DEFAULT '',
		module TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		worktree TEXT NOT NULL DEFAULT '',
		estimated_ns INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		worker TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		processed_at INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER NOT NULL DEFAULT 0,
		has_result INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queued_tasks_task_id ON queued_tasks(task_id);
	CREATE INDEX IF NOT EXISTS idx_queued_tasks_status ON queued_tasks(status);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id)
	);

	CREATE TABLE IF NOT EXISTS worktrees (
		path TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		repo TEXT NOT NULL,
		branch TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		is_orphaned INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_worktrees_repo ON worktrees(repo);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
