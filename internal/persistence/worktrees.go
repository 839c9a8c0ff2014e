package persistence

import (
	"context"
	"fmt"

	"github.com/aristath/taskforge/internal/worktree"
)

// SaveWorktree saves or updates a worktree record keyed by path.
func (s *SQLiteStore) SaveWorktree(ctx context.Context, wt worktree.Worktree) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worktrees (path, id, task_id, repo, branch, created_at, last_accessed_at, active, is_orphaned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id = excluded.id,
			task_id = excluded.task_id,
			repo = excluded.repo,
			branch = excluded.branch,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at,
			active = excluded.active,
			is_orphaned = excluded.is_orphaned
	`, wt.Path, wt.ID, wt.TaskID, wt.Repo, wt.Branch,
		toNanos(wt.CreatedAt), toNanos(wt.LastAccessedAt), boolToInt(wt.Active), boolToInt(wt.IsOrphaned))
	if err != nil {
		return fmt.Errorf("failed to save worktree %s: %w", wt.Path, err)
	}
	return nil
}

// DeleteWorktree removes the record for path.
func (s *SQLiteStore) DeleteWorktree(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worktrees WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete worktree: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: worktree %s", ErrNotFound, path)
	}
	return nil
}

// ListWorktrees returns the worktree records of repo sorted by path. An
// empty repo lists all of them.
func (s *SQLiteStore) ListWorktrees(ctx context.Context, repo string) ([]worktree.Worktree, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, id, task_id, repo, branch, created_at, last_accessed_at, active, is_orphaned
		FROM worktrees
		WHERE ? = '' OR repo = ?
		ORDER BY path
	`, repo, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to query worktrees: %w", err)
	}
	defer rows.Close()

	var out []worktree.Worktree
	for rows.Next() {
		var (
			wt                    worktree.Worktree
			createdAt, accessedAt int64
			active, orphaned      int
		)
		if err := rows.Scan(&wt.Path, &wt.ID, &wt.TaskID, &wt.Repo, &wt.Branch,
			&createdAt, &accessedAt, &active, &orphaned); err != nil {
			return nil, fmt.Errorf("failed to scan worktree: %w", err)
		}
		wt.CreatedAt = fromNanos(createdAt)
		wt.LastAccessedAt = fromNanos(accessedAt)
		wt.Active = active == 1
		wt.IsOrphaned = orphaned == 1
		out = append(out, wt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worktrees: %w", err)
	}
	return out, nil
}
