// Package worktree allocates isolated version-control worktrees for tasks.
//
// Every worktree lives under <repo>/<BaseDir>[/<owner>/<project>]/<slug> where
// slug is the branch name made filesystem-safe. The Manager tracks what it
// created, serializes operations per path, and reclaims worktrees that sat
// idle longer than the configured threshold.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/metrics"
)

// Manager allocates and reclaims worktrees.
type Manager struct {
	provider Provider
	cfg      Config
	fs       afero.Fs
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	worktrees map[string]*Worktree // cleaned path -> record
	locks     *pathLocks
	mergeMu   sync.Mutex // merges all touch the base branch checkout
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem used for occupancy checks. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithClock sets the time source for access timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records worktree metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a worktree allocator on top of provider.
func NewManager(provider Provider, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		provider:  provider,
		cfg:       cfg.withDefaults(),
		fs:        afero.NewOsFs(),
		now:       time.Now,
		logger:    logging.NopLogger(),
		worktrees: make(map[string]*Worktree),
		locks:     newPathLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("worktree")
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Root returns the directory all worktrees of repo are created under.
func (m *Manager) Root(repo string) string {
	repo = repoPath(repo)
	base := m.cfg.BaseDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(repo, base)
	}
	return filepath.Join(base, m.cfg.Owner, m.cfg.Project)
}

// BranchFor returns the branch a task gets when none is given.
func (m *Manager) BranchFor(taskID string) string {
	return m.cfg.BranchPrefix + taskID
}

// PathFor returns where the worktree for branch lives. The directory name is
// the branch with every character outside [A-Za-z0-9._-] replaced by '-', so
// branches such as "task/a" and "task-a" share a path; Create reports the
// second one as ErrWorktreeExists.
func (m *Manager) PathFor(repo, branch string) (string, error) {
	s := slug(branch)
	if s == "" {
		return "", fmt.Errorf("invalid branch name %q", branch)
	}
	return filepath.Join(m.Root(repo), s), nil
}

// Create checks out a worktree for taskID. An empty branch derives one from
// the task ID. The branch is created from the base branch unless it exists.
func (m *Manager) Create(ctx context.Context, taskID, repo, branch string) (*Worktree, error) {
	repo = repoPath(repo)
	if branch == "" {
		branch = m.BranchFor(taskID)
	}
	path, err := m.PathFor(repo, branch)
	if err != nil {
		return nil, err
	}

	m.locks.Lock(path)
	defer m.locks.Unlock(path)

	wt, err := m.create(ctx, taskID, repo, branch, path)
	m.metrics.WorktreeOp("create", err, m.activeCount())
	if err != nil {
		m.logger.Warn("worktree create failed", "task_id", taskID, "path", path, "error", err)
		return nil, err
	}
	m.logger.Info("worktree created", "task_id", taskID, "path", path, "branch", branch)
	return wt, nil
}

func (m *Manager) create(ctx context.Context, taskID, repo, branch, path string) (*Worktree, error) {
	m.mu.RLock()
	prev, tracked := m.worktrees[path]
	var prevBranch string
	if tracked {
		prevBranch = prev.Branch
	}
	m.mu.RUnlock()
	if tracked {
		if prevBranch != branch {
			return nil, fmt.Errorf("%w: %s (in use by branch %s)", ErrWorktreeExists, path, prevBranch)
		}
		return nil, fmt.Errorf("%w: %s", ErrWorktreeExists, path)
	}
	if occupied, err := afero.Exists(m.fs, path); err != nil {
		return nil, fmt.Errorf("failed to stat worktree path: %w", err)
	} else if occupied {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeExists, path)
	}

	if err := m.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree root: %w", err)
	}

	exists, err := m.provider.BranchExists(ctx, repo, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to check branch %s: %w", branch, err)
	}
	if err := m.provider.AddWorktree(ctx, repo, path, branch, m.cfg.BaseBranch, !exists); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	now := m.now()
	wt := &Worktree{
		ID:             uuid.New().String(),
		TaskID:         taskID,
		Repo:           repo,
		Path:           path,
		Branch:         branch,
		CreatedAt:      now,
		LastAccessedAt: now,
		Active:         true,
	}

	m.mu.Lock()
	m.worktrees[path] = wt
	m.mu.Unlock()

	out := *wt
	return &out, nil
}

// Remove deletes a tracked worktree from disk and from the provider. A
// directory that already vanished is pruned instead of failing.
func (m *Manager) Remove(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	m.locks.Lock(path)
	defer m.locks.Unlock(path)

	err := m.remove(ctx, path)
	m.metrics.WorktreeOp("remove", err, m.activeCount())
	if err != nil {
		m.logger.Warn("worktree remove failed", "path", path, "error", err)
		return err
	}
	m.logger.Info("worktree removed", "path", path)
	return nil
}

func (m *Manager) remove(ctx context.Context, path string) error {
	m.mu.RLock()
	wt, ok := m.worktrees[path]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}

	if err := m.provider.RemoveWorktree(ctx, wt.Repo, path, true); err != nil {
		present, statErr := afero.DirExists(m.fs, path)
		if statErr != nil || present {
			return fmt.Errorf("failed to remove worktree: %w", err)
		}
		if err := m.provider.Prune(ctx, wt.Repo); err != nil {
			return fmt.Errorf("failed to prune worktree metadata: %w", err)
		}
	}
	if err := m.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete worktree directory: %w", err)
	}

	var branchErr error
	if m.cfg.DeleteBranchOnRemove {
		if err := m.provider.DeleteBranch(ctx, wt.Repo, wt.Branch, true); err != nil {
			branchErr = fmt.Errorf("failed to delete branch %s: %w", wt.Branch, err)
		}
	}

	m.mu.Lock()
	delete(m.worktrees, path)
	m.mu.Unlock()
	return branchErr
}

// Touch marks a worktree as used now.
func (m *Manager) Touch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.worktrees[filepath.Clean(path)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}
	wt.LastAccessedAt = m.now()
	wt.IsOrphaned = false
	return nil
}

// Release records that no task is using the worktree any more. It stays on
// disk until removed or swept; its idle time starts now.
func (m *Manager) Release(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.worktrees[filepath.Clean(path)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}
	wt.Active = false
	wt.LastAccessedAt = m.now()
	return nil
}

// Get returns a copy of the record for path.
func (m *Manager) Get(path string) (*Worktree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wt, ok := m.worktrees[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeNotFound, path)
	}
	out := *wt
	return &out, nil
}

// List returns the tracked worktrees of repo sorted by path. An empty repo
// lists all of them.
func (m *Manager) List(repo string) []Worktree {
	if repo != "" {
		repo = repoPath(repo)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Worktree, 0, len(m.worktrees))
	for _, wt := range m.worktrees {
		if repo == "" || wt.Repo == repo {
			out = append(out, *wt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Track adds an existing record, e.g. one restored from the store.
func (m *Manager) Track(wt Worktree) {
	wt.Path = filepath.Clean(wt.Path)
	wt.Repo = repoPath(wt.Repo)
	m.mu.Lock()
	m.worktrees[wt.Path] = &wt
	m.mu.Unlock()
}

// Prune drops provider metadata for worktrees whose directory is gone and
// forgets the matching records. It returns how many records were dropped.
func (m *Manager) Prune(ctx context.Context, repo string) (int, error) {
	repo = repoPath(repo)
	err := m.provider.Prune(ctx, repo)
	if err != nil {
		m.metrics.WorktreeOp("prune", err, m.activeCount())
		return 0, fmt.Errorf("failed to prune worktrees: %w", err)
	}

	m.mu.Lock()
	pruned := 0
	for path, wt := range m.worktrees {
		if wt.Repo != repo {
			continue
		}
		if present, statErr := afero.DirExists(m.fs, path); statErr == nil && !present {
			delete(m.worktrees, path)
			pruned++
		}
	}
	m.mu.Unlock()

	m.metrics.WorktreeOp("prune", nil, m.activeCount())
	if pruned > 0 {
		m.logger.Info("pruned stale worktrees", "repo", repo, "count", pruned)
	}
	return pruned, nil
}

// SweepIdle removes worktrees of repo not accessed within maxAge. A
// non-positive maxAge uses the configured idle threshold. It returns how
// many were removed; failures are joined into the error.
func (m *Manager) SweepIdle(ctx context.Context, repo string, maxAge time.Duration) (int, error) {
	repo = repoPath(repo)
	if maxAge <= 0 {
		maxAge = m.cfg.IdleThreshold
	}
	now := m.now()

	var idle []string
	m.mu.Lock()
	for path, wt := range m.worktrees {
		if wt.Repo == repo && now.Sub(wt.LastAccessedAt) > maxAge {
			wt.IsOrphaned = true
			idle = append(idle, path)
		}
	}
	m.mu.Unlock()
	sort.Strings(idle)

	removed := 0
	var errs []error
	for _, path := range idle {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.Remove(ctx, path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("swept idle worktrees", "repo", repo, "count", removed, "max_age", maxAge.String())
	}
	return removed, errors.Join(errs...)
}

// Merge merges the worktree's branch into the configured base branch.
// Merges are serialized since they share the base checkout.
func (m *Manager) Merge(ctx context.Context, path string, strategy MergeStrategy) (*MergeResult, error) {
	wt, err := m.Get(path)
	if err != nil {
		return nil, err
	}
	if m.cfg.BaseBranch == "" {
		return nil, errors.New("no base branch configured for merge")
	}

	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	res, err := m.provider.Merge(ctx, wt.Repo, wt.Branch, m.cfg.BaseBranch, strategy)
	m.metrics.WorktreeOp("merge", err, m.activeCount())
	if err != nil {
		return nil, fmt.Errorf("failed to merge %s: %w", wt.Branch, err)
	}
	if res.Merged {
		m.logger.Info("worktree merged", "path", wt.Path, "branch", wt.Branch, "strategy", strategy.String())
	} else {
		m.logger.Warn("worktree not merged", "path", wt.Path, "branch", wt.Branch, "conflicts", res.ConflictFiles)
	}
	return res, nil
}

// Adopt tracks worktrees under the managed root that the provider knows but
// this manager does not, e.g. after a restart. Returns how many were adopted.
func (m *Manager) Adopt(ctx context.Context, repo string) (int, error) {
	repo = repoPath(repo)
	entries, err := m.provider.ListWorktrees(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("failed to list worktrees: %w", err)
	}

	root := m.Root(repo) + string(filepath.Separator)
	adopted := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		path := filepath.Clean(e.Path)
		if e.Bare || e.Prunable || !strings.HasPrefix(path, root) {
			continue
		}
		if _, ok := m.worktrees[path]; ok {
			continue
		}

		seen := m.now()
		if info, err := m.fs.Stat(path); err == nil {
			seen = info.ModTime()
		}
		m.worktrees[path] = &Worktree{
			ID:             uuid.New().String(),
			TaskID:         strings.TrimPrefix(e.Branch, m.cfg.BranchPrefix),
			Repo:           repo,
			Path:           path,
			Branch:         e.Branch,
			CreatedAt:      seen,
			LastAccessedAt: seen,
		}
		adopted++
	}
	return adopted, nil
}

func (m *Manager) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.worktrees)
}

// repoPath makes repo absolute. git runs inside the repository, so a
// relative worktree path would be resolved against it a second time.
func repoPath(repo string) string {
	if repo == "" {
		return ""
	}
	abs, err := filepath.Abs(repo)
	if err != nil {
		return filepath.Clean(repo)
	}
	return abs
}

// slug makes a branch name safe as a single path segment.
func slug(branch string) string {
	var b strings.Builder
	for _, r := range branch {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), ".-")
}
