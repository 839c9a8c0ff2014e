package worktree

import (
	"context"
	"time"
)

// MergeStrategy defines how to merge a worktree branch back to the base branch
type MergeStrategy int

const (
	// MergeOrt uses git's default ort strategy
	MergeOrt MergeStrategy = iota
	// MergeOurs resolves conflicting hunks in favour of the base branch
	MergeOurs
	// MergeTheirs resolves conflicting hunks in favour of the task branch
	MergeTheirs
)

// String returns the strategy name
func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	default:
		return "ort"
	}
}

// ParseMergeStrategy maps a config string to a strategy, defaulting to ort.
func ParseMergeStrategy(s string) MergeStrategy {
	switch s {
	case "ours":
		return MergeOurs
	case "theirs":
		return MergeTheirs
	default:
		return MergeOrt
	}
}

// MergeResult represents the outcome of a merge operation
type MergeResult struct {
	Merged        bool     // True if merge succeeded
	ConflictFiles []string // Files with conflicts (if any)
	Error         error    // Why the merge did not happen
}

// Entry is one worktree as reported by the version-control tool.
type Entry struct {
	Path     string
	Head     string
	Branch   string // short name, empty when detached
	Bare     bool
	Detached bool
	Prunable bool
}

// Worktree is the allocator's record of a worktree it created.
type Worktree struct {
	ID             string
	TaskID         string
	Repo           string
	Path           string
	Branch         string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	Active         bool // a task currently works in it
	IsOrphaned     bool
}

// Provider is the version-control capability the allocator needs.
// GitProvider shells out to git; FakeProvider keeps everything in memory.
type Provider interface {
	// AddWorktree checks out branch at path. With createBranch the branch is
	// created from base (HEAD when base is empty); otherwise it must exist.
	AddWorktree(ctx context.Context, repo, path, branch, base string, createBranch bool) error
	RemoveWorktree(ctx context.Context, repo, path string, force bool) error
	ListWorktrees(ctx context.Context, repo string) ([]Entry, error)
	Prune(ctx context.Context, repo string) error
	BranchExists(ctx context.Context, repo, branch string) (bool, error)
	DeleteBranch(ctx context.Context, repo, branch string, force bool) error
	Merge(ctx context.Context, repo, branch, base string, strategy MergeStrategy) (*MergeResult, error)
}

// Config configures the allocator.
type Config struct {
	BaseDir              string        // Worktree root; relative paths are under the repo (default ".worktrees")
	Owner                string        // Optional namespace segment
	Project              string        // Optional namespace segment
	BaseBranch           string        // Branch new task branches start from (default HEAD)
	BranchPrefix         string        // Prefix for derived branch names (default "task/")
	IdleThreshold        time.Duration // Default SweepIdle age (default 24h)
	DeleteBranchOnRemove bool          // Also delete the task branch on Remove
}

// DefaultIdleThreshold is the idle age after which worktrees are swept.
const DefaultIdleThreshold = 24 * time.Hour

func (c Config) withDefaults() Config {
	if c.BaseDir == "" {
		c.BaseDir = ".worktrees"
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "task/"
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	return c
}
