package worktree

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// GitProvider implements Provider with the git CLI. Commands that fail on
// repository lock contention are retried with exponential backoff.
type GitProvider struct {
	binary     string
	maxElapsed time.Duration
}

// GitOption configures a GitProvider.
type GitOption func(*GitProvider)

// WithGitBinary overrides the git executable (default "git").
func WithGitBinary(path string) GitOption {
	return func(g *GitProvider) { g.binary = path }
}

// WithRetryWindow bounds how long lock contention is retried. Zero disables
// retries.
func WithRetryWindow(d time.Duration) GitOption {
	return func(g *GitProvider) { g.maxElapsed = d }
}

// NewGitProvider creates a git-backed provider.
func NewGitProvider(opts ...GitOption) *GitProvider {
	g := &GitProvider{binary: "git", maxElapsed: 5 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Provider = (*GitProvider)(nil)

func (g *GitProvider) AddWorktree(ctx context.Context, repo, path, branch, base string, createBranch bool) error {
	args := []string{"worktree", "add"}
	if createBranch {
		args = append(args, "-b", branch, path)
		if base != "" {
			args = append(args, base)
		}
	} else {
		args = append(args, path, branch)
	}
	_, err := g.run(ctx, repo, args...)
	return err
}

func (g *GitProvider) RemoveWorktree(ctx context.Context, repo, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(ctx, repo, append(args, path)...)
	return err
}

func (g *GitProvider) ListWorktrees(ctx context.Context, repo string) ([]Entry, error) {
	out, err := g.run(ctx, repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

func (g *GitProvider) Prune(ctx context.Context, repo string) error {
	_, err := g.run(ctx, repo, "worktree", "prune")
	return err
}

func (g *GitProvider) BranchExists(ctx context.Context, repo, branch string) (bool, error) {
	_, err := g.run(ctx, repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

func (g *GitProvider) DeleteBranch(ctx context.Context, repo, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, repo, "branch", flag, branch)
	return err
}

// Merge merges branch into base inside repo. The ort strategy is checked for
// conflicts with merge-tree first so a conflicting merge never touches the
// working tree; ours and theirs resolve conflicts themselves.
func (g *GitProvider) Merge(ctx context.Context, repo, branch, base string, strategy MergeStrategy) (*MergeResult, error) {
	if _, err := g.run(ctx, repo, "checkout", base); err != nil {
		return &MergeResult{Error: fmt.Errorf("failed to checkout base branch: %w", err)}, nil
	}

	if strategy == MergeOrt {
		out, err := g.run(ctx, repo, "merge-tree", "--write-tree", base, branch)
		if err != nil {
			var cmdErr *CommandError
			if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
				return &MergeResult{
					Error:         errors.New("merge conflict detected"),
					ConflictFiles: parseConflictFiles(string(out)),
				}, nil
			}
			return nil, err
		}
	}

	args := []string{"merge", "--no-ff", "--no-edit"}
	switch strategy {
	case MergeOurs:
		args = append(args, "-X", "ours")
	case MergeTheirs:
		args = append(args, "-X", "theirs")
	}
	if _, err := g.run(ctx, repo, append(args, branch)...); err != nil {
		_, _ = g.run(ctx, repo, "merge", "--abort")
		return &MergeResult{Error: fmt.Errorf("merge failed: %w", err)}, nil
	}
	return &MergeResult{Merged: true}, nil
}

// run executes git in dir and returns stdout. Lock contention is retried
// until the retry window closes or ctx is done.
func (g *GitProvider) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	var out []byte
	op := func() error {
		var err error
		out, err = g.exec(ctx, dir, args...)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if g.maxElapsed <= 0 {
		out, err := g.exec(ctx, dir, args...)
		return out, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = g.maxElapsed

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	return out, err
}

func (g *GitProvider) exec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &CommandError{
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// parsePorcelain parses `git worktree list --porcelain` output.
func parsePorcelain(output []byte) []Entry {
	var entries []Entry
	var current Entry

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			// Empty line ends an entry
			if current.Path != "" {
				entries = append(entries, current)
				current = Entry{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			current.Bare = true
		case line == "detached":
			current.Detached = true
		case line == "prunable" || strings.HasPrefix(line, "prunable "):
			current.Prunable = true
		}
	}

	if current.Path != "" {
		entries = append(entries, current)
	}
	return entries
}

// parseConflictFiles extracts conflicting file paths from merge-tree output
func parseConflictFiles(output string) []string {
	var conflicts []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		// "CONFLICT (content): Merge conflict in <file>"
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}
		idx := strings.LastIndex(line, " in ")
		if idx < 0 {
			continue
		}
		file := strings.TrimSpace(line[idx+len(" in "):])
		if file != "" && !seen[file] {
			seen[file] = true
			conflicts = append(conflicts, file)
		}
	}
	return conflicts
}
