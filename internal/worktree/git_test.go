package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRepo creates a temporary git repository on branch main with one
// commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repoPath := t.TempDir()
	gitRun(t, repoPath, "init")
	gitRun(t, repoPath, "symbolic-ref", "HEAD", "refs/heads/main")
	gitRun(t, repoPath, "config", "user.name", "Test User")
	gitRun(t, repoPath, "config", "user.email", "test@example.com")

	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\n"), 0644))
	gitRun(t, repoPath, "add", ".")
	gitRun(t, repoPath, "commit", "-m", "initial commit")
	return repoPath
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, output)
}

func requireMergeTree(t *testing.T, repo string) {
	t.Helper()
	cmd := exec.Command("git", "merge-tree", "--write-tree", "HEAD", "HEAD")
	cmd.Dir = repo
	if err := cmd.Run(); err != nil {
		t.Skip("git merge-tree --write-tree not supported")
	}
}

func commitFile(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	gitRun(t, dir, "add", name)
	gitRun(t, dir, "commit", "-m", msg)
}

func TestGitLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	m := NewManager(NewGitProvider(), Config{BaseBranch: "main"})

	wt, err := m.Create(ctx, "1", repo, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".worktrees", "task-1"), wt.Path)
	assert.FileExists(t, filepath.Join(wt.Path, "README.md"))

	entries, err := NewGitProvider().ListWorktrees(ctx, repo)
	require.NoError(t, err)
	var branches []string
	for _, e := range entries {
		branches = append(branches, e.Branch)
	}
	assert.Contains(t, branches, "task/1")
	assert.Contains(t, branches, "main")

	_, err = m.Create(ctx, "1", repo, "")
	assert.ErrorIs(t, err, ErrWorktreeExists)

	require.NoError(t, m.Remove(ctx, wt.Path))
	assert.NoDirExists(t, wt.Path)

	exists, err := NewGitProvider().BranchExists(ctx, repo, "task/1")
	require.NoError(t, err)
	assert.True(t, exists)

	// The branch survives, so a second allocation checks it out again.
	wt, err = m.Create(ctx, "1", repo, "")
	require.NoError(t, err)
	assert.DirExists(t, wt.Path)
}

func TestGitRelativeRepo(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	t.Chdir(filepath.Dir(repo))
	rel := filepath.Base(repo)
	m := NewManager(NewGitProvider(), Config{BaseBranch: "main"})

	wt, err := m.Create(ctx, "task7", rel, "task-7")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".worktrees", "task-7"), wt.Path)
	assert.FileExists(t, filepath.Join(wt.Path, "README.md"))
	assert.NoDirExists(t, filepath.Join(repo, rel))

	require.NoError(t, m.Remove(ctx, wt.Path))
	assert.NoDirExists(t, wt.Path)
}

func TestGitBranchExists(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGitProvider()

	ok, err := g.BranchExists(context.Background(), repo, "main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.BranchExists(context.Background(), repo, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGitCommandError(t *testing.T) {
	repo := setupTestRepo(t)
	err := NewGitProvider().AddWorktree(context.Background(), repo, filepath.Join(repo, "wt"), "missing", "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.False(t, IsRetryable(err))
}

func TestGitPruneAfterExternalDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	m := NewManager(NewGitProvider(), Config{BaseBranch: "main"})

	wt, err := m.Create(ctx, "1", repo, "")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(wt.Path))

	pruned, err := m.Prune(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	entries, err := NewGitProvider().ListWorktrees(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGitMerge(t *testing.T) {
	repo := setupTestRepo(t)
	requireMergeTree(t, repo)
	ctx := context.Background()
	m := NewManager(NewGitProvider(), Config{BaseBranch: "main"})

	wt, err := m.Create(ctx, "1", repo, "")
	require.NoError(t, err)
	commitFile(t, wt.Path, "feature.txt", "feature\n", "add feature")

	res, err := m.Merge(ctx, wt.Path, MergeOrt)
	require.NoError(t, err)
	require.True(t, res.Merged, "merge error: %v", res.Error)
	assert.FileExists(t, filepath.Join(repo, "feature.txt"))
}

func TestGitMergeConflict(t *testing.T) {
	repo := setupTestRepo(t)
	requireMergeTree(t, repo)
	ctx := context.Background()
	m := NewManager(NewGitProvider(), Config{BaseBranch: "main"})

	wt, err := m.Create(ctx, "1", repo, "")
	require.NoError(t, err)
	commitFile(t, wt.Path, "README.md", "# From task\n", "task edit")
	commitFile(t, repo, "README.md", "# From main\n", "main edit")

	res, err := m.Merge(ctx, wt.Path, MergeOrt)
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, []string{"README.md"}, res.ConflictFiles)

	content, err := os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# From main\n", string(content), "conflicting merge must not touch the base checkout")

	res, err = m.Merge(ctx, wt.Path, MergeTheirs)
	require.NoError(t, err)
	require.True(t, res.Merged, "merge error: %v", res.Error)

	content, err = os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# From task\n", string(content))
}

func TestParsePorcelain(t *testing.T) {
	out := []byte(`worktree /repo
HEAD 1111111111111111111111111111111111111111
branch refs/heads/main

worktree /repo/.worktrees/task-1
HEAD 2222222222222222222222222222222222222222
branch refs/heads/task/1
prunable gitdir file points to non-existent location

worktree /repo/.worktrees/detached
HEAD 3333333333333333333333333333333333333333
detached
`)
	entries := parsePorcelain(out)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Path: "/repo", Head: "1111111111111111111111111111111111111111", Branch: "main"}, entries[0])
	assert.Equal(t, "task/1", entries[1].Branch)
	assert.True(t, entries[1].Prunable)
	assert.True(t, entries[2].Detached)
	assert.Empty(t, entries[2].Branch)
}

func TestParseConflictFiles(t *testing.T) {
	out := `abc123
100644 aaa 1	README.md

Auto-merging README.md
CONFLICT (content): Merge conflict in README.md
CONFLICT (content): Merge conflict in src/lib.rs
CONFLICT (content): Merge conflict in README.md
`
	assert.Equal(t, []string{"README.md", "src/lib.rs"}, parseConflictFiles(out))
}
