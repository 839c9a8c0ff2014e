package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// FakeProvider is an in-memory Provider backed by an afero filesystem. It
// creates and removes worktree directories so the allocator's disk checks
// behave as they do against git. Tests can inject failures per method.
type FakeProvider struct {
	fs afero.Fs

	mu        sync.Mutex
	worktrees map[string]map[string]Entry // repo -> path -> entry
	branches  map[string]map[string]bool  // repo -> branch set
	failures  map[string][]error          // method -> queued errors
	conflicts map[string][]string         // branch -> conflicting files
	merged    []string
	calls     []string
}

// NewFakeProvider creates a fake provider writing directories to fs.
func NewFakeProvider(fs afero.Fs) *FakeProvider {
	return &FakeProvider{
		fs:        fs,
		worktrees: make(map[string]map[string]Entry),
		branches:  make(map[string]map[string]bool),
		failures:  make(map[string][]error),
		conflicts: make(map[string][]string),
	}
}

var _ Provider = (*FakeProvider)(nil)

// FailNext makes the next call to method return err.
func (f *FakeProvider) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], err)
}

// SetConflicts makes merging branch report the given conflicting files.
func (f *FakeProvider) SetConflicts(branch string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts[branch] = files
}

// AddBranch registers an existing branch.
func (f *FakeProvider) AddBranch(repo, branch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branchSet(repo)[branch] = true
}

// Register records a worktree as if created outside the allocator.
func (f *FakeProvider) Register(repo string, e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.worktreeSet(repo)[filepath.Clean(e.Path)] = e
}

// Calls returns the method names invoked so far.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Merged returns the branches merged so far.
func (f *FakeProvider) Merged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.merged...)
}

func (f *FakeProvider) AddWorktree(_ context.Context, repo, path, branch, _ string, createBranch bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddWorktree"); err != nil {
		return err
	}

	path = filepath.Clean(path)
	if _, ok := f.worktreeSet(repo)[path]; ok {
		return &CommandError{
			Args:     []string{"worktree", "add", path},
			ExitCode: 128,
			Stderr:   fmt.Sprintf("fatal: '%s' already exists", path),
		}
	}
	branches := f.branchSet(repo)
	if createBranch && branches[branch] {
		return &CommandError{
			Args:     []string{"worktree", "add", "-b", branch, path},
			ExitCode: 128,
			Stderr:   fmt.Sprintf("fatal: a branch named '%s' already exists", branch),
		}
	}
	if !createBranch && !branches[branch] {
		return &CommandError{
			Args:     []string{"worktree", "add", path, branch},
			ExitCode: 128,
			Stderr:   fmt.Sprintf("fatal: invalid reference: %s", branch),
		}
	}

	if err := f.fs.MkdirAll(path, 0755); err != nil {
		return err
	}
	branches[branch] = true
	f.worktreeSet(repo)[path] = Entry{Path: path, Branch: branch, Head: "0000000"}
	return nil
}

func (f *FakeProvider) RemoveWorktree(_ context.Context, repo, path string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveWorktree"); err != nil {
		return err
	}

	path = filepath.Clean(path)
	set := f.worktreeSet(repo)
	if _, ok := set[path]; !ok {
		return &CommandError{
			Args:     []string{"worktree", "remove", path},
			ExitCode: 128,
			Stderr:   fmt.Sprintf("fatal: '%s' is not a working tree", path),
		}
	}
	delete(set, path)
	return f.fs.RemoveAll(path)
}

func (f *FakeProvider) ListWorktrees(_ context.Context, repo string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListWorktrees"); err != nil {
		return nil, err
	}

	set := f.worktreeSet(repo)
	entries := make([]Entry, 0, len(set))
	for _, e := range set {
		if _, err := f.fs.Stat(e.Path); os.IsNotExist(err) {
			e.Prunable = true
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Prune forgets worktrees whose directory has disappeared.
func (f *FakeProvider) Prune(_ context.Context, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Prune"); err != nil {
		return err
	}

	set := f.worktreeSet(repo)
	for path := range set {
		if _, err := f.fs.Stat(path); os.IsNotExist(err) {
			delete(set, path)
		}
	}
	return nil
}

func (f *FakeProvider) BranchExists(_ context.Context, repo, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BranchExists"); err != nil {
		return false, err
	}
	return f.branchSet(repo)[branch], nil
}

func (f *FakeProvider) DeleteBranch(_ context.Context, repo, branch string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteBranch"); err != nil {
		return err
	}
	delete(f.branchSet(repo), branch)
	return nil
}

func (f *FakeProvider) Merge(_ context.Context, _, branch, _ string, strategy MergeStrategy) (*MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Merge"); err != nil {
		return nil, err
	}

	if files := f.conflicts[branch]; len(files) > 0 && strategy == MergeOrt {
		return &MergeResult{
			Error:         fmt.Errorf("merge conflict detected"),
			ConflictFiles: append([]string(nil), files...),
		}, nil
	}
	f.merged = append(f.merged, branch)
	return &MergeResult{Merged: true}, nil
}

// enter records the call and pops a queued failure. Caller holds f.mu.
func (f *FakeProvider) enter(method string) error {
	f.calls = append(f.calls, method)
	queued := f.failures[method]
	if len(queued) == 0 {
		return nil
	}
	f.failures[method] = queued[1:]
	return queued[0]
}

func (f *FakeProvider) worktreeSet(repo string) map[string]Entry {
	set, ok := f.worktrees[repo]
	if !ok {
		set = make(map[string]Entry)
		f.worktrees[repo] = set
	}
	return set
}

func (f *FakeProvider) branchSet(repo string) map[string]bool {
	set, ok := f.branches[repo]
	if !ok {
		set = make(map[string]bool)
		f.branches[repo] = set
	}
	return set
}
