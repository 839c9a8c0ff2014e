package worktree

import "sync"

// pathLocks provides per-path mutual exclusion. Each worktree path gets its
// own mutex, so operations on different paths run concurrently while two
// operations on the same path are serialized.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for path, creating it on first use.
func (l *pathLocks) Lock(path string) {
	l.mu.Lock()
	pl, ok := l.locks[path]
	if !ok {
		pl = &sync.Mutex{}
		l.locks[path] = pl
	}
	l.mu.Unlock()

	pl.Lock()
}

// Unlock releases the mutex for path.
func (l *pathLocks) Unlock(path string) {
	l.mu.Lock()
	pl, ok := l.locks[path]
	l.mu.Unlock()

	if ok {
		pl.Unlock()
	}
}
