package worktree

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorktreeExists is returned when the target path is already tracked
	// or occupied on disk.
	ErrWorktreeExists = errors.New("worktree already exists")
	// ErrWorktreeNotFound is returned for paths that are not tracked.
	ErrWorktreeNotFound = errors.New("worktree not found")
	// ErrCommandFailed is matched by every *CommandError.
	ErrCommandFailed = errors.New("version control command failed")
)

// CommandError is a failed version-control invocation. Stderr is kept
// verbatim for operators.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: git %s (exit %d)", ErrCommandFailed, strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

func (e *CommandError) Unwrap() error { return e.Err }

// lockMarkers are stderr fragments git prints when another process holds a
// repository lock. These failures are transient.
var lockMarkers = []string{
	".lock': File exists",
	"Unable to create",
	"cannot lock ref",
	"could not lock",
	"Another git process seems to be running",
}

// IsRetryable reports whether err is a command failure caused by lock
// contention on the shared repository.
func IsRetryable(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, marker := range lockMarkers {
		if strings.Contains(cmdErr.Stderr, marker) {
			return true
		}
	}
	return false
}
