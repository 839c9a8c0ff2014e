package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforge/internal/artifact"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

func testTask() scheduler.Task {
	a := artifact.New("src/net/http.rs", "")
	return scheduler.Task{ID: "src/net/http.rs", Name: "net.http", Artifact: &a}
}

func newShell(t *testing.T, script string, mutate ...func(*Config)) *CommandExecutor {
	t.Helper()
	cfg := Config{Command: "sh", Args: []string{"-c", script}}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewCommandExecutor(cfg)
	require.NoError(t, err)
	return e
}

func TestExecuteSuccess(t *testing.T) {
	dir := t.TempDir()
	e := newShell(t, "echo {{.Module}} > marker; echo done")

	res, err := e.Execute(context.Background(), testTask(), dir)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "done\n", res.Output)
	assert.Empty(t, res.Error)
	assert.Positive(t, res.Duration)

	content, err := os.ReadFile(filepath.Join(dir, "marker"))
	require.NoError(t, err)
	assert.Equal(t, "net.http\n", string(content))
}

func TestExecuteEnvironment(t *testing.T) {
	e := newShell(t, `echo "$TASKFORGE_TASK_ID|$TASKFORGE_MODULE|$EXTRA"`, func(c *Config) {
		c.Env = []string{"EXTRA={{.Task.Name}}-{{.Language}}"}
	})

	res, err := e.Execute(context.Background(), testTask(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "src/net/http.rs|net.http|net.http-rust\n", res.Output)
}

func TestExecuteAdHocTask(t *testing.T) {
	e := newShell(t, `echo "[{{.Path}}]"`)
	res, err := e.Execute(context.Background(), scheduler.Task{ID: "lint"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "[]\n", res.Output)
}

func TestExecuteNonZeroExit(t *testing.T) {
	e := newShell(t, "echo partial; echo boom >&2; exit 3")

	res, err := e.Execute(context.Background(), testTask(), t.TempDir())
	require.NoError(t, err, "a failing task is a result, not an error")
	assert.False(t, res.Success)
	assert.Equal(t, "exit status 3: boom", res.Error)
	assert.Equal(t, "partial\n", res.Output)
}

func TestExecuteTimeout(t *testing.T) {
	e := newShell(t, "sleep 30 & wait", func(c *Config) { c.Timeout = 200 * time.Millisecond })

	start := time.Now()
	res, err := e.Execute(context.Background(), testTask(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second, "the whole process group is killed")
}

func TestExecuteCancelled(t *testing.T) {
	e := newShell(t, "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := e.Execute(ctx, testTask(), t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
}

func TestExecuteStartFailure(t *testing.T) {
	e, err := NewCommandExecutor(Config{Command: "/nonexistent/taskforge-binary"})
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), testTask(), t.TempDir())
	var startErr *StartError
	assert.True(t, errors.As(err, &startErr))
	assert.False(t, errors.Is(err, ErrInvalidCommand))
}

func TestInvalidCommand(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty command", Config{}},
		{"bad template", Config{Command: "sh", Args: []string{"{{.Task.ID"}}},
		{"bad env", Config{Command: "sh", Env: []string{"NOEQUALS"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandExecutor(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidCommand)
		})
	}

	t.Run("unknown field at render time", func(t *testing.T) {
		e, err := NewCommandExecutor(Config{Command: "echo", Args: []string{"{{.Task.Nope}}"}})
		require.NoError(t, err)
		_, err = e.Execute(context.Background(), testTask(), t.TempDir())
		assert.ErrorIs(t, err, ErrInvalidCommand)
	})
}

func TestExecuteLargeOutput(t *testing.T) {
	e := newShell(t, "i=0; while [ $i -lt 20000 ]; do echo line-$i-padding-padding; i=$((i+1)); done; echo last", func(c *Config) {
		c.Timeout = 20 * time.Second
	})

	res, err := e.Execute(context.Background(), testTask(), t.TempDir())
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Output, DefaultMaxOutput)
	assert.True(t, strings.HasSuffix(res.Output, "last\n"))
}

func TestTailKeepsRuneBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"under limit", "abc", 5, "abc"},
		{"ascii cut", "abcdef", 3, "def"},
		{"cut inside two-byte rune", "xé!", 3, "é!"},
		{"cut inside two-byte rune drops it", "xé!", 2, "!"},
		{"cut inside four-byte rune", "a😀b", 4, "b"},
		{"cut at rune start", "a😀b", 5, "😀b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tail([]byte(tt.in), tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestProcessManagerTracksRunningCommands(t *testing.T) {
	pm := NewProcessManager()
	e, err := NewCommandExecutor(Config{Command: "sleep", Args: []string{"30"}}, WithProcessManager(pm))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background(), testTask(), t.TempDir())
		done <- err
	}()

	require.Eventually(t, func() bool { return pm.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, pm.KillAll())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("command survived KillAll")
	}
	assert.Zero(t, pm.Count())
}

func TestFuncAdapter(t *testing.T) {
	var got string
	var exec Executor = Func(func(_ context.Context, task scheduler.Task, workDir string) (queue.Result, error) {
		got = task.ID + "@" + workDir
		return queue.Result{Success: true}, nil
	})

	res, err := exec.Execute(context.Background(), scheduler.Task{ID: "a"}, "/wt")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a@/wt", got)
}
