package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

// DefaultMaxOutput is how many trailing bytes of output a Result keeps.
const DefaultMaxOutput = 64 << 10

// Config defines the command run for every task. Command, Args and Env
// entries are text/template strings over TemplateData.
type Config struct {
	Command   string
	Args      []string
	Env       []string // KEY=VALUE pairs added to the inherited environment
	Timeout   time.Duration
	MaxOutput int
}

// TemplateData is what command templates are rendered with.
type TemplateData struct {
	Task     scheduler.Task
	WorkDir  string
	Path     string // artifact path, empty for ad-hoc tasks
	Module   string // dotted module path
	Language string
}

// CommandExecutor runs a shell command per task in the task's worktree.
type CommandExecutor struct {
	cfg     Config
	command *template.Template
	args    []*template.Template
	env     []*template.Template
	pm      *ProcessManager
	logger  *logging.Logger
}

var _ Executor = (*CommandExecutor)(nil)

// Option configures a CommandExecutor.
type Option func(*CommandExecutor)

// WithProcessManager tracks spawned processes in pm.
func WithProcessManager(pm *ProcessManager) Option {
	return func(e *CommandExecutor) { e.pm = pm }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *CommandExecutor) { e.logger = l }
}

// NewCommandExecutor parses the command templates. A malformed template or
// an empty command returns an error wrapping ErrInvalidCommand.
func NewCommandExecutor(cfg Config, opts ...Option) (*CommandExecutor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: no command configured", ErrInvalidCommand)
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}

	e := &CommandExecutor{cfg: cfg, logger: logging.NopLogger()}
	var err error
	if e.command, err = parse("command", cfg.Command); err != nil {
		return nil, err
	}
	for i, a := range cfg.Args {
		t, err := parse(fmt.Sprintf("arg%d", i), a)
		if err != nil {
			return nil, err
		}
		e.args = append(e.args, t)
	}
	for i, kv := range cfg.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("%w: env entry %q is not KEY=VALUE", ErrInvalidCommand, kv)
		}
		t, err := parse(fmt.Sprintf("env%d", i), kv)
		if err != nil {
			return nil, err
		}
		e.env = append(e.env, t)
	}

	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("executor")
	return e, nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, name, err)
	}
	return t, nil
}

// Execute runs the command for task in workDir. A non-zero exit or a timeout
// is a failed Result; a command that cannot be rendered or started, or a
// cancelled ctx, is an error.
func (e *CommandExecutor) Execute(ctx context.Context, task scheduler.Task, workDir string) (queue.Result, error) {
	start := time.Now()
	data := newTemplateData(task, workDir)

	name, err := render(e.command, data)
	if err != nil {
		return queue.Result{}, err
	}
	args := make([]string, 0, len(e.args))
	for _, t := range e.args {
		a, err := render(t, data)
		if err != nil {
			return queue.Result{}, err
		}
		args = append(args, a)
	}
	env := append(os.Environ(), taskEnv(data)...)
	for _, t := range e.env {
		kv, err := render(t, data)
		if err != nil {
			return queue.Result{}, err
		}
		env = append(env, kv)
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := newCommand(runCtx, name, args...)
	cmd.Dir = workDir
	cmd.Env = env

	log := e.logger.WithTask(task.ID)
	log.Debug("running task command", "command", name, "args", args, "work_dir", workDir)

	stdout, stderr, err := runCommand(cmd, e.pm)
	res := queue.Result{
		Output:   tail(stdout, e.cfg.MaxOutput),
		Duration: time.Since(start),
	}

	var startErr *StartError
	switch {
	case err == nil:
		res.Success = true
		return res, nil
	case errors.As(err, &startErr):
		res.Error = startErr.Error()
		return res, startErr
	case ctx.Err() != nil:
		res.Error = "cancelled"
		return res, ctx.Err()
	case runCtx.Err() != nil:
		res.Error = fmt.Sprintf("timed out after %s", e.cfg.Timeout)
		log.Warn("task command timed out", "timeout", e.cfg.Timeout.String())
		return res, nil
	default:
		res.Error = fmt.Sprintf("exit status %d", exitCode(err))
		if msg := strings.TrimSpace(tail(stderr, e.cfg.MaxOutput)); msg != "" {
			res.Error += ": " + msg
		}
		return res, nil
	}
}

func newTemplateData(task scheduler.Task, workDir string) TemplateData {
	data := TemplateData{Task: task, WorkDir: workDir}
	if a := task.Artifact; a != nil {
		data.Path = a.Path
		data.Module = a.Module.String()
		data.Language = string(a.Language)
	}
	return data
}

func taskEnv(d TemplateData) []string {
	return []string{
		"TASKFORGE_TASK_ID=" + d.Task.ID,
		"TASKFORGE_TASK_NAME=" + d.Task.Name,
		"TASKFORGE_WORKDIR=" + d.WorkDir,
		"TASKFORGE_ARTIFACT=" + d.Path,
		"TASKFORGE_MODULE=" + d.Module,
	}
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return buf.String(), nil
}

// tail returns at most limit trailing bytes of b, starting on a rune
// boundary.
func tail(b []byte, limit int) string {
	if len(b) > limit {
		b = b[len(b)-limit:]
		for i := 0; i < utf8.UTFMax && len(b) > 0 && !utf8.RuneStart(b[0]); i++ {
			b = b[1:]
		}
	}
	return string(b)
}
