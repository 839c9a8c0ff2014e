package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/control"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/executor"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/worktree"
)

var (
	runWorkers     int
	runMetricsAddr string
	runCommand     string
	runResume      bool
	runContinue    bool
	runMerge       bool
	runKeepFailed  bool
)

var runCmd = &cobra.Command{
	Use:   "run <dir|manifest.yaml>",
	Short: "Run every task in dependency order",
	Long: `Plan the artifacts, then run the configured executor command once per task
inside a fresh git worktree. Levels run one after another; tasks within a
level run in parallel on --workers workers.

While a run is in progress, 'taskforge cancel <task-id>' cancels a task and
'taskforge stop' stops the run.

Examples:
  taskforge run ./src --command 'make -C {{.WorkDir}} check'
  taskforge run manifest.yaml --workers 8 --metrics-addr :9090
  taskforge run ./src --resume`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "concurrent workers (default runner.workers)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default metrics.addr)")
	runCmd.Flags().StringVar(&runCommand, "command", "", "shell command to run per task, overrides executor.command")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip tasks a previous run completed")
	runCmd.Flags().BoolVar(&runContinue, "continue-on-failure", false, "run dependents of failed tasks anyway")
	runCmd.Flags().BoolVar(&runMerge, "merge", false, "merge each completed task branch into the base branch")
	runCmd.Flags().BoolVar(&runKeepFailed, "keep-failed", false, "keep worktrees of failed tasks for inspection")
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()
	applyRunFlags(e)

	plan, err := buildPlan(args[0])
	if err != nil {
		return err
	}

	ctx, cancelRun := context.WithCancel(cmd.Context())
	defer cancelRun()

	reg, m := metrics.NewRegistry()
	if addr := e.cfg.Metrics.Addr; addr != "" {
		shutdown := serveMetrics(addr, metrics.HandlerFor(reg), e.logger)
		defer shutdown()
	}

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	pm := executor.NewProcessManager()
	exec, err := newExecutor(e, pm, m)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	defer bus.Close()

	opts := []orchestrator.Option{
		orchestrator.WithEventBus(bus),
		orchestrator.WithLogger(e.logger),
		orchestrator.WithMetrics(m),
	}
	if store != nil {
		opts = append(opts, orchestrator.WithStore(store))
	}
	rc := e.cfg.Runner
	runner := orchestrator.NewRunner(orchestrator.Config{
		Repo:                e.repo,
		Workers:             rc.Workers,
		ContinueOnFailure:   rc.ContinueOnFailure,
		MergeOnSuccess:      rc.MergeOnSuccess,
		MergeStrategy:       worktree.ParseMergeStrategy(rc.MergeStrategy),
		KeepFailedWorktrees: rc.KeepFailedWorktrees,
		HeartbeatInterval:   rc.HeartbeatInterval,
		Resume:              runResume,
	}, e.worktreeManager(m), exec, opts...)

	watcher, err := control.NewWatcher(e.path(rc.ControlDir), func(c control.Command) {
		switch c.Kind {
		case control.Stop:
			cancelRun()
		case control.Cancel:
			if err := runner.Cancel(c.TaskID); err != nil {
				e.logger.Warn("cancel request rejected", "task_id", c.TaskID, "error", err)
			}
		}
	}, e.logger)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Close()

	// Tasks get their own cancellation; this catches anything still alive.
	stopKill := context.AfterFunc(ctx, func() {
		if err := pm.KillAll(); err != nil {
			e.logger.Error("failed to kill subprocesses", "error", err)
		}
	})
	defer stopKill()

	out := cmd.OutOrStdout()
	printed := make(chan struct{})
	taskEvents := bus.Subscribe(events.TopicTask, events.DefaultBufferSize)
	go func() {
		defer close(printed)
		printEvents(out, taskEvents)
	}()

	report, runErr := runner.Run(ctx, plan)
	bus.Close()
	<-printed

	if report != nil {
		renderReport(out, report)
	}
	if runErr != nil {
		return fmt.Errorf("run stopped: %w", runErr)
	}
	if !report.Succeeded() {
		s := report.Stats()
		return fmt.Errorf("%d of %d tasks did not complete", s.Failed+s.Cancelled, s.Total())
	}
	return nil
}

func applyRunFlags(e *env) {
	if runWorkers > 0 {
		e.cfg.Runner.Workers = runWorkers
	}
	if runMetricsAddr != "" {
		e.cfg.Metrics.Addr = runMetricsAddr
	}
	if runCommand != "" {
		e.cfg.Executor.Command = "sh"
		e.cfg.Executor.Args = []string{"-c", runCommand}
	}
	e.cfg.Runner.ContinueOnFailure = e.cfg.Runner.ContinueOnFailure || runContinue
	e.cfg.Runner.MergeOnSuccess = e.cfg.Runner.MergeOnSuccess || runMerge
	e.cfg.Runner.KeepFailedWorktrees = e.cfg.Runner.KeepFailedWorktrees || runKeepFailed
}

// newExecutor builds the command executor behind retry and a circuit breaker.
func newExecutor(e *env, pm *executor.ProcessManager, m *metrics.Metrics) (executor.Executor, error) {
	ec := e.cfg.Executor
	cmdExec, err := executor.NewCommandExecutor(executor.Config{
		Command: ec.Command,
		Args:    ec.Args,
		Env:     ec.Env,
		Timeout: ec.Timeout,
	}, executor.WithProcessManager(pm), executor.WithLogger(e.logger))
	if err != nil {
		return nil, fmt.Errorf("%w (set executor.command or pass --command)", err)
	}

	breakers := orchestrator.NewCircuitBreakerRegistry(orchestrator.BreakerConfig{
		MaxFailures: ec.Breaker.MaxFailures,
		Timeout:     ec.Breaker.Timeout,
	}, e.logger, m)

	retry := orchestrator.DefaultRetryConfig()
	retry.MaxRetries = ec.Retry.MaxRetries
	retry.InitialInterval = ec.Retry.InitialInterval
	retry.MaxInterval = ec.Retry.MaxInterval

	return orchestrator.NewResilientExecutor(cmdExec, "command", breakers.Get("command"), retry, e.logger, m), nil
}

// serveMetrics serves /metrics until the returned function is called.
func serveMetrics(addr string, handler http.Handler, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printEvents(w io.Writer, ch <-chan events.Event) {
	for ev := range ch {
		switch ev := ev.(type) {
		case events.TaskStartedEvent:
			fmt.Fprintf(w, "%s %s %s\n", mutedStyle.Render("started"), ev.ID, mutedStyle.Render("on "+ev.Worker))
		case events.TaskCompletedEvent:
			fmt.Fprintf(w, "%s %s %s\n", successStyle.Render("done   "), ev.ID, mutedStyle.Render(ev.Duration.Round(time.Millisecond).String()))
		case events.TaskFailedEvent:
			fmt.Fprintf(w, "%s %s: %s\n", errorStyle.Render("failed "), ev.ID, firstLine(ev.Err))
		case events.TaskCancelledEvent:
			fmt.Fprintf(w, "%s %s: %s\n", warningStyle.Render("skipped"), ev.ID, ev.Reason)
		case events.TaskMergedEvent:
			if !ev.Merged {
				fmt.Fprintf(w, "%s %s: conflicts in %v\n", warningStyle.Render("unmerged"), ev.ID, ev.ConflictFiles)
			}
		}
	}
}

func renderReport(w io.Writer, report *orchestrator.Report) {
	s := report.Stats()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		titleStyle.Render(fmt.Sprintf("%d tasks", s.Total())),
		successStyle.Render(fmt.Sprintf("%d completed", s.Completed)),
		errorStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		warningStyle.Render(fmt.Sprintf("%d cancelled", s.Cancelled)))
	fmt.Fprintln(w, mutedStyle.Render("took "+report.Duration().Round(time.Millisecond).String()))

	for _, o := range report.Outcomes() {
		switch {
		case o.Status == queue.StatusFailed:
			msg := ""
			if o.Result != nil {
				msg = firstLine(o.Result.Error)
			}
			fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("✗"), o.TaskID, msg)
		case o.Err != nil:
			fmt.Fprintf(w, "  %s %s: %s\n", warningStyle.Render("!"), o.TaskID, o.Err)
		}
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
