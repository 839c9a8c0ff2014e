package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{Path: "."},
		Worktree: WorktreeConfig{
			BaseDir:       ".worktrees",
			BranchPrefix:  "task/",
			IdleThreshold: 24 * time.Hour,
		},
		Runner: RunnerConfig{
			Workers:           4,
			MergeStrategy:     "ort",
			ControlDir:        ".taskforge/control",
			HeartbeatInterval: 30 * time.Second,
		},
		Executor: ExecutorConfig{
			Timeout: 30 * time.Minute,
			Retry: RetryConfig{
				MaxRetries:      2,
				InitialInterval: time.Second,
				MaxInterval:     30 * time.Second,
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info"},
		State:   StateConfig{Path: ".taskforge/state.db"},
	}
}

// setDefaults registers every key with viper so environment overrides and
// partial files resolve against the built-in values.
func setDefaults(v *viper.Viper) {
	for key, value := range settings(DefaultConfig()) {
		v.SetDefault(key, value)
	}
}

// settings flattens cfg into dotted viper keys. Durations are rendered as
// strings so saved files stay readable.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"repo.path": cfg.Repo.Path,

		"worktree.base_dir":                cfg.Worktree.BaseDir,
		"worktree.owner":                   cfg.Worktree.Owner,
		"worktree.project":                 cfg.Worktree.Project,
		"worktree.base_branch":             cfg.Worktree.BaseBranch,
		"worktree.branch_prefix":           cfg.Worktree.BranchPrefix,
		"worktree.idle_threshold":          cfg.Worktree.IdleThreshold.String(),
		"worktree.delete_branch_on_remove": cfg.Worktree.DeleteBranchOnRemove,

		"runner.workers":               cfg.Runner.Workers,
		"runner.continue_on_failure":   cfg.Runner.ContinueOnFailure,
		"runner.merge_on_success":      cfg.Runner.MergeOnSuccess,
		"runner.merge_strategy":        cfg.Runner.MergeStrategy,
		"runner.keep_failed_worktrees": cfg.Runner.KeepFailedWorktrees,
		"runner.control_dir":           cfg.Runner.ControlDir,
		"runner.heartbeat_interval":    cfg.Runner.HeartbeatInterval.String(),

		"executor.command":                cfg.Executor.Command,
		"executor.args":                   cfg.Executor.Args,
		"executor.env":                    cfg.Executor.Env,
		"executor.timeout":                cfg.Executor.Timeout.String(),
		"executor.retry.max_retries":      cfg.Executor.Retry.MaxRetries,
		"executor.retry.initial_interval": cfg.Executor.Retry.InitialInterval.String(),
		"executor.retry.max_interval":     cfg.Executor.Retry.MaxInterval.String(),
		"executor.breaker.max_failures":   cfg.Executor.Breaker.MaxFailures,
		"executor.breaker.timeout":        cfg.Executor.Breaker.Timeout.String(),

		"logging.dir":   cfg.Logging.Dir,
		"logging.level": cfg.Logging.Level,

		"state.path": cfg.State.Path,

		"metrics.addr": cfg.Metrics.Addr,
	}
}
