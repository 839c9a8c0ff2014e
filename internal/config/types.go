package config

import "time"

// RepoConfig locates the repository tasks run against.
type RepoConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // Repository root (default ".")
}

// WorktreeConfig controls where and how task worktrees are allocated.
type WorktreeConfig struct {
	BaseDir              string        `mapstructure:"base_dir" yaml:"base_dir"`                               // Relative to the repo unless absolute
	Owner                string        `mapstructure:"owner" yaml:"owner,omitempty"`                           // Optional namespace segment
	Project              string        `mapstructure:"project" yaml:"project,omitempty"`                       // Optional namespace segment
	BaseBranch           string        `mapstructure:"base_branch" yaml:"base_branch,omitempty"`               // Empty means HEAD
	BranchPrefix         string        `mapstructure:"branch_prefix" yaml:"branch_prefix"`                     // Derived branch is prefix + task ID
	IdleThreshold        time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`                   // Sweep age
	DeleteBranchOnRemove bool          `mapstructure:"delete_branch_on_remove" yaml:"delete_branch_on_remove"` // Drop the branch with the worktree
}

// RunnerConfig controls the orchestration driver.
type RunnerConfig struct {
	Workers             int           `mapstructure:"workers" yaml:"workers"`
	ContinueOnFailure   bool          `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`     // Run dependents of failed tasks anyway
	MergeOnSuccess      bool          `mapstructure:"merge_on_success" yaml:"merge_on_success"`           // Merge task branches into the base branch
	MergeStrategy       string        `mapstructure:"merge_strategy" yaml:"merge_strategy"`               // ort, ours or theirs
	KeepFailedWorktrees bool          `mapstructure:"keep_failed_worktrees" yaml:"keep_failed_worktrees"` // Leave failed worktrees for inspection
	ControlDir          string        `mapstructure:"control_dir" yaml:"control_dir"`                     // Watched for cancel files
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`       // How often a running task's worktree is touched
}

// RetryConfig controls executor retries.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// BreakerConfig controls the executor circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" yaml:"max_failures"` // Consecutive failures before opening
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`           // Open -> half-open delay
}

// ExecutorConfig defines the command each task runs in its worktree.
// Command and Args are Go templates over the task.
type ExecutorConfig struct {
	Command string        `mapstructure:"command" yaml:"command"`
	Args    []string      `mapstructure:"args" yaml:"args,omitempty"`
	Env     []string      `mapstructure:"env" yaml:"env,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir,omitempty"` // Empty logs to stderr
	Level string `mapstructure:"level" yaml:"level"`
}

// StateConfig locates the SQLite state database.
type StateConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // Empty disables persistence
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"` // Empty disables the endpoint
}

// Config is the top-level configuration.
type Config struct {
	Repo     RepoConfig     `mapstructure:"repo" yaml:"repo"`
	Worktree WorktreeConfig `mapstructure:"worktree" yaml:"worktree"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	State    StateConfig    `mapstructure:"state" yaml:"state"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}
