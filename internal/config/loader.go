package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TASKFORGE_RUNNER_WORKERS.
const EnvPrefix = "TASKFORGE"

// ProjectFileName is the per-repository config file.
const ProjectFileName = ".taskforge.yaml"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed files are.
// Files may be YAML or JSON, chosen by extension.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeConfigFile(v, globalPath); err != nil {
		return nil, fmt.Errorf("loading global config: %w", err)
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/taskforge/config.yaml (or ~/.config/taskforge)
// Project: .taskforge.yaml (relative to cwd)
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), ProjectFileName)
}

// GlobalPath returns the user-wide config file path.
func GlobalPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskforge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "taskforge", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskforge", "config.yaml")
}

// mergeConfigFile merges path into v. Missing files are silently skipped.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks values the rest of the system relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Runner.Workers < 1 {
		errs = append(errs, fmt.Errorf("runner.workers must be at least 1, got %d", c.Runner.Workers))
	}
	switch c.Runner.MergeStrategy {
	case "ort", "ours", "theirs":
	default:
		errs = append(errs, fmt.Errorf("runner.merge_strategy must be ort, ours or theirs, got %q", c.Runner.MergeStrategy))
	}
	if c.Worktree.IdleThreshold <= 0 {
		errs = append(errs, fmt.Errorf("worktree.idle_threshold must be positive, got %s", c.Worktree.IdleThreshold))
	}
	if c.Executor.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("executor.retry.max_retries must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
