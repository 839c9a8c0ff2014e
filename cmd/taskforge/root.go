package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/artifact"
	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/worktree"
)

var (
	configPath string
	repoFlag   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Dependency-ordered task orchestration in isolated git worktrees",
	Long: `taskforge turns a set of source artifacts into a dependency graph,
partitions it into levels of independent tasks and runs every task in its
own git worktree, so parallel agents never touch each other's files.

Configuration is read from $XDG_CONFIG_HOME/taskforge/config.yaml, then
<repo>/.taskforge.yaml, then TASKFORGE_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "project config file (default <repo>/.taskforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository root (overrides repo.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(worktreeCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
}

// env is the resolved configuration shared by commands.
type env struct {
	cfg    *config.Config
	repo   string // absolute repository root
	logger *logging.Logger
}

func loadEnv() (*env, error) {
	base := repoFlag
	if base == "" {
		base = "."
	}
	project := configPath
	if project == "" {
		project = filepath.Join(base, config.ProjectFileName)
	}

	cfg, err := config.Load(config.GlobalPath(), project)
	if err != nil {
		return nil, err
	}
	if repoFlag != "" {
		cfg.Repo.Path = repoFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logging.ParseLevel(logLevel)
	}

	repo, err := filepath.Abs(cfg.Repo.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving repository path: %w", err)
	}

	e := &env{cfg: cfg, repo: repo}
	logger, err := logging.NewLogger(e.path(cfg.Logging.Dir), cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	e.logger = logger
	return e, nil
}

// path resolves p against the repository root.
func (e *env) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.repo, p)
}

func (e *env) close() {
	e.logger.Close()
}

// openStore opens the state database, or returns nil when persistence is
// disabled.
func (e *env) openStore(ctx context.Context) (persistence.Store, error) {
	if e.cfg.State.Path == "" {
		return nil, nil
	}
	store, err := persistence.NewSQLiteStore(ctx, e.path(e.cfg.State.Path))
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	return store, nil
}

func (e *env) worktreeManager(m *metrics.Metrics) *worktree.Manager {
	wc := e.cfg.Worktree
	return worktree.NewManager(worktree.NewGitProvider(), worktree.Config{
		BaseDir:              wc.BaseDir,
		Owner:                wc.Owner,
		Project:              wc.Project,
		BaseBranch:           wc.BaseBranch,
		BranchPrefix:         wc.BranchPrefix,
		IdleThreshold:        wc.IdleThreshold,
		DeleteBranchOnRemove: wc.DeleteBranchOnRemove,
	}, worktree.WithLogger(e.logger), worktree.WithMetrics(m))
}

// loadArtifacts reads a source directory or a YAML manifest.
func loadArtifacts(src string) ([]artifact.Artifact, error) {
	fs := afero.NewOsFs()
	info, err := fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s does not exist", src)
		}
		return nil, err
	}
	if info.IsDir() {
		return artifact.LoadDir(fs, src)
	}
	return artifact.LoadManifest(fs, src)
}
