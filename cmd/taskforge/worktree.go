package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/worktree"
)

var sweepOlderThan time.Duration

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and reclaim task worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task worktrees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorktrees(cmd, func(ctx context.Context, e *env, mgr *worktree.Manager) error {
			list := mgr.List(e.repo)
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No task worktrees.")
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("PATH", "BRANCH", "TASK", "LAST USED", "STATE")
			for _, wt := range list {
				rel, err := filepath.Rel(e.repo, wt.Path)
				if err != nil {
					rel = wt.Path
				}
				t.Row(rel, wt.Branch, wt.TaskID, humanize.Time(wt.LastAccessedAt), worktreeState(wt))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		})
	},
}

var worktreePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget worktrees whose directory was deleted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorktrees(cmd, func(ctx context.Context, e *env, mgr *worktree.Manager) error {
			n, err := mgr.Prune(ctx, e.repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d worktree(s).\n", n)
			return nil
		})
	},
}

var worktreeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove worktrees idle longer than the threshold",
	Long: `Remove every task worktree that has not been used for longer than
--older-than (default worktree.idle_threshold, 24h).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorktrees(cmd, func(ctx context.Context, e *env, mgr *worktree.Manager) error {
			n, err := mgr.SweepIdle(ctx, e.repo, sweepOlderThan)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d idle worktree(s).\n", n)
			return err
		})
	},
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Remove one task worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorktrees(cmd, func(ctx context.Context, e *env, mgr *worktree.Manager) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := mgr.Remove(ctx, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", path)
			return nil
		})
	},
}

func init() {
	worktreeSweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "idle age to sweep (default worktree.idle_threshold)")

	worktreeCmd.AddCommand(worktreeListCmd)
	worktreeCmd.AddCommand(worktreePruneCmd)
	worktreeCmd.AddCommand(worktreeSweepCmd)
	worktreeCmd.AddCommand(worktreeRemoveCmd)
}

// withWorktrees loads every known worktree into a manager, runs fn and
// writes the resulting set back to the state database.
func withWorktrees(cmd *cobra.Command, fn func(ctx context.Context, e *env, mgr *worktree.Manager) error) error {
	ctx := cmd.Context()
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	store, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	mgr := e.worktreeManager(nil)
	if store != nil {
		records, err := store.ListWorktrees(ctx, e.repo)
		if err != nil {
			return fmt.Errorf("loading worktree records: %w", err)
		}
		for _, wt := range records {
			mgr.Track(wt)
		}
	}
	if _, err := mgr.Adopt(ctx, e.repo); err != nil {
		return err
	}

	fnErr := fn(ctx, e, mgr)
	if store != nil {
		if err := syncWorktrees(ctx, store, mgr, e.repo); err != nil {
			return errors.Join(fnErr, err)
		}
	}
	return fnErr
}

// syncWorktrees makes the stored records match what mgr tracks.
func syncWorktrees(ctx context.Context, store persistence.Store, mgr *worktree.Manager, repo string) error {
	tracked := make(map[string]bool)
	var errs []error
	for _, wt := range mgr.List(repo) {
		tracked[wt.Path] = true
		if err := store.SaveWorktree(ctx, wt); err != nil {
			errs = append(errs, err)
		}
	}

	stored, err := store.ListWorktrees(ctx, repo)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, wt := range stored {
		if tracked[wt.Path] {
			continue
		}
		if err := store.DeleteWorktree(ctx, wt.Path); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func worktreeState(wt worktree.Worktree) string {
	switch {
	case wt.IsOrphaned:
		return errorStyle.Render("orphaned")
	case wt.Active:
		return successStyle.Render("active")
	default:
		return mutedStyle.Render("idle")
	}
}
