package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect persisted queue records",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tasks recorded in the state database",
	Args:  cobra.NoArgs,
	RunE:  runQueueStatus,
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
}

func runQueueStatus(cmd *cobra.Command, args []string) error {
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
	if store == nil {
		return fmt.Errorf("state persistence is disabled (state.path is empty)")
	}
	defer store.Close()

	records, err := store.ListQueuedTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading queue records: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No tasks recorded.")
		return nil
	}

	var stats queue.Stats
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TASK", "STATUS", "WORKER", "QUEUED", "TOOK")
	for _, rec := range records {
		took := ""
		if rec.Result != nil && rec.Result.Duration > 0 {
			took = rec.Result.Duration.Round(time.Millisecond).String()
		}
		t.Row(shortID(rec.ID), rec.Task.ID, statusLabel(rec.Status), rec.Worker, humanize.Time(rec.CreatedAt), took)

		switch rec.Status {
		case queue.StatusPending:
			stats.Pending++
		case queue.StatusInProgress:
			stats.InProgress++
		case queue.StatusCompleted:
			stats.Completed++
		case queue.StatusFailed:
			stats.Failed++
		case queue.StatusCancelled:
			stats.Cancelled++
		}
	}

	fmt.Fprintln(out, t.String())
	fmt.Fprintf(out, "%d pending, %d in progress, %d completed, %d failed, %d cancelled\n",
		stats.Pending, stats.InProgress, stats.Completed, stats.Failed, stats.Cancelled)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusLabel(s queue.Status) string {
	switch s {
	case queue.StatusCompleted:
		return successStyle.Render(string(s))
	case queue.StatusFailed:
		return errorStyle.Render(string(s))
	case queue.StatusCancelled:
		return warningStyle.Render(string(s))
	default:
		return string(s)
	}
}
