package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/control"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>...",
	Short: "Cancel tasks of the run in progress",
	Long: `Ask the run in progress to cancel the given tasks. Pending tasks never
start; running tasks have their command killed. Dependents are cancelled too
unless the run continues on failure.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		if err := control.RequestCancel(e.path(e.cfg.Runner.ControlDir), args...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %d task(s).\n", len(args))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the run in progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		if err := control.RequestStop(e.path(e.cfg.Runner.ControlDir)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
		return nil
	},
}
