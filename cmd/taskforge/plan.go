package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/scheduler"
)

var planOrder bool

var planCmd = &cobra.Command{
	Use:   "plan <dir|manifest.yaml>",
	Short: "Show the execution levels of a set of artifacts",
	Long: `Load artifacts from a source directory or a YAML manifest, infer their
dependencies from import statements and print the levels they would run in.
Tasks within a level are independent and run in parallel.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planOrder, "order", false, "print one flat dependency order instead of levels")
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := buildPlan(args[0])
	if err != nil {
		return err
	}
	if planOrder {
		for _, id := range plan.Order {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}
	renderPlan(cmd.OutOrStdout(), plan)
	return nil
}

func buildPlan(src string) (*orchestrator.Plan, error) {
	artifacts, err := loadArtifacts(src)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("no artifacts found in %s", src)
	}

	plan, err := orchestrator.BuildPlan(artifacts)
	if err != nil {
		var cycle *scheduler.CycleError
		if errors.As(err, &cycle) {
			return nil, fmt.Errorf("artifacts import each other in a cycle: %s", strings.Join(cycle.Nodes, " -> "))
		}
		return nil, err
	}
	return plan, nil
}

func renderPlan(w io.Writer, plan *orchestrator.Plan) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d tasks in %d levels", plan.Graph.Len(), len(plan.Levels))))

	for i, level := range plan.Levels {
		fmt.Fprintln(w)
		fmt.Fprintln(w, levelStyle.Render(fmt.Sprintf("Level %d", i))+mutedStyle.Render(fmt.Sprintf("  %d parallel", len(level))))

		for _, id := range level {
			node, ok := plan.Graph.Node(id)
			if !ok {
				continue
			}
			line := "  " + id
			if name := node.Task.Name; name != "" && name != id {
				line += mutedStyle.Render("  (" + name + ")")
			}
			if node.Task.Priority > 0 {
				line += mutedStyle.Render(fmt.Sprintf("  unblocks %d", node.Task.Priority))
			}
			if deps := node.Dependencies(); len(deps) > 0 {
				line += mutedStyle.Render("  after " + strings.Join(deps, ", "))
			}
			fmt.Fprintln(w, line)
		}
	}
}
