package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/render"
)

var (
	viewPlanFile string
	viewMode     string
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show a plan's steps and execution waves",
	RunE: func(cmd *cobra.Command, args []string) error {
		return viewPlan()
	},
}

func registerViewCommand(root *cobra.Command) {
	root.AddCommand(viewCmd)

	viewCmd.Flags().StringVarP(&viewPlanFile, "plan", "p", "plan.json", "Path to plan file, or - for stdin")
	viewCmd.Flags().StringVarP(&viewMode, "mode", "m", "steps", "View mode: steps, waves")
}

func viewPlan() error {
	plan, err := readPlan(viewPlanFile)
	if err != nil {
		printProblems(status, err)
		return err
	}

	normalized, graph, err := planner.Compile(plan)
	if err != nil {
		printProblems(status, err)
		return err
	}

	viewer := render.NewPlanViewer(normalized, graph)
	switch viewMode {
	case "steps":
		fmt.Print(viewer.ViewSteps())
	case "waves":
		fmt.Print(viewer.ViewWaves())
	default:
		return fmt.Errorf("unknown view mode %q (want steps or waves)", viewMode)
	}
	return nil
}
