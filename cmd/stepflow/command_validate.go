package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/render"
)

var (
	validatePlanFile string
	validatePrint    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a plan without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return validatePlan()
	},
}

func registerValidateCommand(root *cobra.Command) {
	root.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validatePlanFile, "plan", "p", "plan.json", "Path to plan file, or - for stdin")
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "Print the normalized plan as JSON")
}

func validatePlan() error {
	fmt.Fprintln(status, "□ Validating plan schema...")
	plan, err := readPlan(validatePlanFile)
	if err != nil {
		printProblems(status, err)
		return err
	}

	fmt.Fprintln(status, "□ Checking step references...")
	normalized, graph, err := planner.Compile(plan)
	if err != nil {
		printProblems(status, err)
		return err
	}

	fmt.Fprintf(status, "✓ Plan is valid: %d steps, %d waves\n", len(normalized.Steps), len(graph.Waves()))

	if validatePrint {
		data, err := render.NewRenderer().RenderJSON(normalized)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}
