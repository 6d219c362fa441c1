package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sourceplane/stepflow/internal/loader"
	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/render"
	"github.com/sourceplane/stepflow/internal/runner"
	"github.com/sourceplane/stepflow/internal/store"
)

var (
	runPlanFile    string
	runVarsFile    string
	runVars        []string
	runOutputFile  string
	runFormat      string
	runBaseURL     string
	runMaxParallel int
	runArchive     string
	runStripMarkup bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a plan against the API",
	Long:  "Execute every step of a plan in index order and print the execution report. Exits non-zero when a required step failed or the run was interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(cmd)
	},
}

func registerRunCommand(root *cobra.Command) {
	root.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "plan.json", "Path to plan file (json, yaml or hjson), or - for stdin")
	runCmd.Flags().StringVar(&runVarsFile, "vars-file", "", "File with base variables (json, yaml or hjson object)")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Base variable as name=value (repeatable)")
	runCmd.Flags().StringVarP(&runOutputFile, "output", "o", "", "Write the report to this file instead of stdout")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "json", "Report format: json, yaml, debug")
	runCmd.Flags().StringVar(&runBaseURL, "base-url", "", "Override http.baseURL")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Override executor.maxParallel")
	runCmd.Flags().StringVar(&runArchive, "archive", "", "Store the report in this sqlite archive")
	runCmd.Flags().BoolVar(&runStripMarkup, "strip-markup", false, "Strip HTML markup from payload text")
}

func runPlan(cmd *cobra.Command) error {
	if runOutputFile == "" && runFormat != "debug" {
		// keep stdout clean for the report
		status = os.Stderr
	}

	if runBaseURL != "" {
		cfg.HTTP.BaseURL = runBaseURL
	}
	if runMaxParallel > 0 {
		cfg.Executor.MaxParallel = runMaxParallel
	}
	if cmd.Flags().Changed("strip-markup") {
		cfg.Executor.StripMarkup = runStripMarkup
	}
	if runArchive != "" {
		cfg.Archive.Path = runArchive
	}

	fmt.Fprintln(status, "□ Loading plan...")
	plan, err := readPlan(runPlanFile)
	if err != nil {
		printProblems(status, err)
		return err
	}

	vars, err := loader.LoadVariables(runVarsFile, runVars)
	if err != nil {
		return err
	}

	r, err := newRunner()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(status, "□ Running %d steps against %s...\n", len(plan.Steps), cfg.HTTP.BaseURL)
	report, err := r.Execute(ctx, plan, vars)
	if err != nil {
		printProblems(status, err)
		return err
	}

	for _, res := range report.Steps {
		fmt.Fprintln(status, stepLine(res))
	}

	if err := writeReport(report); err != nil {
		return err
	}

	if cfg.Archive.Path != "" {
		if err := archiveReport(report); err != nil {
			return err
		}
		fmt.Fprintf(status, "✓ Archived run %s\n", report.RunID)
	}

	switch {
	case report.Cancelled:
		return fmt.Errorf("run %s was cancelled", report.RunID)
	case !report.Success:
		return fmt.Errorf("run %s failed: %w", report.RunID, firstFailure(report))
	}
	fmt.Fprintln(status, "✓ Run complete")
	return nil
}

func stepLine(res model.StepResult) string {
	switch res.Status {
	case model.StatusSucceeded:
		return fmt.Sprintf("✓ Step %d: %s %s (HTTP %d)", res.Index, res.Method, res.Path, res.StatusCode)
	case model.StatusSkipped:
		return fmt.Sprintf("- Step %d: skipped (%s)", res.Index, res.SkipReason)
	default:
		line := fmt.Sprintf("✗ Step %d: %s: %s", res.Index, res.ErrorKind, res.Error)
		if res.Optional {
			line += " (optional)"
		}
		return line
	}
}

// firstFailure returns the error of the first required step that failed
func firstFailure(report *model.ExecutionReport) error {
	for _, res := range report.Steps {
		if res.Status == model.StatusFailed && !res.Optional {
			return runner.StepErrorFrom(res)
		}
	}
	return nil
}

func writeReport(report *model.ExecutionReport) error {
	r := render.NewRenderer()

	if runOutputFile != "" {
		if err := r.WriteReport(report, runOutputFile); err != nil {
			return err
		}
		fmt.Fprintf(status, "✓ Report written to %s\n", runOutputFile)
		return nil
	}

	if runFormat == "debug" {
		fmt.Print(r.DebugDump(report))
		return nil
	}

	data, err := r.Render(report, runFormat)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func archiveReport(report *model.ExecutionReport) error {
	archive, err := store.Open(cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer archive.Close()

	return archive.Save(context.Background(), report)
}
