package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sourceplane/stepflow/internal/loader"
	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/runner"
	"github.com/sourceplane/stepflow/internal/transport"
)

// readPlan loads a plan from path, or from stdin when path is "-"
func readPlan(path string) (*model.Plan, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read plan from stdin: %w", err)
		}
		return loader.ParsePlan(data, "")
	}
	return loader.LoadPlan(path)
}

// newRunner builds a runner against the configured API
func newRunner() (*runner.Runner, error) {
	client, err := transport.NewHTTPClient(transport.Config{
		BaseURL:      cfg.HTTP.BaseURL,
		Headers:      cfg.HTTP.Headers,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return runner.NewRunner(client, runner.Options{
		Timeout:       cfg.HTTP.TimeoutDuration(),
		FailureStatus: cfg.HTTP.FailureStatus,
		MaxParallel:   cfg.Executor.MaxParallel,
		StripMarkup:   cfg.Executor.StripMarkup,
	}, log), nil
}

// printProblems lists every problem of an invalid plan
func printProblems(w io.Writer, err error) {
	var invalid *planner.InvalidPlanError
	if errors.As(err, &invalid) {
		fmt.Fprintf(w, "✗ Plan is invalid (%d problems):\n", len(invalid.Problems))
		for _, p := range invalid.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", strings.TrimSpace(err.Error()))
}
