package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/sourceplane/stepflow/internal/model"
)

// Normalize returns a copy of the plan with methods upper-cased and paths
// trimmed. The input plan is left untouched.
func Normalize(plan *model.Plan) *model.Plan {
	if plan == nil {
		return nil
	}

	normalized := &model.Plan{
		Name:        plan.Name,
		Description: plan.Description,
		Steps:       make([]model.Step, len(plan.Steps)),
	}

	for i, step := range plan.Steps {
		step.Method = strings.ToUpper(strings.TrimSpace(step.Method))
		if step.Method == "" {
			step.Method = "GET"
		}
		step.Path = strings.TrimSpace(step.Path)

		if step.QueryParameters != nil {
			query := make(map[string]interface{}, len(step.QueryParameters))
			for k, v := range step.QueryParameters {
				query[k] = v
			}
			step.QueryParameters = query
		}
		if step.OutputMapping != nil {
			mapping := make(map[string]string, len(step.OutputMapping))
			for k, v := range step.OutputMapping {
				mapping[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			step.OutputMapping = mapping
		}

		normalized.Steps[i] = step
	}

	return normalized
}

// Compile normalizes and validates a plan in one go
func Compile(plan *model.Plan) (*model.Plan, *StepGraph, error) {
	normalized := Normalize(plan)
	graph, err := NewStepGraph(normalized)
	if err != nil {
		return nil, nil, err
	}
	return normalized, graph, nil
}

func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout %q must be positive", s)
	}
	return d, nil
}
