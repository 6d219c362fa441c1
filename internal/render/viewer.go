package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
)

const rule = "═══════════════════════════════════════════════════════════\n"

// PlanViewer provides human-readable visualization of a compiled plan
type PlanViewer struct {
	plan  *model.Plan
	graph *planner.StepGraph
}

// NewPlanViewer creates a new plan viewer
func NewPlanViewer(plan *model.Plan, graph *planner.StepGraph) *PlanViewer {
	return &PlanViewer{plan: plan, graph: graph}
}

// ViewSteps returns a tree of the steps in execution order with their
// dependency, fallback and variable edges
func (pv *PlanViewer) ViewSteps() string {
	order := pv.graph.Order()
	if len(order) == 0 {
		return "No steps in plan"
	}

	var sb strings.Builder
	if pv.plan.Name != "" {
		sb.WriteString(pv.plan.Name + "\n")
		sb.WriteString(rule)
	}

	for i, idx := range order {
		step := pv.graph.Step(idx)
		isLast := i == len(order)-1

		prefix := "├─ "
		connector := "│  "
		if isLast {
			prefix = "└─ "
			connector = "   "
		}

		line := fmt.Sprintf("%s%d. %s %s", prefix, step.Index, step.Method, truncate(step.Path, 60))
		if step.Timeout != "" {
			line += fmt.Sprintf(" [%s]", step.Timeout)
		}
		if step.Optional {
			line += " (optional)"
		}
		sb.WriteString(line + "\n")

		var details []string
		if step.Description != "" {
			details = append(details, step.Description)
		}
		if step.DependsOn != nil {
			details = append(details, fmt.Sprintf("(depends on) %d", *step.DependsOn))
		}
		if step.SkipIfPreviousHasResults != nil {
			details = append(details, fmt.Sprintf("(fallback for) %d", *step.SkipIfPreviousHasResults))
		}
		if deps := pv.graph.Dependents(idx); len(deps) > 0 {
			details = append(details, "(referenced by) "+joinInts(deps))
		}
		if uses := planner.StepVariables(step.Path, step.QueryParameters); len(uses) > 0 {
			details = append(details, "(uses) "+strings.Join(uses, ", "))
		}
		if len(step.OutputMapping) > 0 {
			names := make([]string, 0, len(step.OutputMapping))
			for name := range step.OutputMapping {
				names = append(names, name)
			}
			sort.Strings(names)
			details = append(details, "(sets) "+strings.Join(names, ", "))
		}

		for j, d := range details {
			detailPrefix := connector + "├─ "
			if j == len(details)-1 {
				detailPrefix = connector + "└─ "
			}
			sb.WriteString(detailPrefix + d + "\n")
		}
	}

	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Summary: %d steps, %d waves\n", len(order), len(pv.graph.Waves())))

	return sb.String()
}

// ViewWaves shows the groups of steps that may run concurrently
func (pv *PlanViewer) ViewWaves() string {
	waves := pv.graph.Waves()
	if len(waves) == 0 {
		return "No steps in plan"
	}

	var sb strings.Builder
	sb.WriteString("Execution Waves\n")
	sb.WriteString(rule + "\n")

	for i, wave := range waves {
		sb.WriteString(fmt.Sprintf("Wave %d (%d steps)\n", i+1, len(wave)))
		for j, idx := range wave {
			step := pv.graph.Step(idx)
			prefix := "├─ "
			if j == len(wave)-1 {
				prefix = "└─ "
			}

			line := fmt.Sprintf("%s%d. %s %s", prefix, step.Index, step.Method, truncate(step.Path, 60))
			if preds := pv.graph.Predecessors(idx); len(preds) > 0 {
				line += " ← " + joinInts(preds)
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
