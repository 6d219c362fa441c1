package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sourceplane/stepflow/internal/extract"
	"github.com/sourceplane/stepflow/internal/model"
)

// ErrInvalidPlan is matched by every structural plan error
var ErrInvalidPlan = errors.New("invalid plan")

var allowedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// InvalidPlanError lists every problem found in a plan
type InvalidPlanError struct {
	Problems []string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan: %s", strings.Join(e.Problems, "; "))
}

// Is lets errors.Is match ErrInvalidPlan
func (e *InvalidPlanError) Is(target error) bool {
	return target == ErrInvalidPlan
}

// StepGraph is the validated dependency structure of a plan
type StepGraph struct {
	steps    map[int]model.Step
	order    []int
	position map[int]int
	preds    map[int][]int
}

// NewStepGraph validates a plan and builds its graph. References must point to
// existing steps with a strictly smaller index, so the index order is always a
// valid topological order.
func NewStepGraph(plan *model.Plan) (*StepGraph, error) {
	if plan == nil {
		return nil, &InvalidPlanError{Problems: []string{"plan cannot be nil"}}
	}

	var problems []string
	if len(plan.Steps) == 0 {
		problems = append(problems, "plan contains no steps")
	}

	g := &StepGraph{
		steps:    make(map[int]model.Step, len(plan.Steps)),
		position: make(map[int]int, len(plan.Steps)),
		preds:    make(map[int][]int, len(plan.Steps)),
	}

	for pos, step := range plan.Steps {
		if _, exists := g.steps[step.Index]; exists {
			problems = append(problems, fmt.Sprintf("step index %d is used more than once", step.Index))
			continue
		}
		g.steps[step.Index] = step
		g.position[step.Index] = pos
		g.order = append(g.order, step.Index)
	}
	sort.Ints(g.order)

	for _, step := range plan.Steps {
		problems = append(problems, validateStep(step, g.steps)...)
	}

	if len(problems) > 0 {
		return nil, &InvalidPlanError{Problems: problems}
	}

	g.buildPredecessors()
	return g, nil
}

func validateStep(step model.Step, steps map[int]model.Step) []string {
	var problems []string
	label := fmt.Sprintf("step %d", step.Index)

	if !allowedMethods[strings.ToUpper(step.Method)] {
		problems = append(problems, fmt.Sprintf("%s: unsupported method %q", label, step.Method))
	}
	if strings.TrimSpace(step.Path) == "" {
		problems = append(problems, fmt.Sprintf("%s: path cannot be empty", label))
	}

	check := func(field string, ref *int) {
		if ref == nil {
			return
		}
		switch {
		case *ref == step.Index:
			problems = append(problems, fmt.Sprintf("%s: %s refers to itself", label, field))
		case *ref > step.Index:
			problems = append(problems, fmt.Sprintf("%s: %s refers to later step %d", label, field, *ref))
		default:
			if _, exists := steps[*ref]; !exists {
				problems = append(problems, fmt.Sprintf("%s: %s refers to unknown step %d", label, field, *ref))
			}
		}
	}
	check("dependsOn", step.DependsOn)
	check("skipIfPreviousHasResults", step.SkipIfPreviousHasResults)

	for name, expr := range step.OutputMapping {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, fmt.Sprintf("%s: outputMapping has an empty variable name", label))
		}
		if _, err := extract.Compile(expr); err != nil {
			problems = append(problems, fmt.Sprintf("%s: outputMapping %s: %v", label, name, err))
		}
	}

	for key, val := range step.QueryParameters {
		switch val.(type) {
		case nil, string, bool, int, int64, float64:
		default:
			problems = append(problems, fmt.Sprintf("%s: query parameter %s must be a scalar", label, key))
		}
	}

	if step.Timeout != "" {
		if _, err := parseTimeout(step.Timeout); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
		}
	}

	return problems
}

// buildPredecessors records every step that must finish before another may
// start: explicit references, producers of variables a step reads, earlier
// writers of the same variable name and earlier readers of a name the step
// writes. Running the waves therefore sees the same variable values as
// running the steps one by one in index order.
func (g *StepGraph) buildPredecessors() {
	writers := make(map[string][]int)
	readers := make(map[string][]int)
	for _, idx := range g.order {
		step := g.steps[idx]
		preds := make(map[int]bool)
		reads := StepVariables(step.Path, step.QueryParameters)

		for _, ref := range step.References() {
			preds[ref] = true
		}
		for _, name := range reads {
			for _, w := range writers[name] {
				preds[w] = true
			}
		}
		for name := range step.OutputMapping {
			for _, w := range writers[name] {
				preds[w] = true
			}
			for _, rd := range readers[name] {
				preds[rd] = true
			}
		}

		list := make([]int, 0, len(preds))
		for p := range preds {
			list = append(list, p)
		}
		sort.Ints(list)
		g.preds[idx] = list

		for _, name := range reads {
			readers[name] = append(readers[name], idx)
		}
		for name := range step.OutputMapping {
			writers[name] = append(writers[name], idx)
		}
	}
}

// Order returns step indices in execution order
func (g *StepGraph) Order() []int {
	out := make([]int, len(g.order))
	copy(out, g.order)
	return out
}

// Step returns the step with the given index
func (g *StepGraph) Step(index int) model.Step {
	return g.steps[index]
}

// Position returns where the step appears in the plan document
func (g *StepGraph) Position(index int) int {
	return g.position[index]
}

// Predecessors returns the steps that must complete before index may start
func (g *StepGraph) Predecessors(index int) []int {
	return g.preds[index]
}

// Waves groups steps into layers. Steps in the same wave share no direct or
// transitive relationship and may run concurrently.
func (g *StepGraph) Waves() [][]int {
	level := make(map[int]int, len(g.order))
	maxLevel := 0
	for _, idx := range g.order {
		lvl := 0
		for _, p := range g.preds[idx] {
			if level[p]+1 > lvl {
				lvl = level[p] + 1
			}
		}
		level[idx] = lvl
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	waves := make([][]int, maxLevel+1)
	for _, idx := range g.order {
		waves[level[idx]] = append(waves[level[idx]], idx)
	}
	return waves
}

// Dependents returns the steps that directly reference index
func (g *StepGraph) Dependents(index int) []int {
	out := make([]int, 0)
	for _, idx := range g.order {
		for _, ref := range g.steps[idx].References() {
			if ref == index {
				out = append(out, idx)
				break
			}
		}
	}
	return out
}
