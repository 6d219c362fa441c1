package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/errgroup"

	"github.com/sourceplane/stepflow/internal/extract"
	"github.com/sourceplane/stepflow/internal/logger"
	"github.com/sourceplane/stepflow/internal/metrics"
	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/transport"
)

const (
	// DefaultTimeout applies to steps without their own timeout
	DefaultTimeout = 30 * time.Second

	// DefaultFailureStatus is the lowest HTTP status treated as a failure
	DefaultFailureStatus = 400
)

// Options tunes a Runner. Zero values fall back to the defaults.
type Options struct {
	Timeout       time.Duration
	FailureStatus int
	MaxParallel   int
	StripMarkup   bool
}

// Runner executes validated plans against an HTTP capability.
type Runner struct {
	client    transport.Client
	opts      Options
	logger    *slog.Logger
	templates *planner.TemplateCache
	policy    *bluemonday.Policy
}

func NewRunner(client transport.Client, opts Options, log *slog.Logger) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.FailureStatus <= 0 {
		opts.FailureStatus = DefaultFailureStatus
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		client:    client,
		opts:      opts,
		logger:    log,
		templates: planner.NewTemplateCache(),
		policy:    bluemonday.StrictPolicy(),
	}
}

// execution is the state of one plan run
type execution struct {
	runID string
	vars  *Variables

	mu      sync.Mutex
	results map[int]model.StepResult
	bodies  map[int]interface{}
}

func (e *execution) record(res model.StepResult, body interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[res.Index] = res
	e.bodies[res.Index] = body
}

func (e *execution) lookup(index int) (model.StepResult, interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[index], e.bodies[index]
}

// Execute runs every step of plan once, in index order, and reports on each.
// The only error is an invalid plan, in which case nothing was dispatched.
// Cancelling ctx stops steps that have not started; they are reported as
// skipped and the report is marked cancelled.
func (r *Runner) Execute(ctx context.Context, plan *model.Plan, base map[string]interface{}) (*model.ExecutionReport, error) {
	normalized, graph, err := planner.Compile(plan)
	if err != nil {
		metrics.RecordRun("invalid")
		return nil, err
	}

	run := &execution{
		runID:   uuid.NewString(),
		vars:    NewVariables(base),
		results: make(map[int]model.StepResult, len(normalized.Steps)),
		bodies:  make(map[int]interface{}, len(normalized.Steps)),
	}

	report := &model.ExecutionReport{
		RunID:     run.runID,
		Plan:      normalized.Name,
		StartedAt: time.Now().UTC(),
	}

	r.logger.Info("run_started", "run_id", run.runID, "plan", normalized.Name, "steps", len(normalized.Steps), "max_parallel", r.opts.MaxParallel)

	if r.opts.MaxParallel <= 1 {
		for _, idx := range graph.Order() {
			r.runStep(ctx, run, graph.Step(idx))
		}
	} else {
		for _, wave := range graph.Waves() {
			var g errgroup.Group
			g.SetLimit(r.opts.MaxParallel)
			for _, idx := range wave {
				step := graph.Step(idx)
				g.Go(func() error {
					r.runStep(ctx, run, step)
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	report.Steps = make([]model.StepResult, len(normalized.Steps))
	for _, idx := range graph.Order() {
		res, _ := run.lookup(idx)
		report.Steps[graph.Position(idx)] = res
	}

	report.Success = true
	for _, res := range report.Steps {
		if res.Status == model.StatusFailed && !res.Optional {
			report.Success = false
		}
		if res.SkipReason == model.SkipCancelled {
			report.Cancelled = true
		}
	}
	if ctx.Err() != nil {
		report.Cancelled = true
	}
	if report.Cancelled {
		report.Success = false
	}

	report.Variables = run.vars.Snapshot()
	report.Payload = r.buildPayload(report, run)
	report.FinishedAt = time.Now().UTC()

	outcome := "success"
	switch {
	case report.Cancelled:
		outcome = "cancelled"
	case !report.Success:
		outcome = "failed"
	}
	metrics.RecordRun(outcome)

	counts := report.Counts()
	r.logger.Info("run_finished",
		"run_id", run.runID,
		"outcome", outcome,
		"succeeded", counts[model.StatusSucceeded],
		"skipped", counts[model.StatusSkipped],
		"failed", counts[model.StatusFailed],
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	return report, nil
}

func (r *Runner) runStep(ctx context.Context, run *execution, step model.Step) {
	res := model.StepResult{
		Index:       step.Index,
		Description: step.Description,
		Method:      step.Method,
		Optional:    step.Optional,
	}

	if reason, skip := r.skipReason(ctx, run, step); skip {
		res.Status = model.StatusSkipped
		res.SkipReason = reason
		run.record(res, nil)
		metrics.RecordStep(string(res.Status), string(reason))
		r.logger.Info("step_skipped", "run_id", run.runID, "index", step.Index, "reason", reason)
		return
	}

	res.StartedAt = time.Now().UTC()
	r.logger.Debug("step_started", "run_id", run.runID, "index", step.Index, "method", step.Method, "path", step.Path)

	resolved, err := r.templates.Resolve(step.Path, step.QueryParameters, run.vars.Get)
	if err != nil {
		res.Path = step.Path
		r.fail(run, &res, &StepError{Index: step.Index, Kind: model.KindMissingVariable, Cause: err}, nil)
		return
	}
	res.Path = resolved.Path
	if len(resolved.Query) > 0 {
		res.Query = resolved.Query
	}

	resp, err := r.dispatch(ctx, step, resolved)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		r.fail(run, &res, &StepError{Index: step.Index, Kind: model.KindTransport, Cause: err}, nil)
		return
	}

	res.StatusCode = resp.StatusCode
	res.Body = rawBody(resp.Body)

	body, err := extract.Parse(resp.Body)
	if err != nil {
		r.logger.Warn("response_unparsed", "run_id", run.runID, "index", step.Index, "error", err)
		body = string(resp.Body)
	}

	if resp.StatusCode >= r.opts.FailureStatus {
		cause := fmt.Errorf("%s %s returned status %d", step.Method, resolved.Path, resp.StatusCode)
		r.fail(run, &res, &StepError{Index: step.Index, Kind: model.KindUpstream, StatusCode: resp.StatusCode, Cause: cause}, body)
		return
	}

	extracted, errs := extract.Apply(step.OutputMapping, body)
	for _, e := range errs {
		r.logger.Warn("output_mapping_invalid", "run_id", run.runID, "index", step.Index, "error", e)
	}
	for name := range step.OutputMapping {
		if _, ok := extracted[name]; !ok {
			r.logger.Debug("output_unset", "run_id", run.runID, "index", step.Index, "variable", name)
		}
	}
	if len(extracted) > 0 {
		res.Variables = extracted
		run.vars.Merge(extracted)
	}

	res.Status = model.StatusSucceeded
	run.record(res, body)
	metrics.RecordStep(string(res.Status), "")
	r.logger.Info("step_succeeded",
		"run_id", run.runID,
		"index", step.Index,
		"status_code", res.StatusCode,
		"has_results", extract.HasResults(body),
		"variables", len(extracted),
		"duration_ms", res.Duration.Milliseconds(),
	)
}

// skipReason evaluates cancellation, dependsOn and skipIfPreviousHasResults
// in that order. Only a succeeded step has a result set.
func (r *Runner) skipReason(ctx context.Context, run *execution, step model.Step) (model.SkipReason, bool) {
	if ctx.Err() != nil {
		return model.SkipCancelled, true
	}

	if step.DependsOn != nil {
		dep, _ := run.lookup(*step.DependsOn)
		switch dep.Status {
		case model.StatusFailed:
			return model.SkipDependencyFailed, true
		case model.StatusSkipped:
			return model.SkipDependencySkipped, true
		}
	}

	if step.SkipIfPreviousHasResults != nil {
		prev, body := run.lookup(*step.SkipIfPreviousHasResults)
		if prev.Status == model.StatusSucceeded && extract.HasResults(body) {
			return model.SkipPreviousHasResults, true
		}
	}

	return "", false
}

func (r *Runner) dispatch(ctx context.Context, step model.Step, resolved planner.ResolvedRequest) (*transport.Response, error) {
	stepCtx, cancel := context.WithTimeout(ctx, step.StepTimeout(r.opts.Timeout))
	defer cancel()

	start := time.Now()
	resp, err := r.client.Do(stepCtx, transport.Request{
		Method: step.Method,
		Path:   resolved.Path,
		Query:  resolved.Query,
	})
	metrics.RecordDispatch(step.Method, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", step.StepTimeout(r.opts.Timeout), err)
		}
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from %s %s", step.Method, resolved.Path)
	}
	return resp, nil
}

func (r *Runner) fail(run *execution, res *model.StepResult, stepErr *StepError, body interface{}) {
	res.Status = model.StatusFailed
	res.ErrorKind = stepErr.Kind
	res.Error = stepErr.Cause.Error()
	if res.Duration == 0 && !res.StartedAt.IsZero() {
		res.Duration = time.Since(res.StartedAt)
	}
	run.record(*res, body)
	metrics.RecordStep(string(res.Status), string(stepErr.Kind))

	level := slog.LevelWarn
	if res.Optional {
		level = slog.LevelInfo
	}
	r.logger.Log(context.Background(), level, "step_failed",
		"run_id", run.runID,
		"index", res.Index,
		"kind", stepErr.Kind,
		"status_code", res.StatusCode,
		"error", stepErr.Cause,
	)
}

// rawBody keeps JSON bodies verbatim and wraps anything else as a JSON string
// so the report always marshals
func rawBody(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, err := json.Marshal(string(data))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
