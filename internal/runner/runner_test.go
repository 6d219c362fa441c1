package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceplane/stepflow/internal/extract"
	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/transport"
)

type reply struct {
	status int
	body   string
	delay  time.Duration
	err    error
}

// fakeAPI answers requests by path and records every call it receives
type fakeAPI struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []transport.Request
}

func newFakeAPI(replies map[string]reply) *fakeAPI {
	return &fakeAPI{replies: replies}
}

func (f *fakeAPI) Do(ctx context.Context, req transport.Request) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	rep, ok := f.replies[req.Path]
	f.mu.Unlock()

	if !ok {
		return &transport.Response{StatusCode: 404, Body: []byte(`{"error":"not found"}`)}, nil
	}
	if rep.delay > 0 {
		select {
		case <-time.After(rep.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if rep.err != nil {
		return nil, rep.err
	}
	status := rep.status
	if status == 0 {
		status = 200
	}
	var body []byte
	if rep.body != "" {
		body = []byte(rep.body)
	}
	return &transport.Response{StatusCode: status, Body: body}, nil
}

func (f *fakeAPI) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Path
	}
	return out
}

func labelPlan() *model.Plan {
	return &model.Plan{
		Name: "boxed warning",
		Steps: []model.Step{
			{
				Index:           1,
				Description:     "find the label",
				Method:          "GET",
				Path:            "/api/Label/search",
				QueryParameters: map[string]interface{}{"genericName": "lisinopril"},
				OutputMapping:   map[string]string{"documentGuid": "$[0].documentGUID"},
			},
			{
				Index:           2,
				Description:     "boxed warning section",
				Method:          "GET",
				Path:            "/api/Label/section/content/{{documentGuid}}",
				QueryParameters: map[string]interface{}{"sectionCode": "34066-1"},
				DependsOn:       model.IntPtr(1),
			},
			{
				Index:                    3,
				Description:              "warnings section",
				Method:                   "GET",
				Path:                     "/api/Label/section/content/{{documentGuid}}/fallback",
				QueryParameters:          map[string]interface{}{"sectionCode": "43685-7"},
				DependsOn:                model.IntPtr(1),
				SkipIfPreviousHasResults: model.IntPtr(2),
			},
		},
	}
}

func TestExecute_FallbackRunsWhenPrimaryIsEmpty(t *testing.T) {
	api := newFakeAPI(map[string]reply{
		"/api/Label/search":                      {body: `[{"documentGUID":"g1"}]`},
		"/api/Label/section/content/g1":          {body: `[]`},
		"/api/Label/section/content/g1/fallback": {body: `[{"ContentText":"Use with caution"}]`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), labelPlan(), nil)
	require.NoError(t, err)

	require.Len(t, report.Steps, 3)
	for _, res := range report.Steps {
		assert.Equal(t, model.StatusSucceeded, res.Status, "step %d", res.Index)
	}
	assert.True(t, report.Success)
	assert.False(t, report.Cancelled)
	assert.Equal(t, "g1", report.Variables["documentGuid"])
	assert.Equal(t, map[string]string{"sectionCode": "34066-1"}, report.Steps[1].Query)
	assert.NotEmpty(t, report.RunID)

	// the empty step contributes nothing to the payload
	require.Len(t, report.Payload.Results, 2)
	assert.Equal(t, 1, report.Payload.Results[0].Index)
	assert.Equal(t, 3, report.Payload.Results[1].Index)
}

func TestExecute_FallbackSkippedWhenPrimaryHasResults(t *testing.T) {
	api := newFakeAPI(map[string]reply{
		"/api/Label/search":             {body: `[{"documentGUID":"g1"}]`},
		"/api/Label/section/content/g1": {body: `[{"ContentText":"Boxed"}]`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), labelPlan(), nil)
	require.NoError(t, err)

	third, ok := report.Result(3)
	require.True(t, ok)
	assert.Equal(t, model.StatusSkipped, third.Status)
	assert.Equal(t, model.SkipPreviousHasResults, third.SkipReason)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"/api/Label/search", "/api/Label/section/content/g1"}, api.paths())
}

func TestExecute_DependencyFailureSkipsDependents(t *testing.T) {
	api := newFakeAPI(map[string]reply{
		"/api/Label/search": {status: 500, body: `{"error":"boom"}`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), labelPlan(), nil)
	require.NoError(t, err)

	first := report.Steps[0]
	assert.Equal(t, model.StatusFailed, first.Status)
	assert.Equal(t, model.KindUpstream, first.ErrorKind)
	assert.Equal(t, 500, first.StatusCode)
	assert.ErrorIs(t, StepErrorFrom(first), ErrUpstream)

	assert.Equal(t, model.SkipDependencyFailed, report.Steps[1].SkipReason)
	assert.Equal(t, model.SkipDependencyFailed, report.Steps[2].SkipReason)
	assert.False(t, report.Success)
	assert.Len(t, api.paths(), 1)
}

func TestExecute_NotFoundIsUpstreamError(t *testing.T) {
	api := newFakeAPI(map[string]reply{
		"/api/Label/search": {body: `[{"documentGUID":"g1"}]`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), labelPlan(), nil)
	require.NoError(t, err)

	second := report.Steps[1]
	assert.Equal(t, model.StatusFailed, second.Status)
	assert.Equal(t, model.KindUpstream, second.ErrorKind)
	assert.Equal(t, 404, second.StatusCode)
	// a failed step has no result set, so the fallback still runs
	assert.Equal(t, model.StatusFailed, report.Steps[2].Status)
	assert.False(t, report.Success)
}

func TestExecute_SkippedDependencyPropagates(t *testing.T) {
	plan := labelPlan()
	plan.Steps = append(plan.Steps, model.Step{
		Index:     4,
		Method:    "GET",
		Path:      "/api/Label/section/content/{{documentGuid}}/more",
		DependsOn: model.IntPtr(3),
	})
	api := newFakeAPI(map[string]reply{
		"/api/Label/search":             {body: `[{"documentGUID":"g1"}]`},
		"/api/Label/section/content/g1": {body: `[{"ContentText":"Boxed"}]`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	fourth, _ := report.Result(4)
	assert.Equal(t, model.StatusSkipped, fourth.Status)
	assert.Equal(t, model.SkipDependencySkipped, fourth.SkipReason)
	assert.True(t, report.Success)
}

func TestExecute_InvalidPlanDispatchesNothing(t *testing.T) {
	plan := labelPlan()
	plan.Steps[1].DependsOn = model.IntPtr(3)
	api := newFakeAPI(nil)

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, planner.ErrInvalidPlan))
	assert.Empty(t, api.paths())
}

func TestExecute_MissingVariableFailsBeforeDispatch(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/api/items/{{itemId}}", QueryParameters: map[string]interface{}{"lang": "{{language}}"}},
	}}
	api := newFakeAPI(nil)

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	res := report.Steps[0]
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, model.KindMissingVariable, res.ErrorKind)
	assert.Contains(t, res.Error, "itemId")
	assert.Contains(t, res.Error, "language")
	assert.ErrorIs(t, StepErrorFrom(res), ErrMissingVariable)
	assert.Empty(t, api.paths())
	assert.False(t, report.Success)
}

func TestExecute_BaseVariables(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/api/items/{{itemId}}"},
	}}
	api := newFakeAPI(map[string]reply{"/api/items/42": {body: `{"id":42}`}})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, map[string]interface{}{"itemId": 42})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, report.Steps[0].Status)
	assert.Equal(t, "/api/items/42", report.Steps[0].Path)
}

func TestExecute_StepTimeout(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/slow", Timeout: "20ms"},
		{Index: 2, Method: "GET", Path: "/fast"},
	}}
	api := newFakeAPI(map[string]reply{
		"/slow": {delay: time.Second, body: `[1]`},
		"/fast": {body: `[1]`},
	})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, model.KindTransport, report.Steps[0].ErrorKind)
	assert.Contains(t, report.Steps[0].Error, "timed out")
	assert.Equal(t, model.StatusSucceeded, report.Steps[1].Status)
	assert.False(t, report.Cancelled)
}

func TestExecute_TransportError(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{{Index: 1, Method: "GET", Path: "/down"}}}
	api := newFakeAPI(map[string]reply{"/down": {err: errors.New("connection refused")}})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, StepErrorFrom(report.Steps[0]), ErrTransport)
	assert.Contains(t, report.Steps[0].Error, "connection refused")
}

func TestExecute_OptionalFailureKeepsSuccess(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/missing", Optional: true},
		{Index: 2, Method: "GET", Path: "/ok"},
	}}
	api := newFakeAPI(map[string]reply{"/ok": {body: `{"ok":true}`}})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, report.Steps[0].Status)
	assert.True(t, report.Success)
}

func TestExecute_CancelledRunSkipsRemainingSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/first"},
		{Index: 2, Method: "GET", Path: "/second"},
	}}
	api := newFakeAPI(map[string]reply{"/second": {body: `[1]`}})
	client := transport.ClientFunc(func(c context.Context, req transport.Request) (*transport.Response, error) {
		cancel()
		return api.Do(c, req)
	})

	report, err := NewRunner(client, Options{}, nil).Execute(ctx, plan, nil)
	require.NoError(t, err)

	assert.Equal(t, model.SkipCancelled, report.Steps[1].SkipReason)
	assert.True(t, report.Cancelled)
	assert.False(t, report.Success)
	assert.Len(t, api.paths(), 1)
}

func TestExecute_ReportKeepsPlanOrder(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 3, Method: "GET", Path: "/c"},
		{Index: 1, Method: "GET", Path: "/a"},
		{Index: 2, Method: "GET", Path: "/b"},
	}}
	api := newFakeAPI(map[string]reply{"/a": {body: `1`}, "/b": {body: `2`}, "/c": {body: `3`}})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b", "/c"}, api.paths())
	assert.Equal(t, 3, report.Steps[0].Index)
	assert.Equal(t, 1, report.Steps[1].Index)
	assert.Equal(t, 2, report.Steps[2].Index)
}

func TestExecute_NonJSONBody(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{{Index: 1, Method: "GET", Path: "/text"}}}
	api := newFakeAPI(map[string]reply{"/text": {body: "plain words"}})

	report, err := NewRunner(api, Options{}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"plain words"`, string(report.Steps[0].Body))
	require.Len(t, report.Payload.Results, 1)
	assert.Equal(t, "plain words", report.Payload.Results[0].Data)
}

func TestExecute_StripMarkup(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{{Index: 1, Method: "GET", Path: "/html"}}}
	api := newFakeAPI(map[string]reply{"/html": {body: `[{"ContentText":"<p>Take &amp; <b>monitor</b></p>"}]`}})

	report, err := NewRunner(api, Options{StripMarkup: true}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	require.Len(t, report.Payload.Results, 1)
	items := report.Payload.Results[0].Data.([]interface{})
	require.Len(t, items, 1)
	text, ok := items[0].(extract.Object).Get("ContentText")
	require.True(t, ok)
	assert.Equal(t, "Take & monitor", text)
	// the raw body is kept untouched
	assert.Contains(t, string(report.Steps[0].Body), "<b>monitor</b>")
}

func TestExecute_ParallelWaves(t *testing.T) {
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/a", OutputMapping: map[string]string{"aId": "id"}},
		{Index: 2, Method: "GET", Path: "/b", OutputMapping: map[string]string{"bId": "id"}},
		{Index: 3, Method: "GET", Path: "/a/{{aId}}/b/{{bId}}"},
	}}

	var mu sync.Mutex
	inFlight, peak := 0, 0
	api := newFakeAPI(map[string]reply{
		"/a":       {body: `{"id":"x"}`, delay: 30 * time.Millisecond},
		"/b":       {body: `{"id":"y"}`, delay: 30 * time.Millisecond},
		"/a/x/b/y": {body: `[1]`},
	})
	client := transport.ClientFunc(func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return api.Do(ctx, req)
	})

	report, err := NewRunner(client, Options{MaxParallel: 4}, nil).Execute(context.Background(), plan, nil)
	require.NoError(t, err)

	for _, res := range report.Steps {
		assert.Equal(t, model.StatusSucceeded, res.Status, "step %d", res.Index)
	}
	assert.Equal(t, 2, peak)
	assert.Equal(t, "/a/x/b/y", report.Steps[2].Path)
}

// readWritePlan has an earlier step reading a variable that a later,
// otherwise independent step writes
func readWritePlan() *model.Plan {
	return &model.Plan{Steps: []model.Step{
		{Index: 0, Method: "GET", Path: "/slow"},
		{Index: 1, Method: "GET", Path: "/read/{{label}}", DependsOn: model.IntPtr(0)},
		{Index: 2, Method: "GET", Path: "/write", OutputMapping: map[string]string{"label": "val"}},
	}}
}

func readWriteAPI() *fakeAPI {
	return newFakeAPI(map[string]reply{
		"/slow":       {body: `[1]`, delay: 50 * time.Millisecond},
		"/read/base":  {body: `[1]`},
		"/read/later": {body: `[1]`},
		"/write":      {body: `{"val":"later"}`},
	})
}

type stepOutcome struct {
	Status model.StepStatus
	Kind   model.ErrorKind
	Path   string
}

func outcomes(report *model.ExecutionReport) []stepOutcome {
	out := make([]stepOutcome, len(report.Steps))
	for i, res := range report.Steps {
		out[i] = stepOutcome{Status: res.Status, Kind: res.ErrorKind, Path: res.Path}
	}
	return out
}

func TestExecute_ParallelMatchesSequentialForLaterWriter(t *testing.T) {
	tests := []struct {
		name     string
		base     map[string]interface{}
		readPath string
		readKind model.ErrorKind
	}{
		{"base value is read before the overwrite", map[string]interface{}{"label": "base"}, "/read/base", ""},
		{"unset variable stays missing", nil, "/read/{{label}}", model.KindMissingVariable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sequential, err := NewRunner(readWriteAPI(), Options{}, nil).Execute(context.Background(), readWritePlan(), tt.base)
			require.NoError(t, err)
			parallel, err := NewRunner(readWriteAPI(), Options{MaxParallel: 4}, nil).Execute(context.Background(), readWritePlan(), tt.base)
			require.NoError(t, err)

			assert.Equal(t, outcomes(sequential), outcomes(parallel))
			assert.Equal(t, tt.readPath, parallel.Steps[1].Path)
			assert.Equal(t, tt.readKind, parallel.Steps[1].ErrorKind)
			assert.Equal(t, sequential.Variables, parallel.Variables)
			assert.Equal(t, "later", parallel.Variables["label"])
		})
	}
}

func TestExecute_ParallelCancelledBetweenWaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan := &model.Plan{Steps: []model.Step{
		{Index: 1, Method: "GET", Path: "/first", OutputMapping: map[string]string{"id": "id"}},
		{Index: 2, Method: "GET", Path: "/other"},
		{Index: 3, Method: "GET", Path: "/items/{{id}}"},
		{Index: 4, Method: "GET", Path: "/after", DependsOn: model.IntPtr(2)},
	}}
	api := newFakeAPI(map[string]reply{
		"/first": {body: `{"id":"x"}`},
		"/other": {body: `[1]`},
	})
	client := transport.ClientFunc(func(c context.Context, req transport.Request) (*transport.Response, error) {
		resp, err := api.Do(c, req)
		if req.Path == "/first" {
			cancel()
		}
		return resp, err
	})

	report, err := NewRunner(client, Options{MaxParallel: 4}, nil).Execute(ctx, plan, nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, report.Steps[0].Status)
	for _, res := range report.Steps[2:] {
		assert.Equal(t, model.StatusSkipped, res.Status, "step %d", res.Index)
		assert.Equal(t, model.SkipCancelled, res.SkipReason, "step %d", res.Index)
	}
	assert.True(t, report.Cancelled)
	assert.False(t, report.Success)
	assert.NotContains(t, api.paths(), "/items/x")
	assert.NotContains(t, api.paths(), "/after")
}
