package runner

import (
	"html"
	"strings"

	"github.com/sourceplane/stepflow/internal/extract"
	"github.com/sourceplane/stepflow/internal/model"
)

// buildPayload gathers the non-empty bodies of succeeded steps in plan order
func (r *Runner) buildPayload(report *model.ExecutionReport, run *execution) model.Payload {
	payload := model.Payload{
		Results:   make([]model.PayloadEntry, 0, len(report.Steps)),
		Variables: report.Variables,
	}

	for _, res := range report.Steps {
		if res.Status != model.StatusSucceeded {
			continue
		}
		_, body := run.lookup(res.Index)
		if !extract.HasResults(body) {
			continue
		}
		if r.opts.StripMarkup {
			body = r.clean(body)
		}
		payload.Results = append(payload.Results, model.PayloadEntry{
			Index:       res.Index,
			Description: res.Description,
			Path:        res.Path,
			Data:        body,
		})
	}

	return payload
}

// clean strips HTML markup from every string leaf of v
func (r *Runner) clean(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if !strings.ContainsAny(t, "<&") {
			return t
		}
		return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(t)))
	case extract.Object:
		out := make(extract.Object, len(t))
		for i, f := range t {
			out[i] = extract.Field{Key: f.Key, Value: r.clean(f.Value)}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = r.clean(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = r.clean(item)
		}
		return out
	default:
		return v
	}
}
