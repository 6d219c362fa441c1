package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sourceplane/stepflow/internal/model"
)

// Renderer serializes plans and execution reports
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderJSON renders v as indented JSON
func (r *Renderer) RenderJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// RenderYAML renders v as YAML. Values go through their JSON form first so
// reports keep the same field names and key order in both formats.
func (r *Renderer) RenderYAML(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	clearStyle(&node)

	return yaml.Marshal(&node)
}

// clearStyle switches JSON's flow and quoted styles to plain block YAML
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}

// Render renders v in the named format (json or yaml)
func (r *Renderer) Render(v interface{}, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "json":
		return r.RenderJSON(v)
	case "yaml", "yml":
		return r.RenderYAML(v)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// WriteReport writes a report to file (JSON or YAML based on extension)
func (r *Renderer) WriteReport(report *model.ExecutionReport, path string) error {
	var data []byte
	var err error

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = r.RenderYAML(report)
	default:
		data, err = r.RenderJSON(report)
	}
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}

	return nil
}

// DebugDump outputs a line-oriented summary of a report
func (r *Renderer) DebugDump(report *model.ExecutionReport) string {
	var sb strings.Builder

	name := report.Plan
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(&sb, "Run: %s\n", report.RunID)
	fmt.Fprintf(&sb, "Plan: %s\n", name)
	fmt.Fprintf(&sb, "Success: %t", report.Success)
	if report.Cancelled {
		sb.WriteString(" (cancelled)")
	}
	sb.WriteString("\n")

	counts := report.Counts()
	fmt.Fprintf(&sb, "Steps: %d succeeded, %d skipped, %d failed\n\n",
		counts[model.StatusSucceeded], counts[model.StatusSkipped], counts[model.StatusFailed])

	for _, res := range report.Steps {
		fmt.Fprintf(&sb, "Step %d: %s\n", res.Index, res.Status)
		if res.Description != "" {
			fmt.Fprintf(&sb, "  Description: %s\n", res.Description)
		}
		if res.Path != "" {
			fmt.Fprintf(&sb, "  Request: %s %s%s\n", res.Method, res.Path, queryString(res.Query))
		}
		if res.StatusCode != 0 {
			fmt.Fprintf(&sb, "  HTTP: %d\n", res.StatusCode)
		}
		if res.SkipReason != "" {
			fmt.Fprintf(&sb, "  Reason: %s\n", res.SkipReason)
		}
		if res.ErrorKind != "" {
			fmt.Fprintf(&sb, "  Error: %s: %s\n", res.ErrorKind, res.Error)
		}
		if len(res.Variables) > 0 {
			fmt.Fprintf(&sb, "  Variables: %s\n", strings.Join(sortedKeys(res.Variables), ", "))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func queryString(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + query[k]
	}
	return "?" + strings.Join(parts, "&")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
