package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
	"gopkg.in/yaml.v3"

	"github.com/sourceplane/stepflow/internal/model"
	"github.com/sourceplane/stepflow/internal/planner"
	"github.com/sourceplane/stepflow/internal/schema"
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

func planValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		validator, validatorErr = schema.NewValidator()
	})
	return validator, validatorErr
}

// LoadPlan loads and parses a plan file. The extension picks the syntax:
// .yaml/.yml and .hjson are read as such, anything else as (possibly
// malformed) JSON.
func LoadPlan(path string) (*model.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParsePlan(data, filepath.Ext(path))
}

// ParsePlan decodes a plan document and checks it against the plan schema.
// A bare array of steps is accepted as a plan without a name. Schema
// violations are returned as *planner.InvalidPlanError.
func ParsePlan(data []byte, ext string) (*model.Plan, error) {
	doc, err := decodeDocument(data, ext)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if steps, ok := doc.([]interface{}); ok {
		doc = map[string]interface{}{"steps": steps}
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(canonical, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	v, err := planValidator()
	if err != nil {
		return nil, err
	}
	if err := v.ValidatePlan(generic); err != nil {
		return nil, &planner.InvalidPlanError{Problems: schema.Problems(err)}
	}

	var plan model.Plan
	if err := json.Unmarshal(canonical, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	return &plan, nil
}

// decodeDocument turns plan or variable input into plain JSON values
func decodeDocument(data []byte, ext string) (interface{}, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("document is empty")
	}

	var doc interface{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return doc, nil
	case ".hjson":
		if err := hjson.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("invalid Hjson: %w", err)
		}
		return doc, nil
	}

	if err := json.Unmarshal(trimmed, &doc); err == nil {
		return doc, nil
	}

	// planners often emit fenced, commented or truncated JSON
	if repaired, err := jsonrepair.RepairJSON(string(trimmed)); err == nil {
		if err := json.Unmarshal([]byte(repaired), &doc); err == nil {
			return doc, nil
		}
	}

	if err := hjson.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("not JSON, repairable JSON or Hjson: %w", err)
	}
	return doc, nil
}

// LoadVariables builds the base variables for a run from an optional file
// and name=value pairs. Pairs win over file entries.
func LoadVariables(path string, pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{})

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read variables file: %w", err)
		}
		doc, err := decodeDocument(data, filepath.Ext(path))
		if err != nil {
			return nil, fmt.Errorf("failed to parse variables file: %w", err)
		}
		obj, ok := doc.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("variables file must contain an object, got %T", doc)
		}
		for k, v := range obj {
			vars[k] = v
		}
	}

	parsed, err := ParseVariables(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range parsed {
		vars[k] = v
	}

	return vars, nil
}

// ParseVariables parses name=value pairs; values stay strings
func ParseVariables(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	var bad []string
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			bad = append(bad, pair)
			continue
		}
		vars[name] = value
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, fmt.Errorf("invalid variable assignments (want name=value): %s", strings.Join(bad, ", "))
	}
	return vars, nil
}
