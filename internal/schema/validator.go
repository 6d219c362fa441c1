package schema

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed plan.schema.yaml
var planSchemaYAML []byte

const planSchemaURL = "stepflow://plan.schema.json"

// Validator handles JSON schema validation
type Validator struct {
	planSchema *jsonschema.Schema
}

// NewValidator compiles the embedded plan schema
func NewValidator() (*Validator, error) {
	planSchema, err := compileSchema(planSchemaURL, planSchemaYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan schema: %w", err)
	}
	return &Validator{planSchema: planSchema}, nil
}

// ValidatePlan validates a decoded plan document. The document must hold
// plain JSON values, as produced by json.Unmarshal into an interface{}.
func (v *Validator) ValidatePlan(doc interface{}) error {
	if v.planSchema == nil {
		return fmt.Errorf("plan schema not loaded")
	}
	return v.planSchema.Validate(doc)
}

// Problems flattens a validation error into one line per failing location
func Problems(err error) []string {
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	seen := make(map[string]bool)
	var problems []string
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		line := fmt.Sprintf("%s: %s", loc, e.Error)
		if !seen[line] {
			seen[line] = true
			problems = append(problems, line)
		}
	}
	if len(problems) == 0 {
		problems = append(problems, ve.Error())
	}
	sort.Strings(problems)
	return problems
}

// compileSchema compiles a schema document (JSON or YAML)
func compileSchema(url string, data []byte) (*jsonschema.Schema, error) {
	// Parse YAML to interface{} (supports both YAML and JSON)
	var schemaData interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	// Convert to JSON for schema compiler
	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, strings.NewReader(string(jsonData))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return schema, nil
}
