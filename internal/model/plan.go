package model

import "time"

// Plan is an ordered list of HTTP steps produced by an external planner
type Plan struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Step is a single HTTP call with its dependency, fallback and extraction rules
type Step struct {
	Index           int                    `yaml:"index" json:"index"`
	Description     string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Method          string                 `yaml:"method" json:"method"`
	Path            string                 `yaml:"path" json:"path"`
	QueryParameters map[string]interface{} `yaml:"queryParameters,omitempty" json:"queryParameters,omitempty"`

	// DependsOn names an earlier step; if it did not succeed this step is skipped
	DependsOn *int `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`

	// SkipIfPreviousHasResults names an earlier step; this step runs only when
	// that step's result set was empty
	SkipIfPreviousHasResults *int `yaml:"skipIfPreviousHasResults,omitempty" json:"skipIfPreviousHasResults,omitempty"`

	OutputMapping map[string]string `yaml:"outputMapping,omitempty" json:"outputMapping,omitempty"`

	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// StepTimeout returns the step's own timeout, or fallback when unset or invalid
func (s Step) StepTimeout(fallback time.Duration) time.Duration {
	if s.Timeout == "" {
		return fallback
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// References returns the indices this step explicitly refers to
func (s Step) References() []int {
	refs := make([]int, 0, 2)
	if s.DependsOn != nil {
		refs = append(refs, *s.DependsOn)
	}
	if s.SkipIfPreviousHasResults != nil {
		refs = append(refs, *s.SkipIfPreviousHasResults)
	}
	return refs
}

// IntPtr is a convenience for building steps in code
func IntPtr(v int) *int {
	return &v
}
