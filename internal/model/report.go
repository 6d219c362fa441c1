package model

import (
	"encoding/json"
	"time"
)

// StepStatus is the outcome of one step
type StepStatus string

const (
	StatusSucceeded StepStatus = "Succeeded"
	StatusSkipped   StepStatus = "Skipped"
	StatusFailed    StepStatus = "Failed"
)

// SkipReason explains why a step did not run
type SkipReason string

const (
	SkipDependencyFailed   SkipReason = "dependency-failed"
	SkipDependencySkipped  SkipReason = "dependency-skipped"
	SkipPreviousHasResults SkipReason = "previous-has-results"
	SkipCancelled          SkipReason = "cancelled"
)

// ErrorKind classifies a step failure
type ErrorKind string

const (
	KindInvalidPlan     ErrorKind = "InvalidPlan"
	KindMissingVariable ErrorKind = "MissingVariable"
	KindTransport       ErrorKind = "TransportError"
	KindUpstream        ErrorKind = "UpstreamError"
)

// StepResult records what happened to one plan step
type StepResult struct {
	Index       int                    `yaml:"index" json:"index"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Status      StepStatus             `yaml:"status" json:"status"`
	SkipReason  SkipReason             `yaml:"skipReason,omitempty" json:"skipReason,omitempty"`
	ErrorKind   ErrorKind              `yaml:"errorKind,omitempty" json:"errorKind,omitempty"`
	Error       string                 `yaml:"error,omitempty" json:"error,omitempty"`
	Method      string                 `yaml:"method,omitempty" json:"method,omitempty"`
	Path        string                 `yaml:"path,omitempty" json:"path,omitempty"`
	Query       map[string]string      `yaml:"query,omitempty" json:"query,omitempty"`
	StatusCode  int                    `yaml:"statusCode,omitempty" json:"statusCode,omitempty"`
	Body        json.RawMessage        `yaml:"-" json:"body,omitempty"`
	Variables   map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
	Optional    bool                   `yaml:"optional,omitempty" json:"optional,omitempty"`
	StartedAt   time.Time              `yaml:"startedAt,omitempty" json:"startedAt,omitempty"`
	Duration    time.Duration          `yaml:"durationNs,omitempty" json:"durationNs,omitempty"`
}

// ExecutionReport is the result of running one plan
type ExecutionReport struct {
	RunID      string                 `yaml:"runId" json:"runId"`
	Plan       string                 `yaml:"plan,omitempty" json:"plan,omitempty"`
	Success    bool                   `yaml:"success" json:"success"`
	Cancelled  bool                   `yaml:"cancelled,omitempty" json:"cancelled,omitempty"`
	StartedAt  time.Time              `yaml:"startedAt" json:"startedAt"`
	FinishedAt time.Time              `yaml:"finishedAt" json:"finishedAt"`
	Steps      []StepResult           `yaml:"steps" json:"steps"`
	Variables  map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
	Payload    Payload                `yaml:"payload" json:"payload"`
}

// Payload is the aggregated view handed to the synthesis stage
type Payload struct {
	Results   []PayloadEntry         `yaml:"results" json:"results"`
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// PayloadEntry is the data contributed by one succeeded step
type PayloadEntry struct {
	Index       int         `yaml:"index" json:"index"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Path        string      `yaml:"path" json:"path"`
	Data        interface{} `yaml:"data" json:"data"`
}

// Result returns the step result with the given plan index
func (r *ExecutionReport) Result(index int) (StepResult, bool) {
	for _, res := range r.Steps {
		if res.Index == index {
			return res, true
		}
	}
	return StepResult{}, false
}

// Counts tallies results by status
func (r *ExecutionReport) Counts() map[StepStatus]int {
	counts := map[StepStatus]int{
		StatusSucceeded: 0,
		StatusSkipped:   0,
		StatusFailed:    0,
	}
	for _, res := range r.Steps {
		counts[res.Status]++
	}
	return counts
}
