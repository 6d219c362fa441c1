package runner

import (
	"errors"
	"fmt"

	"github.com/sourceplane/stepflow/internal/model"
)

var (
	// ErrMissingVariable is returned when a placeholder has no value
	ErrMissingVariable = errors.New("missing variable")

	// ErrTransport is returned when the request could not be completed
	ErrTransport = errors.New("transport error")

	// ErrUpstream is returned when the API answered with a failure status
	ErrUpstream = errors.New("upstream error")
)

// StepError is the failure of a single step
type StepError struct {
	Index      int
	Kind       model.ErrorKind
	StatusCode int
	Cause      error
}

func (e *StepError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("step %d: %s (HTTP %d): %v", e.Index, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("step %d: %s: %v", e.Index, e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause
func (e *StepError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind
func (e *StepError) Is(target error) bool {
	switch e.Kind {
	case model.KindMissingVariable:
		return target == ErrMissingVariable
	case model.KindTransport:
		return target == ErrTransport
	case model.KindUpstream:
		return target == ErrUpstream
	}
	return false
}

// StepErrorFrom rebuilds the error recorded on a failed result, or nil when
// the step did not fail
func StepErrorFrom(res model.StepResult) error {
	if res.Status != model.StatusFailed {
		return nil
	}
	return &StepError{
		Index:      res.Index,
		Kind:       res.ErrorKind,
		StatusCode: res.StatusCode,
		Cause:      errors.New(res.Error),
	}
}
