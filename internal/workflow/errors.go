package workflow

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrSuspended is returned by a step that dispatched external work and will
// be resumed later through a separate entry point. The runner stops without
// treating it as a failure.
var ErrSuspended = eris.New("workflow: step suspended")

// ErrStepTimeout marks a step that exceeded its configured timeout. Timeouts
// are never retried.
var ErrStepTimeout = eris.New("workflow: step timed out")

// StepError wraps a step failure with a code (typically an HTTP status) that
// retry policies match against their retryable set.
type StepError struct {
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step error (code %d): %v", e.Code, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with a failure code.
func NewStepError(code int, err error) *StepError {
	return &StepError{Code: code, Err: err}
}

// ErrorCode extracts the failure code from an error chain.
func ErrorCode(err error) (int, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
