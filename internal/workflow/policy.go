// Package workflow provides a generic step interpreter: ordered step
// definitions with per-step retry policies, timeouts, and error hooks,
// executed over an ephemeral run context. Definitions are plain data; one
// runner interprets them all.
package workflow

import "time"

// Backoff selects the delay shape between retry attempts.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy is declarative retry configuration attached to a step. A
// policy carries no mutable state; many jobs may share one instance.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (including the first try).
	MaxAttempts int

	// Backoff selects the delay shape. Defaults to exponential.
	Backoff Backoff

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// RetryableCodes restricts retries to step errors carrying one of these
	// codes. Empty means every failure is retryable.
	RetryableCodes []int
}

// Delay computes the backoff before retry number attempt (1-based):
// constant yields InitialDelay, linear InitialDelay*attempt, exponential
// InitialDelay*2^(attempt-1), all capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffConstant:
		d = p.InitialDelay
	case BackoffLinear:
		d = p.InitialDelay * time.Duration(attempt)
	default: // exponential
		d = p.InitialDelay << (attempt - 1)
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether err falls within the policy's retryable set.
// With no code restriction configured, any failure is retryable.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if len(p.RetryableCodes) == 0 {
		return true
	}
	code, ok := ErrorCode(err)
	if !ok {
		return false
	}
	for _, c := range p.RetryableCodes {
		if c == code {
			return true
		}
	}
	return false
}

// TransientHTTPCodes returns the HTTP statuses conventionally safe to retry.
func TransientHTTPCodes() []int {
	return []int{408, 429, 500, 502, 503, 504}
}
