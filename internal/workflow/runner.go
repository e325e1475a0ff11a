package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Outcome describes where a run stopped.
type Outcome struct {
	// Suspended is true when a step dispatched external work; NextStep is
	// the index to resume from once the external event arrives.
	Suspended bool
	NextStep  int
}

// RetryHook is invoked before each retry sleep with the retry number
// (1-based) and the error that triggered it.
type RetryHook func(wc *Context, step string, attempt int, err error)

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetryHook registers a callback fired before every retry sleep.
func WithRetryHook(fn RetryHook) RunnerOption {
	return func(r *Runner) { r.onRetry = fn }
}

// Runner interprets a Definition over run contexts. It is stateless across
// runs and safe for concurrent use; per-job serialization is the caller's
// concern.
type Runner struct {
	def     Definition
	onRetry RetryHook
}

// NewRunner creates a runner for the given definition.
func NewRunner(def Definition, opts ...RunnerOption) *Runner {
	r := &Runner{def: def}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the definition from the first step.
func (r *Runner) Run(ctx context.Context, wc *Context) (*Outcome, error) {
	return r.RunFrom(ctx, wc, 0)
}

// RunFrom executes the definition starting at step index start. Each
// successful step's output is merged into the context and becomes the
// previous-step reference for the next. On failure the step-level hook runs
// first, then the workflow-level hook, and the context lands in
// StatusFailed or StatusTimeout.
func (r *Runner) RunFrom(ctx context.Context, wc *Context, start int) (*Outcome, error) {
	wc.Status = StatusRunning
	if wc.StartedAt.IsZero() {
		wc.StartedAt = time.Now().UTC()
	}

	for i := start; i < len(r.def.Steps); i++ {
		step := r.def.Steps[i]

		out, err := r.runStep(ctx, step, wc)
		if errors.Is(err, ErrSuspended) {
			if out != nil {
				wc.Outputs[step.Name] = out
				wc.Prev = out
			}
			return &Outcome{Suspended: true, NextStep: i + 1}, nil
		}
		if err != nil {
			if errors.Is(err, ErrStepTimeout) {
				wc.Status = StatusTimeout
			} else {
				wc.Status = StatusFailed
			}
			wc.Err = err
			now := time.Now().UTC()
			wc.CompletedAt = &now

			if step.OnError != nil {
				step.OnError(wc, step.Name, err)
			}
			if r.def.OnError != nil {
				r.def.OnError(wc, err)
			}
			return nil, err
		}

		wc.Outputs[step.Name] = out
		wc.Prev = out
	}

	wc.Status = StatusCompleted
	now := time.Now().UTC()
	wc.CompletedAt = &now
	return &Outcome{NextStep: len(r.def.Steps)}, nil
}

// runStep executes one step, applying its timeout and retry policy. A step
// timeout is an unretryable failure of that step. Retry delays wait on a
// timer so a cancelled context aborts the sleep.
func (r *Runner) runStep(ctx context.Context, step Step, wc *Context) (any, error) {
	maxAttempts := 1
	var policy RetryPolicy
	if step.Retry != nil {
		policy = *step.Retry
		if policy.MaxAttempts > 0 {
			maxAttempts = policy.MaxAttempts
		}
	}

	attempt := 0
	for {
		attempt++

		out, err := r.invoke(ctx, step, wc)
		if err == nil || errors.Is(err, ErrSuspended) {
			return out, err
		}
		if errors.Is(err, ErrStepTimeout) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}

		if step.Retry == nil || !policy.Retryable(err) || attempt >= maxAttempts {
			return nil, err
		}

		if r.onRetry != nil {
			r.onRetry(wc, step.Name, attempt, err)
		}

		delay := policy.Delay(attempt)
		zap.L().Debug("workflow: retrying step",
			zap.String("workflow_id", wc.WorkflowID),
			zap.String("step", step.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "workflow: retry aborted")
		case <-timer.C:
		}
	}
}

// invoke runs the step function, enforcing the step timeout when one is
// configured. The step runs in its own goroutine so a function that ignores
// its context cannot stall the run past the deadline.
func (r *Runner) invoke(ctx context.Context, step Step, wc *Context) (any, error) {
	if step.Timeout <= 0 {
		return step.Run(ctx, wc)
	}

	runCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := step.Run(runCtx, wc)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "workflow: run cancelled")
		}
		return nil, eris.Wrapf(ErrStepTimeout, "workflow: step %s exceeded %s", step.Name, step.Timeout)
	}
}
