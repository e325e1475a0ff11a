package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passStep(name string, out any) Step {
	return Step{
		Name: name,
		Run: func(_ context.Context, _ *Context) (any, error) {
			return out, nil
		},
	}
}

func TestRunner_HappyPath(t *testing.T) {
	def := Definition{
		Name: "pipeline",
		Steps: []Step{
			passStep("first", "a"),
			passStep("second", "b"),
		},
	}
	wc := NewContext("wf-1", nil)

	outcome, err := NewRunner(def).Run(context.Background(), wc)
	require.NoError(t, err)

	assert.False(t, outcome.Suspended)
	assert.Equal(t, 2, outcome.NextStep)
	assert.Equal(t, StatusCompleted, wc.Status)
	assert.Equal(t, "a", wc.Outputs["first"])
	assert.Equal(t, "b", wc.Outputs["second"])
	assert.Equal(t, "b", wc.Prev)
	require.NotNil(t, wc.CompletedAt)
}

func TestRunner_PrevFlowsBetweenSteps(t *testing.T) {
	def := Definition{
		Steps: []Step{
			passStep("emit", 21),
			{
				Name: "double",
				Run: func(_ context.Context, wc *Context) (any, error) {
					return wc.Prev.(int) * 2, nil
				},
			},
		},
	}
	wc := NewContext("wf-1", nil)

	_, err := NewRunner(def).Run(context.Background(), wc)
	require.NoError(t, err)
	assert.Equal(t, 42, wc.Prev)
}

func TestRunner_Suspension(t *testing.T) {
	def := Definition{
		Steps: []Step{
			{
				Name: "dispatch",
				Run: func(_ context.Context, _ *Context) (any, error) {
					return "handle-123", ErrSuspended
				},
			},
			passStep("resume", "done"),
		},
	}
	wc := NewContext("wf-1", nil)
	r := NewRunner(def)

	outcome, err := r.Run(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, outcome.Suspended)
	assert.Equal(t, 1, outcome.NextStep)
	assert.Equal(t, "handle-123", wc.Outputs["dispatch"])
	assert.Equal(t, StatusRunning, wc.Status)

	// Resume from where the run suspended.
	outcome, err = r.RunFrom(context.Background(), wc, outcome.NextStep)
	require.NoError(t, err)
	assert.False(t, outcome.Suspended)
	assert.Equal(t, StatusCompleted, wc.Status)
	assert.Equal(t, "done", wc.Prev)
}

func TestRunner_ExactlyMaxAttempts(t *testing.T) {
	calls := 0
	def := Definition{
		Steps: []Step{{
			Name: "flaky",
			Run: func(_ context.Context, _ *Context) (any, error) {
				calls++
				return nil, NewStepError(503, eris.New("unavailable"))
			},
			Retry: &RetryPolicy{
				MaxAttempts:    3,
				Backoff:        BackoffConstant,
				InitialDelay:   time.Millisecond,
				RetryableCodes: TransientHTTPCodes(),
			},
		}},
	}
	wc := NewContext("wf-1", nil)

	_, err := NewRunner(def).Run(context.Background(), wc)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StatusFailed, wc.Status)
}

func TestRunner_RecoversWithinBudget(t *testing.T) {
	calls := 0
	def := Definition{
		Steps: []Step{{
			Name: "flaky",
			Run: func(_ context.Context, _ *Context) (any, error) {
				calls++
				if calls < 3 {
					return nil, NewStepError(429, eris.New("rate limited"))
				}
				return "ok", nil
			},
			Retry: &RetryPolicy{
				MaxAttempts:  3,
				Backoff:      BackoffConstant,
				InitialDelay: time.Millisecond,
			},
		}},
	}
	wc := NewContext("wf-1", nil)

	_, err := NewRunner(def).Run(context.Background(), wc)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, StatusCompleted, wc.Status)
}

func TestRunner_UnretryableCodeFailsImmediately(t *testing.T) {
	calls := 0
	def := Definition{
		Steps: []Step{{
			Name: "strict",
			Run: func(_ context.Context, _ *Context) (any, error) {
				calls++
				return nil, NewStepError(404, eris.New("not found"))
			},
			Retry: &RetryPolicy{
				MaxAttempts:    3,
				Backoff:        BackoffConstant,
				InitialDelay:   time.Millisecond,
				RetryableCodes: TransientHTTPCodes(),
			},
		}},
	}

	_, err := NewRunner(def).Run(context.Background(), NewContext("wf-1", nil))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunner_TimeoutIsNotRetried(t *testing.T) {
	calls := 0
	def := Definition{
		Steps: []Step{{
			Name: "slow",
			Run: func(ctx context.Context, _ *Context) (any, error) {
				calls++
				<-ctx.Done()
				return nil, ctx.Err()
			},
			Timeout: 10 * time.Millisecond,
			Retry: &RetryPolicy{
				MaxAttempts:  3,
				Backoff:      BackoffConstant,
				InitialDelay: time.Millisecond,
			},
		}},
	}
	wc := NewContext("wf-1", nil)

	_, err := NewRunner(def).Run(context.Background(), wc)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepTimeout)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StatusTimeout, wc.Status)
}

func TestRunner_RetryHookFires(t *testing.T) {
	type retry struct {
		step    string
		attempt int
	}
	var hooks []retry
	def := Definition{
		Steps: []Step{{
			Name: "flaky",
			Run: func(_ context.Context, _ *Context) (any, error) {
				return nil, NewStepError(500, eris.New("boom"))
			},
			Retry: &RetryPolicy{
				MaxAttempts:  3,
				Backoff:      BackoffConstant,
				InitialDelay: time.Millisecond,
			},
		}},
	}
	r := NewRunner(def, WithRetryHook(func(_ *Context, step string, attempt int, _ error) {
		hooks = append(hooks, retry{step, attempt})
	}))

	_, err := r.Run(context.Background(), NewContext("wf-1", nil))
	require.Error(t, err)
	// Two retries follow the first failed attempt.
	require.Len(t, hooks, 2)
	assert.Equal(t, retry{"flaky", 1}, hooks[0])
	assert.Equal(t, retry{"flaky", 2}, hooks[1])
}

func TestRunner_ErrorHooksFireInOrder(t *testing.T) {
	var order []string
	def := Definition{
		Steps: []Step{{
			Name: "doomed",
			Run: func(_ context.Context, _ *Context) (any, error) {
				return nil, eris.New("boom")
			},
			OnError: func(_ *Context, step string, _ error) {
				order = append(order, "step:"+step)
			},
		}},
		OnError: func(_ *Context, _ error) {
			order = append(order, "workflow")
		},
	}
	wc := NewContext("wf-1", nil)

	_, err := NewRunner(def).Run(context.Background(), wc)
	require.Error(t, err)
	assert.Equal(t, []string{"step:doomed", "workflow"}, order)
	assert.Equal(t, StatusFailed, wc.Status)
	require.NotNil(t, wc.Err)
}

func TestRunner_CancelledContextAbortsRetrySleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	def := Definition{
		Steps: []Step{{
			Name: "flaky",
			Run: func(_ context.Context, _ *Context) (any, error) {
				cancel()
				return nil, NewStepError(500, eris.New("boom"))
			},
			Retry: &RetryPolicy{
				MaxAttempts:  5,
				Backoff:      BackoffConstant,
				InitialDelay: time.Hour,
			},
		}},
	}

	start := time.Now()
	_, err := NewRunner(def).Run(ctx, NewContext("wf-1", nil))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefinition_StepIndex(t *testing.T) {
	def := Definition{Steps: []Step{passStep("a", nil), passStep("b", nil)}}

	assert.Equal(t, 0, def.StepIndex("a"))
	assert.Equal(t, 1, def.StepIndex("b"))
	assert.Equal(t, -1, def.StepIndex("missing"))
}
