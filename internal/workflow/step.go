package workflow

import (
	"context"
	"time"
)

// Status is the engine-level state of a workflow run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Context is the ephemeral execution record for one workflow run. It exists
// only while the runner is advancing a job; durable state lives on the job
// record itself.
type Context struct {
	WorkflowID  string
	Input       map[string]any
	Outputs     map[string]any
	Prev        any
	Status      Status
	Err         error
	StartedAt   time.Time
	CompletedAt *time.Time
}

// NewContext creates a pending run context for the given workflow id.
func NewContext(workflowID string, input map[string]any) *Context {
	return &Context{
		WorkflowID: workflowID,
		Input:      input,
		Outputs:    make(map[string]any),
		Status:     StatusPending,
	}
}

// Step is one named action in a definition. Run receives the run context and
// produces an output merged into it on success. A step may return
// ErrSuspended (with its correlation output) to pause the run until an
// external event resumes it.
type Step struct {
	Name    string
	Run     func(ctx context.Context, wc *Context) (any, error)
	Retry   *RetryPolicy
	Timeout time.Duration
	OnError func(wc *Context, step string, err error)
}

// Definition is a named, ordered sequence of steps. It is process-wide
// configuration, not per-job state. OnError fires once when a run ends in
// failure or timeout, independent of any step-level hook.
type Definition struct {
	Name    string
	Steps   []Step
	OnError func(wc *Context, err error)
}

// StepIndex returns the position of the named step, or -1.
func (d Definition) StepIndex(name string) int {
	for i, s := range d.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}
