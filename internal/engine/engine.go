// Package engine drives enrichment jobs through their workflow: dispatch to
// the provider, suspension while the webhook is outstanding, resume on
// callback, retry/backoff on transient failure, and timeout escalation.
// Per-job state transitions are serialized behind a per-job lock; unrelated
// jobs advance fully in parallel.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/store"
	"github.com/sells-group/enrich-cli/internal/workflow"
)

const (
	stepDispatch = "dispatch"
	stepMerge    = "merge"
	stepScore    = "score"
)

// recoverBatchSize bounds one escalation recovery sweep.
const recoverBatchSize = 1000

// Option configures an Engine.
type Option func(*Engine)

// WithDispatchPolicy overrides the retry policy on the provider dispatch step.
func WithDispatchPolicy(p workflow.RetryPolicy) Option {
	return func(e *Engine) { e.dispatchPolicy = p }
}

// WithDispatchTimeout bounds a single provider dispatch attempt.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dispatchTimeout = d }
}

// WithCallbackWait bounds how long a dispatched job may wait for the
// provider's webhook before timing out.
func WithCallbackWait(d time.Duration) Option {
	return func(e *Engine) { e.callbackWait = d }
}

// WithWorkflowErrorHook sets the workflow-level hook fired once when a job
// ends in failure or timeout.
func WithWorkflowErrorHook(fn func(wc *workflow.Context, err error)) Option {
	return func(e *Engine) { e.onWorkflowError = fn }
}

// Engine owns the enrichment job state machine.
type Engine struct {
	store    store.Store
	provider provider.Client

	dispatchPolicy  workflow.RetryPolicy
	dispatchTimeout time.Duration
	callbackWait    time.Duration
	onWorkflowError func(wc *workflow.Context, err error)

	def    workflow.Definition
	runner *workflow.Runner
	locks  lockTable
	timers escalationTable
}

// New creates an engine over the given store and provider client.
func New(st store.Store, pc provider.Client, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		provider: pc,
		dispatchPolicy: workflow.RetryPolicy{
			MaxAttempts:    3,
			Backoff:        workflow.BackoffExponential,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       30 * time.Second,
			RetryableCodes: workflow.TransientHTTPCodes(),
		},
		dispatchTimeout: 30 * time.Second,
		callbackWait:    10 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.def = e.buildDefinition()
	e.runner = workflow.NewRunner(e.def, workflow.WithRetryHook(e.persistRetryCount))
	return e
}

// buildDefinition assembles the enrichment workflow: dispatch to the
// provider (suspends on the webhook boundary), merge the provider payload,
// derive the ICP score.
func (e *Engine) buildDefinition() workflow.Definition {
	return workflow.Definition{
		Name: "enrichment",
		Steps: []workflow.Step{
			{
				Name:    stepDispatch,
				Retry:   &e.dispatchPolicy,
				Timeout: e.dispatchTimeout,
				Run: func(ctx context.Context, wc *workflow.Context) (any, error) {
					sub := wc.Input["subscriber"].(*model.Subscriber)
					handle, err := e.provider.Dispatch(ctx, provider.DispatchRequest{
						SubscriberID: sub.ID,
						OrgID:        sub.OrgID,
						Email:        sub.Email,
						Fields:       sub.Raw,
					})
					if err != nil {
						return nil, err
					}
					return handle, workflow.ErrSuspended
				},
				OnError: func(wc *workflow.Context, step string, err error) {
					zap.L().Warn("engine: dispatch step failed",
						zap.String("job_id", wc.WorkflowID),
						zap.String("step", step),
						zap.Error(err),
					)
				},
			},
			{
				Name: stepMerge,
				Run: func(_ context.Context, wc *workflow.Context) (any, error) {
					event := wc.Input["event"].(*provider.WebhookEvent)
					return event.Attributes, nil
				},
			},
			{
				Name: stepScore,
				Run: func(_ context.Context, wc *workflow.Context) (any, error) {
					enr := wc.Prev.(model.Enrichment)
					return ScoreICP(enr), nil
				},
			},
		},
		OnError: func(wc *workflow.Context, err error) {
			zap.L().Error("engine: workflow failed",
				zap.String("job_id", wc.WorkflowID),
				zap.String("status", string(wc.Status)),
				zap.Error(err),
			)
			if e.onWorkflowError != nil {
				e.onWorkflowError(wc, err)
			}
		},
	}
}

// persistRetryCount mirrors runner retries onto the job record.
func (e *Engine) persistRetryCount(wc *workflow.Context, step string, attempt int, err error) {
	if uerr := e.store.SetJobRetryCount(context.Background(), wc.WorkflowID, attempt); uerr != nil {
		zap.L().Warn("engine: failed to persist retry count",
			zap.String("job_id", wc.WorkflowID),
			zap.String("step", step),
			zap.Error(uerr),
		)
	}
}

// Dispatch advances a pending job: marks it running and executes the
// workflow until the provider dispatch suspends (or fails terminally).
// Terminal step errors are recorded on the job, never returned to the
// caller; the returned error covers invalid state and store failures only.
func (e *Engine) Dispatch(ctx context.Context, jobID string) error {
	unlock := e.locks.lock(jobID)
	defer unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", jobID)
	}
	if job.Status != model.JobStatusPending {
		return eris.Errorf("engine: job %s is %s, not pending", jobID, job.Status)
	}

	sub, err := e.store.GetSubscriber(ctx, job.SubscriberID)
	if err != nil {
		return eris.Wrapf(err, "engine: load subscriber %s", job.SubscriberID)
	}

	if err := e.store.MarkJobRunning(ctx, jobID); err != nil {
		return err
	}

	wc := workflow.NewContext(jobID, map[string]any{"subscriber": sub})
	outcome, runErr := e.runner.Run(ctx, wc)
	if runErr != nil {
		e.recordFailure(ctx, job, wc, runErr)
		return nil
	}

	if outcome.Suspended {
		handle, _ := wc.Outputs[stepDispatch].(string)
		if err := e.store.SetJobHandle(ctx, jobID, handle); err != nil {
			return err
		}
		e.scheduleEscalation(jobID)
		zap.L().Info("engine: job dispatched, awaiting callback",
			zap.String("job_id", jobID),
			zap.String("handle", handle),
		)
		return nil
	}

	// No suspension point configured; the run completed synchronously.
	return e.finish(ctx, job, sub, wc, job.EstimatedCredits)
}

// HandleProviderEvent resumes a suspended job from a webhook delivery.
// Unknown handles and already-terminal jobs are dropped without error so
// at-least-once provider deliveries replay safely.
func (e *Engine) HandleProviderEvent(ctx context.Context, event *provider.WebhookEvent) error {
	log := zap.L().With(zap.String("handle", event.Handle))

	found, err := e.store.GetJobByHandle(ctx, event.Handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("engine: dropping webhook for unknown handle")
			return nil
		}
		return eris.Wrap(err, "engine: look up job by handle")
	}

	unlock := e.locks.lock(found.ID)
	defer unlock()

	// Re-read under the lock; a timeout or replay may have won the race.
	job, err := e.store.GetJob(ctx, found.ID)
	if err != nil {
		return eris.Wrapf(err, "engine: load job %s", found.ID)
	}
	if job.Status.Terminal() {
		log.Debug("engine: dropping webhook for terminal job",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}
	if job.ProviderHandle != event.Handle {
		log.Debug("engine: dropping webhook with stale handle", zap.String("job_id", job.ID))
		return nil
	}

	e.cancelEscalation(job.ID)

	sub, err := e.store.GetSubscriber(ctx, job.SubscriberID)
	if err != nil {
		return eris.Wrapf(err, "engine: load subscriber %s", job.SubscriberID)
	}

	if event.Status == provider.EventFailed {
		reason := event.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		wc := workflow.NewContext(job.ID, map[string]any{"subscriber": sub, "event": event})
		wc.Status = workflow.StatusFailed
		wc.Err = eris.New("engine: " + reason)
		if e.def.OnError != nil {
			e.def.OnError(wc, wc.Err)
		}
		// A provider failure may still have consumed credits (partial spend).
		return e.store.FailJob(ctx, job.ID, reason, event.CreditsUsed)
	}

	wc := workflow.NewContext(job.ID, map[string]any{"subscriber": sub, "event": event})
	wc.Outputs[stepDispatch] = event.Handle
	wc.Prev = event.Handle

	if _, runErr := e.runner.RunFrom(ctx, wc, e.def.StepIndex(stepMerge)); runErr != nil {
		e.recordFailure(ctx, job, wc, runErr)
		return nil
	}

	actual := event.CreditsUsed
	if actual <= 0 {
		actual = job.EstimatedCredits
	}
	return e.finish(ctx, job, sub, wc, actual)
}

// finish persists a completed run: enrichment onto the subscriber, actual
// credits and terminal status onto the job.
func (e *Engine) finish(ctx context.Context, job *model.EnrichmentJob, sub *model.Subscriber, wc *workflow.Context, actualCredits int) error {
	enr, _ := wc.Outputs[stepMerge].(model.Enrichment)
	score, _ := wc.Outputs[stepScore].(int)

	if err := e.store.UpdateSubscriberEnrichment(ctx, sub.ID, enr, score); err != nil {
		return err
	}
	if err := e.store.CompleteJob(ctx, job.ID, actualCredits); err != nil {
		return err
	}

	zap.L().Info("engine: job enriched",
		zap.String("job_id", job.ID),
		zap.String("subscriber_id", sub.ID),
		zap.Int("icp_score", score),
		zap.Int("actual_credits", actualCredits),
	)
	return nil
}

// recordFailure lands a job in its terminal failed state, distinguishing
// timeouts by failure reason.
func (e *Engine) recordFailure(ctx context.Context, job *model.EnrichmentJob, wc *workflow.Context, runErr error) {
	reason := runErr.Error()
	if wc.Status == workflow.StatusTimeout {
		reason = model.TimeoutReasonPrefix + reason
	}
	if err := e.store.FailJob(ctx, job.ID, reason, 0); err != nil {
		zap.L().Error("engine: failed to record job failure",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// scheduleEscalation arms the webhook-wait timeout for a suspended job.
func (e *Engine) scheduleEscalation(jobID string) {
	if e.callbackWait <= 0 {
		return
	}
	e.timers.set(jobID, time.AfterFunc(e.callbackWait, func() {
		e.timeoutJob(jobID)
	}))
}

func (e *Engine) cancelEscalation(jobID string) {
	e.timers.cancel(jobID)
}

// timeoutJob fires when a dispatched job's webhook never arrived. A webhook
// that already resumed the job wins; the terminal check under the lock makes
// the race safe.
func (e *Engine) timeoutJob(jobID string) {
	e.timers.cancel(jobID)

	unlock := e.locks.lock(jobID)
	defer unlock()

	ctx := context.Background()
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		zap.L().Warn("engine: timeout check failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != model.JobStatusRunning {
		return
	}

	reason := model.TimeoutReasonPrefix + "enrichment callback not received within " + e.callbackWait.String()
	if err := e.store.FailJob(ctx, jobID, reason, 0); err != nil {
		zap.L().Error("engine: failed to time out job", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	wc := workflow.NewContext(jobID, nil)
	wc.Status = workflow.StatusTimeout
	wc.Err = eris.New("engine: " + reason)
	if e.def.OnError != nil {
		e.def.OnError(wc, wc.Err)
	}
}

// RecoverEscalations re-arms webhook-wait timeouts for jobs left in running,
// typically because the process that dispatched them exited before the
// callback arrived. Jobs whose wait already elapsed are timed out on the
// spot; the rest get a timer for the remaining window. Safe to call
// repeatedly, so it doubles as a periodic sweep.
func (e *Engine) RecoverEscalations(ctx context.Context) (int, error) {
	if e.callbackWait <= 0 {
		return 0, nil
	}
	jobs, err := e.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusRunning,
		Limit:  recoverBatchSize,
	})
	if err != nil {
		return 0, eris.Wrap(err, "engine: list running jobs")
	}

	recovered := 0
	for _, job := range jobs {
		remaining := time.Until(job.UpdatedAt.Add(e.callbackWait))
		if remaining <= 0 {
			e.timeoutJob(job.ID)
			recovered++
			continue
		}
		jobID := job.ID
		e.timers.set(jobID, time.AfterFunc(remaining, func() {
			e.timeoutJob(jobID)
		}))
		recovered++
	}
	if recovered > 0 {
		zap.L().Info("engine: escalations recovered", zap.Int("jobs", recovered))
	}
	return recovered, nil
}

// RunPending dispatches up to limit pending jobs with bounded concurrency.
// Individual dispatch failures are logged, not fatal to the batch.
func (e *Engine) RunPending(ctx context.Context, orgID string, limit, concurrency int) (int, error) {
	jobs, err := e.store.ListJobs(ctx, store.JobFilter{
		Status: model.JobStatusPending,
		OrgID:  orgID,
		Limit:  limit,
	})
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	dispatched := 0
	for _, job := range jobs {
		g.Go(func() error {
			if err := e.Dispatch(gctx, job.ID); err != nil {
				zap.L().Warn("engine: dispatch failed",
					zap.String("job_id", job.ID),
					zap.Error(err),
				)
				return nil
			}
			return nil
		})
		dispatched++
	}

	if err := g.Wait(); err != nil {
		return dispatched, eris.Wrap(err, "engine: run pending")
	}
	return dispatched, nil
}
