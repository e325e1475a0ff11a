package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/credits"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// ErrInvalidEmailType rejects job creation for a corporate-classified
// subscriber. Callers must not retry without correcting the input.
var ErrInvalidEmailType = eris.New("engine: subscriber email is not personal")

// ErrJobActive rejects job creation while the subscriber already has a
// pending or running job.
var ErrJobActive = eris.New("engine: subscriber already has an active enrichment job")

// CreateJob creates a pending enrichment job for a personal-email
// subscriber. Creating one for a corporate email is a contract violation,
// rejected synchronously and never persisted.
func (e *Engine) CreateJob(ctx context.Context, sub *model.Subscriber) (*model.EnrichmentJob, error) {
	if sub.EmailType != model.EmailTypePersonal {
		return nil, eris.Wrapf(ErrInvalidEmailType, "subscriber %s (%s)", sub.ID, sub.EmailType)
	}

	if _, err := e.store.ActiveJobForSubscriber(ctx, sub.ID); err == nil {
		return nil, eris.Wrapf(ErrJobActive, "subscriber %s", sub.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "engine: check active job for subscriber %s", sub.ID)
	}

	job := &model.EnrichmentJob{
		ID:               uuid.New().String(),
		OrgID:            sub.OrgID,
		SubscriberID:     sub.ID,
		Status:           model.JobStatusPending,
		EstimatedCredits: credits.Cost(credits.KindPersonal),
		RetryCount:       0,
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	zap.L().Debug("engine: job created",
		zap.String("job_id", job.ID),
		zap.String("subscriber_id", sub.ID),
		zap.Int("estimated_credits", job.EstimatedCredits),
	)
	return job, nil
}
