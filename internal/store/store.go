// Package store defines the persistence interface for subscribers and
// enrichment jobs, with SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	OrgID  string          `json:"org_id,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// AggregateStats holds the raw counts the dashboard aggregator rolls up.
type AggregateStats struct {
	TotalSubscribers        int `json:"total_subscribers"`
	PersonalEmails          int `json:"personal_emails"`
	EnrichedSubscribers     int `json:"enriched_subscribers"`
	PendingJobs             int `json:"pending_jobs"`
	CreditsSpent            int `json:"credits_spent"`
	EstimatedPendingCredits int `json:"estimated_pending_credits"`
}

// Store is the persistence interface for the enrichment engine.
type Store interface {
	// Subscribers
	CreateSubscriber(ctx context.Context, sub *model.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (*model.Subscriber, error)
	GetSubscriberByEmail(ctx context.Context, orgID, email string) (*model.Subscriber, error)
	UpdateSubscriberEnrichment(ctx context.Context, id string, enr model.Enrichment, icpScore int) error
	// MarkSubscriberSynced sets the sync flag if not already set, returning
	// whether this call set it. Atomic so concurrent reconcilers count
	// correctly.
	MarkSubscriberSynced(ctx context.Context, id string, at time.Time) (bool, error)
	ListUnsyncedEnriched(ctx context.Context, orgID string, limit int) ([]model.Subscriber, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.EnrichmentJob) error
	GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error)
	GetJobByHandle(ctx context.Context, handle string) (*model.EnrichmentJob, error)
	// ActiveJobForSubscriber returns the subscriber's pending or running
	// job, or ErrNotFound when none exists.
	ActiveJobForSubscriber(ctx context.Context, subscriberID string) (*model.EnrichmentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error)
	MarkJobRunning(ctx context.Context, id string) error
	SetJobHandle(ctx context.Context, id, handle string) error
	SetJobRetryCount(ctx context.Context, id string, count int) error
	CompleteJob(ctx context.Context, id string, actualCredits int) error
	FailJob(ctx context.Context, id, reason string, actualCredits int) error

	// Metrics
	AggregateStats(ctx context.Context, orgID string) (*AggregateStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
