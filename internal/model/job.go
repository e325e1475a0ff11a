package model

import (
	"strings"
	"time"
)

// JobStatus represents the externally visible state of an enrichment job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusEnriched JobStatus = "enriched"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusEnriched || s == JobStatusFailed
}

// TimeoutReasonPrefix marks failure reasons caused by a step or callback
// timeout rather than a provider-reported failure.
const TimeoutReasonPrefix = "timeout: "

// EnrichmentJob is one workflow instance resolving a subscriber's
// professional identity. At most one non-terminal job exists per subscriber.
type EnrichmentJob struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id"`
	SubscriberID     string     `json:"subscriber_id"`
	Status           JobStatus  `json:"status"`
	ProviderHandle   string     `json:"provider_handle,omitempty"`
	EstimatedCredits int        `json:"estimated_credits"`
	ActualCredits    int        `json:"actual_credits,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	RetryCount       int        `json:"retry_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TimedOut reports whether the job failed due to a timeout escalation.
func (j *EnrichmentJob) TimedOut() bool {
	return j.Status == JobStatusFailed && strings.HasPrefix(j.FailureReason, TimeoutReasonPrefix)
}
