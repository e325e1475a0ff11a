// Package metrics rolls subscriber and job state up into the dashboard
// snapshot.
package metrics

import (
	"context"
	"math"
	"time"

	"github.com/sells-group/enrich-cli/internal/store"
)

// Snapshot holds a point-in-time dashboard view, optionally scoped to one
// organization.
type Snapshot struct {
	OrgID                   string    `json:"org_id,omitempty"`
	TotalSubscribers        int       `json:"total_subscribers"`
	PersonalEmails          int       `json:"personal_emails"`
	Enriched                int       `json:"enriched"`
	PendingJobs             int       `json:"pending_jobs"`
	DarkFunnelPct           float64   `json:"dark_funnel_pct"`
	CreditsSpent            int       `json:"credits_spent"`
	EstimatedPendingCredits int       `json:"estimated_pending_credits"`
	CollectedAt             time.Time `json:"collected_at"`
}

// Aggregator computes read-only rollups from the store.
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Collect gathers a snapshot. Store errors propagate to the caller;
// zero-filled defaults are a presentation-layer fallback, not offered here.
func (a *Aggregator) Collect(ctx context.Context, orgID string) (*Snapshot, error) {
	stats, err := a.store.AggregateStats(ctx, orgID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		OrgID:                   orgID,
		TotalSubscribers:        stats.TotalSubscribers,
		PersonalEmails:          stats.PersonalEmails,
		Enriched:                stats.EnrichedSubscribers,
		PendingJobs:             stats.PendingJobs,
		CreditsSpent:            stats.CreditsSpent,
		EstimatedPendingCredits: stats.EstimatedPendingCredits,
		CollectedAt:             time.Now().UTC(),
	}

	if snap.PersonalEmails > 0 {
		pct := float64(snap.Enriched) / float64(snap.PersonalEmails) * 100
		snap.DarkFunnelPct = math.Round(pct*100) / 100
	}

	return snap, nil
}
