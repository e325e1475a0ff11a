package metrics

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

func newTestMetricsStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedMetricsSubscriber(t *testing.T, st store.Store, email string, emailType model.EmailType, enriched bool) *model.Subscriber {
	t.Helper()
	sub := &model.Subscriber{
		ID:        uuid.New().String(),
		OrgID:     "org-1",
		Email:     email,
		EmailType: emailType,
	}
	require.NoError(t, st.CreateSubscriber(context.Background(), sub))
	if enriched {
		require.NoError(t, st.UpdateSubscriberEnrichment(context.Background(), sub.ID,
			model.Enrichment{JobTitle: "CTO"}, 40))
	}
	return sub
}

func TestCollect_DarkFunnelPct(t *testing.T) {
	st := newTestMetricsStore(t)
	ctx := context.Background()

	seedMetricsSubscriber(t, st, "a@gmail.com", model.EmailTypePersonal, true)
	seedMetricsSubscriber(t, st, "b@gmail.com", model.EmailTypePersonal, true)
	seedMetricsSubscriber(t, st, "c@gmail.com", model.EmailTypePersonal, false)
	seedMetricsSubscriber(t, st, "ops@acme.com", model.EmailTypeCorporate, false)

	snap, err := NewAggregator(st).Collect(ctx, "org-1")
	require.NoError(t, err)

	assert.Equal(t, 4, snap.TotalSubscribers)
	assert.Equal(t, 3, snap.PersonalEmails)
	assert.Equal(t, 2, snap.Enriched)
	assert.InDelta(t, 66.67, snap.DarkFunnelPct, 0.001)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_ZeroPersonalEmails(t *testing.T) {
	st := newTestMetricsStore(t)

	seedMetricsSubscriber(t, st, "ops@acme.com", model.EmailTypeCorporate, false)

	snap, err := NewAggregator(st).Collect(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Zero(t, snap.DarkFunnelPct)
}

func TestCollect_PctBounds(t *testing.T) {
	st := newTestMetricsStore(t)

	seedMetricsSubscriber(t, st, "a@gmail.com", model.EmailTypePersonal, true)

	snap, err := NewAggregator(st).Collect(context.Background(), "org-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.DarkFunnelPct, 0.0)
	assert.LessOrEqual(t, snap.DarkFunnelPct, 100.0)
	assert.Equal(t, 100.0, snap.DarkFunnelPct)
}

func TestCollect_CreditTotals(t *testing.T) {
	st := newTestMetricsStore(t)
	ctx := context.Background()

	sub := seedMetricsSubscriber(t, st, "a@gmail.com", model.EmailTypePersonal, false)

	done := &model.EnrichmentJob{
		ID:               uuid.New().String(),
		OrgID:            "org-1",
		SubscriberID:     sub.ID,
		Status:           model.JobStatusPending,
		EstimatedCredits: 3,
	}
	require.NoError(t, st.CreateJob(ctx, done))
	require.NoError(t, st.CompleteJob(ctx, done.ID, 7))

	pending := &model.EnrichmentJob{
		ID:               uuid.New().String(),
		OrgID:            "org-1",
		SubscriberID:     sub.ID,
		Status:           model.JobStatusPending,
		EstimatedCredits: 3,
	}
	require.NoError(t, st.CreateJob(ctx, pending))

	snap, err := NewAggregator(st).Collect(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 7, snap.CreditsSpent)
	assert.Equal(t, 3, snap.EstimatedPendingCredits)
	assert.Equal(t, 1, snap.PendingJobs)
}
