package crm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// fakeSyncer records synced subscribers and can fail on demand.
type fakeSyncer struct {
	synced []string
	err    error
}

func (f *fakeSyncer) SyncContact(_ context.Context, sub *model.Subscriber) error {
	if f.err != nil {
		return f.err
	}
	f.synced = append(f.synced, sub.ID)
	return nil
}

func newTestReconcilerStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedEnriched(t *testing.T, st store.Store, email string) *model.Subscriber {
	t.Helper()
	sub := &model.Subscriber{
		ID:        uuid.New().String(),
		OrgID:     "org-1",
		Email:     email,
		EmailType: model.EmailTypePersonal,
	}
	require.NoError(t, st.CreateSubscriber(context.Background(), sub))
	require.NoError(t, st.UpdateSubscriberEnrichment(context.Background(), sub.ID,
		model.Enrichment{JobTitle: "CTO", CompanyName: "Acme"}, 40))
	return sub
}

func TestBulkSync_CountsConserve(t *testing.T) {
	st := newTestReconcilerStore(t)
	syncer := &fakeSyncer{}
	rec := NewReconciler(st, syncer)
	ctx := context.Background()

	a := seedEnriched(t, st, "a@gmail.com")
	b := seedEnriched(t, st, "b@gmail.com")

	ids := []string{a.ID, b.ID, "missing-1", "missing-2"}
	res, err := rec.BulkSync(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 0, res.AlreadySynced)
	assert.Equal(t, 2, res.NotFound)
	assert.Equal(t, len(ids), res.Synced+res.AlreadySynced+res.NotFound)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, syncer.synced)
}

func TestBulkSync_SecondRunIsIdempotent(t *testing.T) {
	st := newTestReconcilerStore(t)
	syncer := &fakeSyncer{}
	rec := NewReconciler(st, syncer)
	ctx := context.Background()

	sub := seedEnriched(t, st, "a@gmail.com")

	res, err := rec.BulkSync(ctx, []string{sub.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	res, err = rec.BulkSync(ctx, []string{sub.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.AlreadySynced)

	// The CRM saw exactly one push.
	assert.Len(t, syncer.synced, 1)
}

func TestBulkSync_TransportFailureFailsBatch(t *testing.T) {
	st := newTestReconcilerStore(t)
	syncer := &fakeSyncer{err: eris.New("salesforce 500")}
	rec := NewReconciler(st, syncer)
	ctx := context.Background()

	sub := seedEnriched(t, st, "a@gmail.com")

	res, err := rec.BulkSync(ctx, []string{sub.ID})
	require.Error(t, err)
	assert.Nil(t, res)

	// The flag stays clear so a retry re-attempts the push.
	got, err := st.GetSubscriber(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

func TestBulkSync_Empty(t *testing.T) {
	st := newTestReconcilerStore(t)
	rec := NewReconciler(st, &fakeSyncer{})

	res, err := rec.BulkSync(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Synced+res.AlreadySynced+res.NotFound)
}
