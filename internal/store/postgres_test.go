package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func subscriberMockRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "org_id", "email", "email_type", "linkedin_url", "job_title", "company_name",
		"company_domain", "headcount", "industry", "icp_score", "synced", "synced_at", "raw",
		"created_at", "updated_at",
	})
}

func jobMockRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "org_id", "subscriber_id", "status", "provider_handle", "estimated_credits",
		"actual_credits", "failure_reason", "retry_count", "created_at", "updated_at", "completed_at",
	})
}

func TestPostgresStore_GetSubscriber(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM subscribers WHERE id = \$1`).
		WithArgs("sub-1").
		WillReturnRows(subscriberMockRows().AddRow(
			"sub-1", "org-1", "alice@gmail.com", "personal", "", "CTO", "Acme",
			"", 50, "Software", 40, false, (*time.Time)(nil), []byte(`{"last_name":"Doe"}`),
			now, now,
		))

	sub, err := s.GetSubscriber(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@gmail.com", sub.Email)
	assert.Equal(t, model.EmailTypePersonal, sub.EmailType)
	assert.Equal(t, "CTO", sub.Enrichment.JobTitle)
	assert.Equal(t, "Doe", sub.Raw["last_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubscriber_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM subscribers WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSubscriber(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJobByHandle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM enrichment_jobs WHERE provider_handle = \$1`).
		WithArgs("prov-abc").
		WillReturnRows(jobMockRows().AddRow(
			"job-1", "org-1", "sub-1", "running", "prov-abc", 3, 0, "", 1, now, now, (*time.Time)(nil),
		))

	job, err := s.GetJobByHandle(context.Background(), "prov-abc")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJobByHandle_EmptyHandle(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.GetJobByHandle(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_MarkSubscriberSynced_SetsFlag(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE subscribers SET synced = TRUE`).
		WithArgs(at, "sub-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	set, err := s.MarkSubscriberSynced(context.Background(), "sub-1", at)
	require.NoError(t, err)
	assert.True(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSubscriberSynced_AlreadySynced(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Now().UTC()
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE subscribers SET synced = TRUE`).
		WithArgs(at, "sub-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	// Zero rows: the store re-reads to distinguish already-synced from missing.
	mock.ExpectQuery(`SELECT .+ FROM subscribers WHERE id = \$1`).
		WithArgs("sub-1").
		WillReturnRows(subscriberMockRows().AddRow(
			"sub-1", "org-1", "alice@gmail.com", "personal", "", "", "",
			"", 0, "", 0, true, &at, []byte(nil), now, now,
		))

	set, err := s.MarkSubscriberSynced(context.Background(), "sub-1", at)
	require.NoError(t, err)
	assert.False(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_jobs SET status = \$1, actual_credits = \$2`).
		WithArgs("enriched", 5, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteJob(context.Background(), "job-1", 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE enrichment_jobs SET status = \$1, failure_reason = \$2`).
		WithArgs("failed", "provider rejected", 0, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailJob(context.Background(), "ghost", "provider rejected", 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM enrichment_jobs WHERE 1=1 AND status = \$1 AND org_id = \$2 ORDER BY created_at LIMIT \$3`).
		WithArgs("pending", "org-1", 10).
		WillReturnRows(jobMockRows().AddRow(
			"job-1", "org-1", "sub-1", "pending", "", 3, 0, "", 0, now, now, (*time.Time)(nil),
		))

	jobs, err := s.ListJobs(context.Background(), JobFilter{
		Status: model.JobStatusPending,
		OrgID:  "org-1",
		Limit:  10,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AggregateStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT\s+COUNT\(\*\)`).
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"total", "personal", "enriched"}).
			AddRow(10, 6, 4))
	mock.ExpectQuery(`FROM enrichment_jobs`).
		WithArgs("org-1").
		WillReturnRows(pgxmock.NewRows([]string{"pending", "spent", "estimated"}).
			AddRow(2, 12, 6))

	stats, err := s.AggregateStats(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalSubscribers)
	assert.Equal(t, 6, stats.PersonalEmails)
	assert.Equal(t, 4, stats.EnrichedSubscribers)
	assert.Equal(t, 2, stats.PendingJobs)
	assert.Equal(t, 12, stats.CreditsSpent)
	assert.Equal(t, 6, stats.EstimatedPendingCredits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
