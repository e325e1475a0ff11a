package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS subscribers (
	id             TEXT PRIMARY KEY,
	org_id         TEXT NOT NULL,
	email          TEXT NOT NULL,
	email_norm     TEXT NOT NULL,
	email_type     TEXT NOT NULL,
	linkedin_url   TEXT NOT NULL DEFAULT '',
	job_title      TEXT NOT NULL DEFAULT '',
	company_name   TEXT NOT NULL DEFAULT '',
	company_domain TEXT NOT NULL DEFAULT '',
	headcount      INTEGER NOT NULL DEFAULT 0,
	industry       TEXT NOT NULL DEFAULT '',
	icp_score      INTEGER NOT NULL DEFAULT 0,
	synced         INTEGER NOT NULL DEFAULT 0,
	synced_at      DATETIME,
	raw            TEXT,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (org_id, email_norm)
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id                TEXT PRIMARY KEY,
	org_id            TEXT NOT NULL,
	subscriber_id     TEXT NOT NULL REFERENCES subscribers(id),
	status            TEXT NOT NULL DEFAULT 'pending',
	provider_handle   TEXT NOT NULL DEFAULT '',
	estimated_credits INTEGER NOT NULL,
	actual_credits    INTEGER NOT NULL DEFAULT 0,
	failure_reason    TEXT NOT NULL DEFAULT '',
	retry_count       INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL,
	completed_at      DATETIME
);

CREATE INDEX IF NOT EXISTS idx_subscribers_org ON subscribers(org_id);
CREATE INDEX IF NOT EXISTS idx_subscribers_sync ON subscribers(synced, email_type);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON enrichment_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_subscriber ON enrichment_jobs(subscriber_id);
CREATE INDEX IF NOT EXISTS idx_jobs_handle ON enrichment_jobs(provider_handle);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const subscriberColumns = `id, org_id, email, email_type, linkedin_url, job_title, company_name,
	company_domain, headcount, industry, icp_score, synced, synced_at, raw, created_at, updated_at`

func (s *SQLiteStore) CreateSubscriber(ctx context.Context, sub *model.Subscriber) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	var rawJSON []byte
	if sub.Raw != nil {
		var err error
		rawJSON, err = json.Marshal(sub.Raw)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal raw payload")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (id, org_id, email, email_norm, email_type, linkedin_url, job_title,
			company_name, company_domain, headcount, industry, icp_score, synced, raw, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		sub.ID, sub.OrgID, sub.Email, model.NormalizeEmail(sub.Email), string(sub.EmailType),
		sub.Enrichment.LinkedInURL, sub.Enrichment.JobTitle, sub.Enrichment.CompanyName,
		sub.Enrichment.CompanyDomain, sub.Enrichment.Headcount, sub.Enrichment.Industry,
		sub.ICPScore, nullableBytes(rawJSON), sub.CreatedAt, sub.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert subscriber %s", sub.Email)
}

func (s *SQLiteStore) GetSubscriber(ctx context.Context, id string) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id)
	return scanSubscriber(row)
}

func (s *SQLiteStore) GetSubscriberByEmail(ctx context.Context, orgID, email string) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE org_id = ? AND email_norm = ?`,
		orgID, model.NormalizeEmail(email))
	return scanSubscriber(row)
}

func (s *SQLiteStore) UpdateSubscriberEnrichment(ctx context.Context, id string, enr model.Enrichment, icpScore int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET linkedin_url = ?, job_title = ?, company_name = ?, company_domain = ?,
			headcount = ?, industry = ?, icp_score = ?, updated_at = ?
		 WHERE id = ?`,
		enr.LinkedInURL, enr.JobTitle, enr.CompanyName, enr.CompanyDomain,
		enr.Headcount, enr.Industry, icpScore, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update subscriber enrichment %s", id)
	}
	return checkRowsAffected(res, "subscriber", id)
}

func (s *SQLiteStore) MarkSubscriberSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET synced = 1, synced_at = ?, updated_at = ? WHERE id = ? AND synced = 0`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark subscriber synced %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}
	// Either already synced or missing; disambiguate for the caller.
	if _, err := s.GetSubscriber(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) ListUnsyncedEnriched(ctx context.Context, orgID string, limit int) ([]model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers
		WHERE synced = 0 AND email_type = 'personal'
		  AND (linkedin_url != '' OR job_title != '' OR company_name != '')`
	var args []any
	if orgID != "" {
		query += ` AND org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unsynced subscribers")
	}
	defer rows.Close() //nolint:errcheck

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: iterate subscribers")
}

const jobColumns = `id, org_id, subscriber_id, status, provider_handle, estimated_credits,
	actual_credits, failure_reason, retry_count, created_at, updated_at, completed_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.EnrichmentJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, org_id, subscriber_id, status, provider_handle,
			estimated_credits, actual_credits, failure_reason, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OrgID, job.SubscriberID, string(job.Status), job.ProviderHandle,
		job.EstimatedCredits, job.ActualCredits, job.FailureReason, job.RetryCount,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStore) GetJobByHandle(ctx context.Context, handle string) (*model.EnrichmentJob, error) {
	if handle == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE provider_handle = ?`, handle)
	return scanJob(row)
}

func (s *SQLiteStore) ActiveJobForSubscriber(ctx context.Context, subscriberID string) (*model.EnrichmentJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs
		 WHERE subscriber_id = ? AND status IN ('pending', 'running')
		 ORDER BY created_at DESC LIMIT 1`,
		subscriberID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.EnrichmentJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusRunning), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job running %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) SetJobHandle(ctx context.Context, id, handle string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET provider_handle = ?, updated_at = ? WHERE id = ?`,
		handle, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job handle %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) SetJobRetryCount(ctx context.Context, id string, count int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET retry_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job retry count %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, actualCredits int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, actual_credits = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusEnriched), actualCredits, now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, reason string, actualCredits int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, failure_reason = ?, actual_credits = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), reason, actualCredits, now, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) AggregateStats(ctx context.Context, orgID string) (*AggregateStats, error) {
	stats := &AggregateStats{}

	subWhere, jobWhere := ``, ``
	var subArgs, jobArgs []any
	if orgID != "" {
		subWhere = ` AND org_id = ?`
		jobWhere = ` AND org_id = ?`
		subArgs = append(subArgs, orgID)
		jobArgs = append(jobArgs, orgID)
	}

	subQuery := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN email_type = 'personal' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN email_type = 'personal'
			AND (linkedin_url != '' OR job_title != '' OR company_name != '') THEN 1 ELSE 0 END), 0)
		FROM subscribers WHERE 1=1` + subWhere
	if err := s.db.QueryRowContext(ctx, subQuery, subArgs...).Scan(
		&stats.TotalSubscribers, &stats.PersonalEmails, &stats.EnrichedSubscribers,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate subscribers")
	}

	jobQuery := `SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(actual_credits), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' THEN estimated_credits ELSE 0 END), 0)
		FROM enrichment_jobs WHERE 1=1` + jobWhere
	if err := s.db.QueryRowContext(ctx, jobQuery, jobArgs...).Scan(
		&stats.PendingJobs, &stats.CreditsSpent, &stats.EstimatedPendingCredits,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate jobs")
	}

	return stats, nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var sub model.Subscriber
	var emailType string
	var synced int
	var syncedAt sql.NullTime
	var raw sql.NullString

	err := row.Scan(
		&sub.ID, &sub.OrgID, &sub.Email, &emailType,
		&sub.Enrichment.LinkedInURL, &sub.Enrichment.JobTitle, &sub.Enrichment.CompanyName,
		&sub.Enrichment.CompanyDomain, &sub.Enrichment.Headcount, &sub.Enrichment.Industry,
		&sub.ICPScore, &synced, &syncedAt, &raw, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan subscriber")
	}

	sub.EmailType = model.EmailType(emailType)
	sub.Synced = synced != 0
	if syncedAt.Valid {
		t := syncedAt.Time.UTC()
		sub.SyncedAt = &t
	}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &sub.Raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal raw payload")
		}
	}
	return &sub, nil
}

func scanJob(row rowScanner) (*model.EnrichmentJob, error) {
	var job model.EnrichmentJob
	var status string
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.OrgID, &job.SubscriberID, &status, &job.ProviderHandle,
		&job.EstimatedCredits, &job.ActualCredits, &job.FailureReason, &job.RetryCount,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	job.Status = model.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}
	return &job, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
