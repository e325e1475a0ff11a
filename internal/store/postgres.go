package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
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
	synced         BOOLEAN NOT NULL DEFAULT FALSE,
	synced_at      TIMESTAMPTZ,
	raw            JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_subscribers_org ON subscribers(org_id);
CREATE INDEX IF NOT EXISTS idx_subscribers_sync ON subscribers(synced, email_type);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON enrichment_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_subscriber ON enrichment_jobs(subscriber_id);
CREATE INDEX IF NOT EXISTS idx_jobs_handle ON enrichment_jobs(provider_handle);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateSubscriber(ctx context.Context, sub *model.Subscriber) error {
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
			return eris.Wrap(err, "postgres: marshal raw payload")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscribers (id, org_id, email, email_norm, email_type, linkedin_url, job_title,
			company_name, company_domain, headcount, industry, icp_score, raw, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.OrgID, sub.Email, model.NormalizeEmail(sub.Email), string(sub.EmailType),
		sub.Enrichment.LinkedInURL, sub.Enrichment.JobTitle, sub.Enrichment.CompanyName,
		sub.Enrichment.CompanyDomain, sub.Enrichment.Headcount, sub.Enrichment.Industry,
		sub.ICPScore, rawJSON, sub.CreatedAt, sub.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert subscriber %s", sub.Email)
}

func (s *PostgresStore) GetSubscriber(ctx context.Context, id string) (*model.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	return scanPgSubscriber(row, "get subscriber")
}

func (s *PostgresStore) GetSubscriberByEmail(ctx context.Context, orgID, email string) (*model.Subscriber, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE org_id = $1 AND email_norm = $2`,
		orgID, model.NormalizeEmail(email))
	return scanPgSubscriber(row, "get subscriber by email")
}

func (s *PostgresStore) UpdateSubscriberEnrichment(ctx context.Context, id string, enr model.Enrichment, icpScore int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscribers SET linkedin_url = $1, job_title = $2, company_name = $3, company_domain = $4,
			headcount = $5, industry = $6, icp_score = $7, updated_at = now()
		 WHERE id = $8`,
		enr.LinkedInURL, enr.JobTitle, enr.CompanyName, enr.CompanyDomain,
		enr.Headcount, enr.Industry, icpScore, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update subscriber enrichment %s", id)
	}
	return checkPgRows(tag, "subscriber", id)
}

func (s *PostgresStore) MarkSubscriberSynced(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscribers SET synced = TRUE, synced_at = $1, updated_at = now()
		 WHERE id = $2 AND synced = FALSE`,
		at.UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark subscriber synced %s", id)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := s.GetSubscriber(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ListUnsyncedEnriched(ctx context.Context, orgID string, limit int) ([]model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers
		WHERE synced = FALSE AND email_type = 'personal'
		  AND (linkedin_url != '' OR job_title != '' OR company_name != '')`
	var args []any
	if orgID != "" {
		args = append(args, orgID)
		query += ` AND org_id = $1`
	}
	query += ` ORDER BY created_at`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unsynced subscribers")
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanPgSubscriber(rows, "list unsynced subscribers")
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: iterate subscribers")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.EnrichmentJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (id, org_id, subscriber_id, status, provider_handle,
			estimated_credits, actual_credits, failure_reason, retry_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.OrgID, job.SubscriberID, string(job.Status), job.ProviderHandle,
		job.EstimatedCredits, job.ActualCredits, job.FailureReason, job.RetryCount,
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1`, id)
	return scanPgJob(row, "get job")
}

func (s *PostgresStore) GetJobByHandle(ctx context.Context, handle string) (*model.EnrichmentJob, error) {
	if handle == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE provider_handle = $1`, handle)
	return scanPgJob(row, "get job by handle")
}

func (s *PostgresStore) ActiveJobForSubscriber(ctx context.Context, subscriberID string) (*model.EnrichmentJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs
		 WHERE subscriber_id = $1 AND status IN ('pending', 'running')
		 ORDER BY created_at DESC LIMIT 1`,
		subscriberID)
	return scanPgJob(row, "active job for subscriber")
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	query := `SELECT ` + jobColumns + ` FROM enrichment_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.OrgID != "" {
		args = append(args, filter.OrgID)
		query += ` AND org_id = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.EnrichmentJob
	for rows.Next() {
		job, err := scanPgJob(rows, "list jobs")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, updated_at = now() WHERE id = $2`,
		string(model.JobStatusRunning), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job running %s", id)
	}
	return checkPgRows(tag, "job", id)
}

func (s *PostgresStore) SetJobHandle(ctx context.Context, id, handle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET provider_handle = $1, updated_at = now() WHERE id = $2`,
		handle, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job handle %s", id)
	}
	return checkPgRows(tag, "job", id)
}

func (s *PostgresStore) SetJobRetryCount(ctx context.Context, id string, count int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET retry_count = $1, updated_at = now() WHERE id = $2`,
		count, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job retry count %s", id)
	}
	return checkPgRows(tag, "job", id)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, actualCredits int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, actual_credits = $2, completed_at = now(), updated_at = now()
		 WHERE id = $3`,
		string(model.JobStatusEnriched), actualCredits, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return checkPgRows(tag, "job", id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id, reason string, actualCredits int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET status = $1, failure_reason = $2, actual_credits = $3,
			completed_at = now(), updated_at = now()
		 WHERE id = $4`,
		string(model.JobStatusFailed), reason, actualCredits, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return checkPgRows(tag, "job", id)
}

func (s *PostgresStore) AggregateStats(ctx context.Context, orgID string) (*AggregateStats, error) {
	stats := &AggregateStats{}

	subQuery := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN email_type = 'personal' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN email_type = 'personal'
			AND (linkedin_url != '' OR job_title != '' OR company_name != '') THEN 1 ELSE 0 END), 0)
		FROM subscribers WHERE ($1 = '' OR org_id = $1)`
	if err := s.pool.QueryRow(ctx, subQuery, orgID).Scan(
		&stats.TotalSubscribers, &stats.PersonalEmails, &stats.EnrichedSubscribers,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate subscribers")
	}

	jobQuery := `SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(actual_credits), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' THEN estimated_credits ELSE 0 END), 0)
		FROM enrichment_jobs WHERE ($1 = '' OR org_id = $1)`
	if err := s.pool.QueryRow(ctx, jobQuery, orgID).Scan(
		&stats.PendingJobs, &stats.CreditsSpent, &stats.EstimatedPendingCredits,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate jobs")
	}

	return stats, nil
}

// --- scanning helpers ---

func scanPgSubscriber(row pgx.Row, op string) (*model.Subscriber, error) {
	var sub model.Subscriber
	var emailType string
	var syncedAt *time.Time
	var raw []byte

	err := row.Scan(
		&sub.ID, &sub.OrgID, &sub.Email, &emailType,
		&sub.Enrichment.LinkedInURL, &sub.Enrichment.JobTitle, &sub.Enrichment.CompanyName,
		&sub.Enrichment.CompanyDomain, &sub.Enrichment.Headcount, &sub.Enrichment.Industry,
		&sub.ICPScore, &sub.Synced, &syncedAt, &raw, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}

	sub.EmailType = model.EmailType(emailType)
	sub.SyncedAt = syncedAt
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sub.Raw); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal raw payload")
		}
	}
	return &sub, nil
}

func scanPgJob(row pgx.Row, op string) (*model.EnrichmentJob, error) {
	var job model.EnrichmentJob
	var status string

	err := row.Scan(
		&job.ID, &job.OrgID, &job.SubscriberID, &status, &job.ProviderHandle,
		&job.EstimatedCredits, &job.ActualCredits, &job.FailureReason, &job.RetryCount,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}

	job.Status = model.JobStatus(status)
	return &job, nil
}

func checkPgRows(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
