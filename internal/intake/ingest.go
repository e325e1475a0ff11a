package intake

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// JobCreator emits an enrichment job for a personal-email subscriber.
// Satisfied by the engine.
type JobCreator interface {
	CreateJob(ctx context.Context, sub *model.Subscriber) (*model.EnrichmentJob, error)
}

// Result summarizes one intake run.
type Result struct {
	Imported    int `json:"imported"`
	Duplicates  int `json:"duplicates"`
	Personal    int `json:"personal"`
	Corporate   int `json:"corporate"`
	JobsCreated int `json:"jobs_created"`
}

// Ingest runs the intake pipeline over parsed rows: dedupe within the batch,
// classify each email, persist new subscribers, and create one enrichment
// job per personal-email subscriber. Rows whose email already exists in the
// store count as duplicates.
func Ingest(ctx context.Context, st store.Store, jobs JobCreator, orgID string, rows []Row) (*Result, error) {
	unique, dups := Dedupe(rows)
	res := &Result{Duplicates: dups}

	for _, row := range unique {
		if _, err := st.GetSubscriberByEmail(ctx, orgID, row.Email); err == nil {
			res.Duplicates++
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(err, "intake: look up %s", row.Email)
		}

		// Classification keys on the same normalized form as dedup, so a
		// padded or mixed-case address cannot land in a different bucket.
		emailType := Classify(model.NormalizeEmail(row.Email))

		raw := make(map[string]any, len(row.Fields))
		for k, v := range row.Fields {
			raw[k] = v
		}

		sub := &model.Subscriber{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			Email:     row.Email,
			EmailType: emailType,
			Raw:       raw,
		}
		if err := st.CreateSubscriber(ctx, sub); err != nil {
			return nil, err
		}
		res.Imported++

		if emailType == model.EmailTypePersonal {
			res.Personal++
			if _, err := jobs.CreateJob(ctx, sub); err != nil {
				return nil, err
			}
			res.JobsCreated++
		} else {
			res.Corporate++
		}
	}

	zap.L().Info("intake: ingest complete",
		zap.String("org_id", orgID),
		zap.Int("rows", len(rows)),
		zap.Int("imported", res.Imported),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("jobs_created", res.JobsCreated),
	)
	return res, nil
}
