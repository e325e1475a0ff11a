// Package crm reconciles enriched subscribers against the CRM, tracking
// which are already synced so repeated batches stay idempotent.
package crm

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// ContactSyncer pushes one subscriber to the CRM.
type ContactSyncer interface {
	SyncContact(ctx context.Context, sub *model.Subscriber) error
}

// Result is the bulk-sync outcome; the three counts always sum to the number
// of ids requested.
type Result struct {
	Synced        int `json:"synced"`
	AlreadySynced int `json:"alreadySynced"`
	NotFound      int `json:"notFound"`
}

// Reconciler bulk-reconciles subscriber ids against CRM sync state.
type Reconciler struct {
	store store.Store
	crm   ContactSyncer
}

// NewReconciler creates a reconciler over the given store and CRM transport.
func NewReconciler(st store.Store, syncer ContactSyncer) *Reconciler {
	return &Reconciler{store: st, crm: syncer}
}

// BulkSync reconciles each id in order: missing subscribers count notFound,
// already-flagged ones alreadySynced without re-dispatching, the rest are
// pushed to the CRM and flagged via an atomic check-and-set. A CRM transport
// failure fails the whole batch with no partial-success result; the
// check-and-set makes a full retry safe.
func (r *Reconciler) BulkSync(ctx context.Context, ids []string) (*Result, error) {
	res := &Result{}

	for _, id := range ids {
		sub, err := r.store.GetSubscriber(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				res.NotFound++
				continue
			}
			return nil, eris.Wrapf(err, "crm: load subscriber %s", id)
		}

		if sub.Synced {
			res.AlreadySynced++
			continue
		}

		if err := r.crm.SyncContact(ctx, sub); err != nil {
			return nil, eris.Wrapf(err, "crm: sync subscriber %s", id)
		}

		set, err := r.store.MarkSubscriberSynced(ctx, id, time.Now().UTC())
		if err != nil {
			return nil, eris.Wrapf(err, "crm: mark subscriber synced %s", id)
		}
		if set {
			res.Synced++
		} else {
			// Lost a race with a concurrent reconciler; their sync counts.
			res.AlreadySynced++
		}
	}

	zap.L().Info("crm: bulk sync complete",
		zap.Int("requested", len(ids)),
		zap.Int("synced", res.Synced),
		zap.Int("already_synced", res.AlreadySynced),
		zap.Int("not_found", res.NotFound),
	)
	return res, nil
}
