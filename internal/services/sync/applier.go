package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
)

// Applier applies one inbound update batch to the local replica as a
// single transaction. A rejected transaction is fatal to the loop:
// silently skipping an update would desynchronize the replica.
type Applier struct {
	store  replica.Store
	logger *events.Logger
}

// NewApplier creates an applier.
func NewApplier(store replica.Store, logger *events.Logger) *Applier {
	return &Applier{
		store:  store,
		logger: logger.WithField("component", "applier"),
	}
}

// Apply commits one remote update batch and records it in the session log.
func (a *Applier) Apply(ctx context.Context, sess *models.Session, batch *models.UpdateBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.store.ApplyTransaction(sess.RepoID, batch.Ops, batch.TX); err != nil {
		return &models.ApplyError{
			GraphUUID: sess.GraphUUID,
			TX:        batch.TX,
			Err:       err,
		}
	}

	a.logger.WithFields(map[string]interface{}{
		"tx":  batch.TX,
		"ops": len(batch.Ops),
	}).Debug("Applied remote update")

	now := time.Now().UTC()
	entry := models.LogEntry{
		At:      now,
		Stamp:   sess.Stamp(now),
		Level:   "info",
		Message: fmt.Sprintf("applied remote tx %d (%d ops)", batch.TX, len(batch.Ops)),
	}
	if err := a.store.AppendLog(sess.RepoID, entry); err != nil {
		a.logger.WithError(err).Warn("Session log append failed")
	}

	return nil
}
