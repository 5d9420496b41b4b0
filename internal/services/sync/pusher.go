package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// maxCallAttempts bounds transient re-sends of one batch; each attempt
// re-acquires through the provider, whose own retry budget applies.
const maxCallAttempts = 3

// Pusher sends pending local operations to the server as a single batch
// and interprets the acknowledgement. A server rejection is non-fatal:
// operations stay pending and the pusher backs off for a few intervals.
//
// Pusher state is only touched from the sync loop's sequential dispatch,
// so it needs no locking.
type Pusher struct {
	store    replica.Store
	provider transport.Provider
	logger   *events.Logger

	requestTimeout time.Duration
	rejectBackoff  time.Duration

	rejects       int
	rejectedUntil time.Time
}

// NewPusher creates a push task. rejectBackoff is the pause after one
// server rejection; consecutive rejections stretch it linearly, capped at
// five times the base.
func NewPusher(store replica.Store, provider transport.Provider, requestTimeout, rejectBackoff time.Duration, logger *events.Logger) *Pusher {
	return &Pusher{
		store:          store,
		provider:       provider,
		logger:         logger.WithField("component", "pusher"),
		requestTimeout: requestTimeout,
		rejectBackoff:  rejectBackoff,
	}
}

// Push reads the pending set and sends it as one apply-ops batch. Returns
// nil when there is nothing to send, when backing off, and on a server
// rejection; any returned error is fatal to the loop.
func (p *Pusher) Push(ctx context.Context, sess *models.Session) error {
	if time.Now().Before(p.rejectedUntil) {
		p.logger.Debug("Skipping push during rejection backoff")
		return nil
	}

	batch, err := p.store.PendingOps(sess.RepoID)
	if err != nil {
		return fmt.Errorf("read pending operations: %w", err)
	}
	if batch.Empty() {
		return nil
	}

	req := &models.Request{
		Action:    models.ActionApplyOps,
		ReqID:     uuid.NewString(),
		GraphUUID: sess.GraphUUID,
		Ops:       batch.Ops,
		TXBefore:  batch.TXBefore,
	}

	frame, err := p.call(ctx, req)
	if err != nil {
		return err
	}

	if frame.Failed() {
		p.noteRejection(sess, req.ReqID, frame)
		return nil
	}

	if err := p.store.ClearPushed(sess.RepoID, batch); err != nil {
		return fmt.Errorf("clear pushed operations: %w", err)
	}

	var ack models.ApplyOpsResponse
	if err := frame.Decode(&ack); err == nil && ack.TX > 0 {
		if err := p.store.SetRemoteTX(sess.RepoID, ack.TX); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}

	p.rejects = 0
	p.rejectedUntil = time.Time{}

	p.logger.WithFields(map[string]interface{}{
		"ops": len(batch.Ops),
		"tx":  ack.TX,
	}).Info("Pushed local operations")

	now := time.Now().UTC()
	if err := p.store.AppendLog(sess.RepoID, models.LogEntry{
		At:      now,
		Stamp:   sess.Stamp(now),
		Level:   "info",
		Message: fmt.Sprintf("pushed %d ops (tx %d)", len(batch.Ops), ack.TX),
	}); err != nil {
		p.logger.WithError(err).Warn("Session log append failed")
	}

	return nil
}

// call sends the batch, re-acquiring the connection on transient failures.
func (p *Pusher) call(ctx context.Context, req *models.Request) (*models.Frame, error) {
	var lastErr error

	for attempt := 1; attempt <= maxCallAttempts; attempt++ {
		conn, err := p.provider.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		frame, err := conn.Call(callCtx, req)
		cancel()

		if err == nil {
			return frame, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, models.ErrConnClosed) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		lastErr = err
		p.logger.WithError(err).WithField("attempt", attempt).Warn("Push send failed, re-acquiring")
	}

	return nil, fmt.Errorf("push %s: %w", req.ReqID, lastErr)
}

func (p *Pusher) noteRejection(sess *models.Session, reqID string, frame *models.Frame) {
	rejErr := &models.PushRejectedError{ReqID: reqID}
	var srvErr *models.ServerError
	if errors.As(frame.Err(), &srvErr) {
		rejErr.Err = srvErr
	}

	p.rejects++
	factor := p.rejects
	if factor > 5 {
		factor = 5
	}
	p.rejectedUntil = time.Now().Add(time.Duration(factor) * p.rejectBackoff)

	p.logger.WithError(rejErr).WithField("backoff", time.Duration(factor)*p.rejectBackoff).
		Warn("Server rejected push, operations remain pending")

	now := time.Now().UTC()
	if err := p.store.AppendLog(sess.RepoID, models.LogEntry{
		At:      now,
		Stamp:   sess.Stamp(now),
		Level:   "warn",
		Message: fmt.Sprintf("push rejected: %v", rejErr),
	}); err != nil {
		p.logger.WithError(err).Warn("Session log append failed")
	}
}
