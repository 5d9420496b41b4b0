package sync

import (
	"context"
	"sync"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// updateSource turns per-connection update streams into one logical
// sequence: when a connection drops, it transparently re-acquires through
// the provider and resumes. Ordering holds within a connection; messages
// in flight across a drop may be lost (change streaming, not log replay).
type updateSource struct {
	provider transport.Provider
	logger   *events.Logger

	mu  sync.Mutex
	err error
}

// run streams update batches until ctx is cancelled or acquisition fails
// fatally, then closes the channel. Err reports the failure, if any.
func (s *updateSource) run(ctx context.Context) <-chan *models.UpdateBatch {
	out := make(chan *models.UpdateBatch)

	go func() {
		defer close(out)

		for {
			conn, err := s.provider.Acquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.setErr(err)
				return
			}

			if !s.drain(ctx, conn, out) {
				return
			}
			s.logger.Info("Update stream ended, re-acquiring connection")
		}
	}()

	return out
}

// drain forwards one connection's updates. Returns true when the
// connection closed cleanly and the caller should re-acquire. A stream
// error is fatal: the corrupt update cannot be skipped without
// desynchronizing the replica.
func (s *updateSource) drain(ctx context.Context, conn transport.Conn, out chan<- *models.UpdateBatch) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case res, ok := <-conn.Updates():
			if !ok {
				return true
			}
			if res.Err != nil {
				applyErr := &models.ApplyError{Err: res.Err}
				if res.Batch != nil {
					applyErr.GraphUUID = res.Batch.GraphUUID
					applyErr.TX = res.Batch.TX
				}
				s.setErr(applyErr)
				return false
			}
			select {
			case out <- res.Batch:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (s *updateSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the fatal acquisition error that ended the stream, if any.
func (s *updateSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
