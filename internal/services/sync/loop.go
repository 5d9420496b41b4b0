package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/replica"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// LoopState is the sync loop's lifecycle state.
type LoopState int32

const (
	StateIdle LoopState = iota
	StateStarting
	StateRunning
	StateStopped
	StateCancelled
	StateFailed
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loop owns exclusive access to the local replica for one session. It
// consumes the merged event sequence strictly one event at a time and
// dispatches each to the applier or the push task.
type Loop struct {
	sess     *models.Session
	store    replica.Store
	provider transport.Provider
	applier  *Applier
	pusher   *Pusher
	autoPush *atomic.Bool

	pollInterval time.Duration
	logger       *events.Logger

	state atomic.Int32

	errMu sync.Mutex
	err   error
}

func newLoop(
	sess *models.Session,
	store replica.Store,
	provider transport.Provider,
	applier *Applier,
	pusher *Pusher,
	autoPush *atomic.Bool,
	pollInterval time.Duration,
	logger *events.Logger,
) *Loop {
	l := &Loop{
		sess:         sess,
		store:        store,
		provider:     provider,
		applier:      applier,
		pusher:       pusher,
		autoPush:     autoPush,
		pollInterval: pollInterval,
		logger:       logger.WithField("repo_id", sess.RepoID),
	}
	l.state.Store(int32(StateIdle))
	return l
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Err returns the error that terminated the loop, if any.
func (l *Loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// run drives the loop to termination. The initial connection acquisition
// completes the caller's start request through started; after that, events
// are processed sequentially until cancellation, a fatal error, or source
// exhaustion.
func (l *Loop) run(ctx context.Context, started chan<- error) {
	l.state.Store(int32(StateStarting))

	if _, err := l.provider.Acquire(ctx); err != nil {
		l.finish(StateFailed, err)
		started <- err
		return
	}

	started <- nil
	l.state.Store(int32(StateRunning))
	l.logger.Info("Sync loop running")

	src := &updateSource{provider: l.provider, logger: l.logger}
	updates := src.run(ctx)

	det := &detector{
		interval: l.pollInterval,
		store:    l.store,
		repoID:   l.sess.RepoID,
		autoPush: l.autoPush,
		logger:   l.logger,
	}
	pulses := det.run(ctx)

	merged := mergeEvents(updates, pulses)

	// Unblock the source forwarders on every exit path.
	defer func() {
		go func() {
			for range merged {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			l.recordCancellation()
			l.finish(StateCancelled, nil)
			return
		case ev, ok := <-merged:
			if !ok {
				// Cancellation also closes the sources; report it as such
				// rather than as a clean stop.
				if ctx.Err() != nil {
					l.recordCancellation()
					l.finish(StateCancelled, nil)
					return
				}
				if err := src.Err(); err != nil {
					l.recordFailure(err)
					l.finish(StateFailed, err)
					return
				}
				l.finish(StateStopped, nil)
				return
			}

			var err error
			switch ev.kind {
			case kindRemoteUpdate:
				err = l.applier.Apply(ctx, l.sess, ev.update)
			case kindLocalCheck:
				err = l.pusher.Push(ctx, l.sess)
			}

			if err != nil {
				if ctx.Err() != nil {
					l.recordCancellation()
					l.finish(StateCancelled, nil)
					return
				}
				l.recordFailure(err)
				l.finish(StateFailed, err)
				return
			}
		}
	}
}

func (l *Loop) finish(state LoopState, err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
	l.state.Store(int32(state))

	if err != nil {
		l.logger.WithError(err).Error("Sync loop terminated")
	} else {
		l.logger.WithField("state", state.String()).Info("Sync loop terminated")
	}
}

func (l *Loop) recordCancellation() {
	now := time.Now().UTC()
	if err := l.store.AppendLog(l.sess.RepoID, models.LogEntry{
		At:      now,
		Stamp:   l.sess.Stamp(now),
		Level:   "info",
		Message: "sync cancelled",
	}); err != nil {
		l.logger.WithError(err).Warn("Session log append failed")
	}
}

func (l *Loop) recordFailure(err error) {
	now := time.Now().UTC()
	if logErr := l.store.AppendLog(l.sess.RepoID, models.LogEntry{
		At:      now,
		Stamp:   l.sess.Stamp(now),
		Level:   "error",
		Message: fmt.Sprintf("sync failed: %v", err),
	}); logErr != nil {
		l.logger.WithError(logErr).Warn("Session log append failed")
	}
}
