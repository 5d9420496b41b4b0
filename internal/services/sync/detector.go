package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/replica"
)

// detector samples the replica's unpushed-operation counter on a fixed
// interval. A pulse is emitted only when auto-push is enabled and there is
// something to send, bounding outbound traffic to one push attempt per
// interval per dirty session.
type detector struct {
	interval time.Duration
	store    replica.Store
	repoID   string
	autoPush *atomic.Bool
	logger   *events.Logger
}

// run emits pulses until ctx is cancelled, then closes the channel.
func (d *detector) run(ctx context.Context) <-chan struct{} {
	pulses := make(chan struct{}, 1)

	go func() {
		defer close(pulses)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !d.autoPush.Load() {
					continue
				}
				n, err := d.store.UnpushedCount(d.repoID)
				if err != nil {
					d.logger.WithError(err).Warn("Unpushed count check failed")
					continue
				}
				if n == 0 {
					continue
				}
				select {
				case pulses <- struct{}{}:
				default:
					// Loop still busy with the previous pulse; the pending
					// ops will be picked up next interval.
				}
			}
		}
	}()

	return pulses
}
