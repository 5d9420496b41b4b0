package transport

import (
	"context"

	"github.com/TheMichaelB/graphsync/internal/models"
)

// ConnState is the lifecycle state of a connection handle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UpdateResult is one item of the update stream: a decoded batch, or the
// fatal error that ended the stream. A result carrying Err is the
// stream's last element; the batch envelope (graph, tx) accompanies it
// when it could still be read.
type UpdateResult struct {
	Batch *models.UpdateBatch
	Err   error
}

// Conn is one live connection to the sync server. The transport serializes
// frames and correlates responses by request id, so a reader (update
// stream) and a writer (push task) may share a handle without loop-level
// locking.
type Conn interface {
	// Call sends a request and waits for the correlated response frame.
	// The returned frame may still carry ex-data; callers check Failed.
	Call(ctx context.Context, req *models.Request) (*models.Frame, error)

	// Send writes a request without waiting for a response.
	Send(req *models.Request) error

	// Updates streams server-initiated push-updates batches. Closed when
	// the connection closes. An undecodable batch is fatal: it is
	// delivered as an UpdateResult with Err set and the connection closes,
	// so the update cannot be silently skipped.
	Updates() <-chan UpdateResult

	// Done is closed when the connection is no longer usable.
	Done() <-chan struct{}

	// State returns the current lifecycle state.
	State() ConnState

	// Close tears the connection down.
	Close() error
}

// Provider hands out connection handles. Acquire returns the cached open
// handle when one exists; otherwise it dials with the configured retry
// budget. Handles are shared, not per-caller.
type Provider interface {
	Acquire(ctx context.Context) (Conn, error)

	// Subscribe records the graph whose updates every new connection must
	// observe before first use. Idempotent server-side.
	Subscribe(graphUUID string)

	// States exposes the connection lifecycle as an observable sequence.
	States() <-chan ConnState

	// CurrentState returns the most recently published state.
	CurrentState() ConnState

	// Close tears down all cached connections.
	Close() error
}
