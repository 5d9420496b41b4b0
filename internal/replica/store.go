package replica

import (
	"errors"

	"github.com/TheMichaelB/graphsync/internal/models"
)

// Store is the local replica's sync-facing API. The sync loop is the only
// writer while a session runs; pending operations are produced by the
// editing layer outside this core.
type Store interface {
	// RegisterGraph records a local graph replica.
	RegisterGraph(meta *models.GraphMeta) error

	// GraphInfo returns the graph metadata for a repo, or ErrGraphNotFound.
	GraphInfo(repoID string) (*models.GraphMeta, error)

	// EnqueueOps appends locally produced operations to the pending set.
	EnqueueOps(repoID string, ops []models.Operation) error

	// UnpushedCount returns the number of pending local operations.
	UnpushedCount(repoID string) (int, error)

	// PendingOps reads the pending local operations as one batch.
	PendingOps(repoID string) (*OpBatch, error)

	// ClearPushed removes a successfully pushed batch from the pending set.
	ClearPushed(repoID string, batch *OpBatch) error

	// ApplyTransaction applies a remote operation set atomically and
	// advances the remote transaction watermark.
	ApplyTransaction(repoID string, ops []models.Operation, tx int64) error

	// RemoteTX returns the remote transaction watermark.
	RemoteTX(repoID string) (int64, error)

	// SetRemoteTX advances the remote transaction watermark.
	SetRemoteTX(repoID string, tx int64) error

	// AppendLog adds an entry to the session diagnostic log.
	AppendLog(repoID string, entry models.LogEntry) error

	// RecentLog returns the most recent log entries, newest last.
	RecentLog(repoID string, n int) ([]models.LogEntry, error)

	// Close releases resources.
	Close() error
}

// OpBatch is one push batch read from the pending set. IDs identify the
// rows so a later ClearPushed removes exactly what was sent.
type OpBatch struct {
	IDs      []int64
	Ops      []models.Operation
	TXBefore int64
}

// Empty reports whether the batch has nothing to push.
func (b *OpBatch) Empty() bool {
	return b == nil || len(b.Ops) == 0
}

// Errors
var (
	ErrGraphNotFound = errors.New("graph not found")
	ErrBadOperation  = errors.New("malformed operation")
)
