package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for start-time failures.
var (
	// ErrLockHeld means another sync loop is active in this process.
	// Retryable once the running loop stops.
	ErrLockHeld = errors.New("sync loop already running")

	// ErrNoLocalReplica means the session names a repo with no local store.
	ErrNoLocalReplica = errors.New("no local replica for repo")

	// ErrNotSyncableGraph means the graph is not configured for remote sync.
	ErrNotSyncableGraph = errors.New("graph is not remote-syncable")

	// ErrConnClosed signals a send or wait on a connection that has closed.
	// Transient: callers re-acquire through the connection manager.
	ErrConnClosed = errors.New("connection closed")
)

// ConnectionTimeoutError is returned when the connection manager exhausts
// its retry budget. Fatal to the current loop; the caller may restart.
type ConnectionTimeoutError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *ConnectionTimeoutError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *ConnectionTimeoutError) Unwrap() error {
	return e.Err
}

// ServerError carries the ex-data of a rejected request.
type ServerError struct {
	ReqID   string
	Message string
	Data    json.RawMessage
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server rejected %s: %s", e.ReqID, e.Message)
	}
	return fmt.Sprintf("server rejected %s: %s", e.ReqID, string(e.Data))
}

// ApplyError means a remote update was rejected by the local transaction
// layer. Fatal to the loop: skipping the update would desynchronize the
// replica, so it is propagated instead of swallowed.
type ApplyError struct {
	GraphUUID string
	TX        int64
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply remote tx %d to graph %s: %v", e.TX, e.GraphUUID, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// PushRejectedError means the server rejected a pushed batch. Non-fatal:
// the operations stay pending and the loop continues.
type PushRejectedError struct {
	ReqID string
	Err   *ServerError
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("push %s rejected: %v", e.ReqID, e.Err)
}

func (e *PushRejectedError) Unwrap() error {
	return e.Err
}
