package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action names a server operation.
type Action string

// Actions understood by the sync server.
const (
	ActionRegisterGraphUpdates      Action = "register-graph-updates"
	ActionApplyOps                  Action = "apply-ops"
	ActionListGraphs                Action = "list-graphs"
	ActionDeleteGraph               Action = "delete-graph"
	ActionGetUsersInfo              Action = "get-users-info"
	ActionGrantAccess               Action = "grant-access"
	ActionQueryBlockContentVersions Action = "query-block-content-versions"
	ActionSnapshotGraph             Action = "snapshot-graph"
	ActionSnapshotList              Action = "snapshot-list"
)

// PushUpdatesReqID marks server-initiated update frames. Every other
// req-id correlates a response to an outstanding request.
const PushUpdatesReqID = "push-updates"

// Request is an outbound frame. Fields beyond action and req-id are
// action-specific and omitted when empty.
type Request struct {
	Action    Action `json:"action"`
	ReqID     string `json:"req-id"`
	GraphUUID string `json:"graph-uuid,omitempty"`

	Ops      []Operation `json:"ops,omitempty"`
	TXBefore int64       `json:"t-before,omitempty"`

	TargetUserUUIDs []string `json:"target-user-uuids,omitempty"`
	BlockUUIDs      []string `json:"block-uuids,omitempty"`
}

// Frame is one inbound message. Raw keeps the full payload for
// action-specific decoding.
type Frame struct {
	ReqID     string          `json:"req-id"`
	ExData    json.RawMessage `json:"ex-data,omitempty"`
	ExMessage string          `json:"ex-message,omitempty"`

	Raw []byte `json:"-"`
}

// ParseFrame reads the envelope of an inbound message.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	frame.Raw = data
	return &frame, nil
}

// IsPushUpdate reports whether this frame is a server-initiated update
// rather than a response to a request.
func (f *Frame) IsPushUpdate() bool {
	return f.ReqID == PushUpdatesReqID
}

// Failed reports whether the server attached exception data.
func (f *Frame) Failed() bool {
	return len(f.ExData) > 0 && string(f.ExData) != "null"
}

// Err converts the exception data to an error, nil when the frame
// succeeded.
func (f *Frame) Err() error {
	if !f.Failed() {
		return nil
	}
	return &ServerError{
		ReqID:   f.ReqID,
		Message: f.ExMessage,
		Data:    f.ExData,
	}
}

// Decode unmarshals the full payload into an action-specific shape.
func (f *Frame) Decode(v interface{}) error {
	return json.Unmarshal(f.Raw, v)
}

// Operation is one graph mutation, local or remote.
type Operation struct {
	Type      string          `json:"op"`
	BlockUUID string          `json:"block-uuid,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Epoch     int64           `json:"epoch,omitempty"`
}

// UpdateBatch is a server-initiated batch of remote operations, tagged
// with the server transaction it produces.
type UpdateBatch struct {
	ReqID     string      `json:"req-id"`
	GraphUUID string      `json:"graph-uuid"`
	TX        int64       `json:"t"`
	Ops       []Operation `json:"ops"`
}

// ApplyOpsResponse acknowledges a pushed batch with the resulting server
// transaction.
type ApplyOpsResponse struct {
	TX int64 `json:"t"`
}

// GraphInfo describes one remote graph.
type GraphInfo struct {
	GraphUUID string `json:"graph-uuid"`
	GraphName string `json:"graph-name"`
	TX        int64  `json:"t"`
}

// UserInfo describes one collaborator.
type UserInfo struct {
	UserUUID string `json:"user-uuid"`
	UserName string `json:"user-name"`
	Email    string `json:"email,omitempty"`
}

// BlockVersion is one saved version of a block's content.
type BlockVersion struct {
	BlockUUID string    `json:"block-uuid"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created-at"`
}

// SnapshotInfo describes one server-side graph snapshot.
type SnapshotInfo struct {
	SnapshotUUID string    `json:"snapshot-uuid"`
	CreatedAt    time.Time `json:"created-at"`
}
