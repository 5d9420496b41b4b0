package models

import "time"

// Session is one logical sync relationship between a local replica and a
// remote graph. Owned exclusively by the loop that created it.
type Session struct {
	RepoID     string `json:"repo_id"`
	GraphUUID  string `json:"graph_uuid"`
	UserUUID   string `json:"user_uuid"`
	Token      string `json:"-"`
	DateFormat string `json:"date_format"`
}

// Stamp formats a timestamp for the session's diagnostic log.
func (s *Session) Stamp(t time.Time) string {
	layout := s.DateFormat
	if layout == "" {
		layout = time.RFC3339
	}
	return t.Format(layout)
}

// GraphMeta is the replica store's record of a local graph.
type GraphMeta struct {
	RepoID        string `json:"repo_id"`
	GraphUUID     string `json:"graph_uuid"`
	UserUUID      string `json:"user_uuid"`
	RemoteEnabled bool   `json:"remote_enabled"`
}

// LogEntry is one line of a session's diagnostic log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Stamp   string    `json:"stamp,omitempty"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// DebugState is a point-in-time snapshot of the active session, usable for
// polling or for pushing to an observability sink.
type DebugState struct {
	RepoID          string `json:"repo_id"`
	GraphUUID       string `json:"graph_uuid"`
	UserUUID        string `json:"user_uuid"`
	UnpushedCount   int    `json:"unpushed_count"`
	ConnectionState string `json:"connection_state"`
	AutoPush        bool   `json:"auto_push"`
	LoopState       string `json:"loop_state"`
}
