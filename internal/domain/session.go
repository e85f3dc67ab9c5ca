package domain

import (
	"encoding/json"
	"time"
)

// Metadata keys under which sandbox connection info is embedded in a session.
const (
	MetaSandboxInstanceID = "sandbox_instance_id"
	MetaDisplayPort       = "display_port"
	MetaControlPort       = "control_port"
)

// Session represents one continuous agent conversation.
type Session struct {
	SessionID string                 `json:"session_id"`
	Title     string                 `json:"title,omitempty"`
	Status    SessionStatus          `json:"status"`
	Archived  bool                   `json:"archived"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// SandboxInstanceID returns the sandbox instance id embedded in the session
// metadata, or "" when the session runs on the shared fallback environment.
func (s *Session) SandboxInstanceID() string {
	if s.Metadata == nil {
		return ""
	}
	id, _ := s.Metadata[MetaSandboxInstanceID].(string)
	return id
}

// Message represents a single entry in a session's history. Messages are
// append-only and never mutated after creation.
type Message struct {
	MessageID   string          `json:"message_id"`
	SessionID   string          `json:"session_id"`
	Role        Role            `json:"role"`
	Content     string          `json:"content,omitempty"`
	ContentJSON json.RawMessage `json:"content_json,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
