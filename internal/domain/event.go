package domain

import "time"

// StreamEvent is a transient notification broadcast to session observers.
// Events are not persisted by the hub; loss is tolerated for observers not
// connected at publish time.
type StreamEvent struct {
	Type      EventType   `json:"type"`
	At        time.Time   `json:"at"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Message   interface{} `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Sandbox describes the execution environment attached to a session.
// InstanceID is empty for the shared fallback environment, which is not
// individually owned and never released.
type Sandbox struct {
	InstanceID  string `json:"instance_id,omitempty"`
	DisplayPort int    `json:"display_port"`
	ControlPort int    `json:"control_port"`
}
