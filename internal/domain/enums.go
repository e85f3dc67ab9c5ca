// Package domain defines the core domain models for the session server.
package domain

// SessionStatus represents the status of a session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusArchived SessionStatus = "archived"
)

// Role represents the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// EventType represents the type of a live stream event.
type EventType string

const (
	EventTypeUserMessage      EventType = "user_message"
	EventTypeAssistantBlock   EventType = "assistant_block"
	EventTypeToolResult       EventType = "tool_result"
	EventTypeAPITrace         EventType = "api_trace"
	EventTypeAssistantMessage EventType = "assistant_message"
	EventTypeAssistantDone    EventType = "assistant_done"
)
