// Package engine defines the contract with the external reasoning engine
// and provides an HTTP/SSE client for a remote turn runner.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Exchange is one role-tagged entry in the engine's conversation format.
// Content is an opaque array of content blocks (text, tool_use, tool_result).
type Exchange struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextContent builds a single-text-block content array.
func TextContent(text string) json.RawMessage {
	data, _ := json.Marshal([]map[string]string{{"type": "text", "text": text}})
	return data
}

// ToolResult carries the output of one completed tool invocation.
type ToolResult struct {
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
	System      string `json:"system,omitempty"`
}

// APITrace is a diagnostic record of one outbound API call the engine made.
// Every field is best-effort; extraction failures degrade to empty values.
type APITrace struct {
	Request  APIRequestInfo  `json:"request"`
	Response APIResponseInfo `json:"response"`
	Error    string          `json:"error,omitempty"`
}

// APIRequestInfo describes the request side of an API trace.
type APIRequestInfo struct {
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
}

// APIResponseInfo describes the response side of an API trace.
type APIResponseInfo struct {
	Status      int    `json:"status,omitempty"`
	BodyPreview string `json:"body_preview,omitempty"`
}

// Callbacks are invoked by the engine on its own execution timeline while a
// turn is in flight. Implementations must not block the engine's forward
// progress.
type Callbacks struct {
	// OnAssistantBlock is invoked once per partial assistant output unit.
	OnAssistantBlock func(block json.RawMessage)
	// OnToolResult is invoked once per completed tool invocation, tagged
	// with the originating tool-use id.
	OnToolResult func(result ToolResult, toolUseID string)
	// OnAPITrace is invoked once per outbound API call the engine makes.
	OnAPITrace func(trace APITrace)
}

// TurnRequest describes one turn for the engine: the transformed history
// (whose final entry is the new user turn) plus model options.
type TurnRequest struct {
	SessionID   string     `json:"session_id"`
	Messages    []Exchange `json:"messages"`
	Model       string     `json:"model"`
	MaxTokens   int        `json:"max_tokens"`
	ToolVersion string     `json:"tool_version"`
}

// Runner executes exactly one agent turn against the reasoning engine and
// returns the full updated exchange history on success.
type Runner interface {
	RunTurn(ctx context.Context, req TurnRequest, cb Callbacks) ([]Exchange, error)
}

// LastAssistantContent scans an exchange history from the end backward and
// returns the content of the most recent assistant entry, or nil when the
// history contains none.
func LastAssistantContent(history []Exchange) json.RawMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return nil
}

// ErrNoDone is returned when the runner's stream ends without a done event.
var ErrNoDone = fmt.Errorf("runner stream ended without done event")
