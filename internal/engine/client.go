package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// Client invokes a remote turn runner over HTTP and consumes its SSE stream.
// The runner hosts the reasoning/tool-execution loop; this client only
// translates its stream into Callbacks and the final exchange history.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Ensure Client implements Runner.
var _ Runner = (*Client)(nil)

// NewClient creates a new runner client. timeout bounds one whole turn,
// which may be long-running.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type doneEventData struct {
	Messages []Exchange `json:"messages"`
}

type toolResultEventData struct {
	ToolUseID string `json:"tool_use_id"`
	ToolResult
}

type errorEventData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunTurn posts the turn request to the runner's /v1/turn endpoint and
// streams SSE events until done. Malformed callback events are logged and
// skipped; they never abort the turn.
func (c *Client) RunTurn(ctx context.Context, req TurnRequest, cb Callbacks) ([]Exchange, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/turn", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}
	httpReq.Header.Set("X-Session-ID", req.SessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke runner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("runner returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var history []Exchange
	var done bool
	err = parseSSE(resp.Body, func(event SSEEvent) error {
		switch event.Event {
		case "assistant_block":
			if cb.OnAssistantBlock != nil {
				if !json.Valid([]byte(event.Data)) {
					log.Printf("WARN: skipping malformed assistant_block event")
					return nil
				}
				cb.OnAssistantBlock(json.RawMessage(event.Data))
			}

		case "tool_result":
			var data toolResultEventData
			if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
				log.Printf("WARN: skipping malformed tool_result event: %v", err)
				return nil
			}
			if cb.OnToolResult != nil {
				cb.OnToolResult(data.ToolResult, data.ToolUseID)
			}

		case "api_trace":
			var trace APITrace
			if err := json.Unmarshal([]byte(event.Data), &trace); err != nil {
				log.Printf("WARN: skipping malformed api_trace event: %v", err)
				return nil
			}
			if cb.OnAPITrace != nil {
				cb.OnAPITrace(trace)
			}

		case "done":
			var data doneEventData
			if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
				return fmt.Errorf("failed to parse done event: %w", err)
			}
			history = data.Messages
			done = true

		case "error":
			var data errorEventData
			if err := json.Unmarshal([]byte(event.Data), &data); err != nil {
				return fmt.Errorf("runner error event: %s", event.Data)
			}
			return fmt.Errorf("runner error %s: %s", data.Code, data.Message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, ErrNoDone
	}
	return history, nil
}

// parseSSE parses an SSE stream and calls the handler for each event.
func parseSSE(reader io.Reader, handler func(event SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}
