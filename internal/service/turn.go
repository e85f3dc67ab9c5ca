package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/deskd/deskd/internal/domain"
	"github.com/deskd/deskd/internal/engine"
)

// callbackEventBuffer bounds the queue between engine callbacks and the
// publishing goroutine. Callbacks only block once this many events are
// waiting on a slow broadcast.
const callbackEventBuffer = 64

// runTurn drives one agent turn for a session. It runs as an independent
// background unit of work: nothing supervises it from outside, so every
// failure is logged here and the turn aborts without committing a message.
// Observers detect an aborted turn by the absence of assistant_done.
func (s *Service) runTurn(sessionID string) {
	// No deadline here: a turn runs for as long as the engine needs. The
	// engine client's own transport timeout is the only bound.
	ctx := context.Background()

	// Reload the full history; it includes the just-persisted user message.
	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		log.Printf("ERROR: turn aborted, failed to load history for session %s: %v", sessionID, err)
		return
	}
	exchanges := buildExchanges(messages)

	// Callbacks fire on the engine's own timeline. Publishing goes through
	// a queue drained by a single goroutine so a slow observer cannot stall
	// the engine, while events still reach observers in invocation order.
	events := make(chan domain.StreamEvent, callbackEventBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for event := range events {
			s.emit(sessionID, event)
		}
	}()

	cb := engine.Callbacks{
		OnAssistantBlock: func(block json.RawMessage) {
			events <- domain.StreamEvent{
				Type: domain.EventTypeAssistantBlock,
				At:   time.Now().UTC(),
				Data: block,
			}
		},
		OnToolResult: func(result engine.ToolResult, toolUseID string) {
			events <- domain.StreamEvent{
				Type:      domain.EventTypeToolResult,
				At:        time.Now().UTC(),
				ToolUseID: toolUseID,
				Data:      result,
			}
		},
		OnAPITrace: func(trace engine.APITrace) {
			events <- domain.StreamEvent{
				Type: domain.EventTypeAPITrace,
				At:   time.Now().UTC(),
				Data: trace,
			}
		},
	}

	updated, err := s.runner.RunTurn(ctx, engine.TurnRequest{
		SessionID:   sessionID,
		Messages:    exchanges,
		Model:       s.config.Model,
		MaxTokens:   s.config.MaxTokens,
		ToolVersion: s.config.ToolVersion,
	}, cb)

	close(events)
	<-drained

	if err != nil {
		log.Printf("ERROR: turn failed for session %s: %v", sessionID, err)
		return
	}

	final := engine.LastAssistantContent(updated)
	if final == nil {
		// Either the engine legitimately produced nothing or its response
		// shape was unexpected; there is no committable output either way.
		log.Printf("WARN: turn for session %s returned no assistant entry (%d exchanges)", sessionID, len(updated))
		return
	}

	assistantMsg := &domain.Message{
		MessageID:   "msg_" + uuid.New().String(),
		SessionID:   sessionID,
		Role:        domain.RoleAssistant,
		ContentJSON: final,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, assistantMsg); err != nil {
		log.Printf("ERROR: failed to commit assistant message for session %s: %v", sessionID, err)
		return
	}

	s.emit(sessionID, domain.StreamEvent{
		Type: domain.EventTypeAssistantMessage,
		At:   assistantMsg.CreatedAt,
		Data: final,
	})
	s.emit(sessionID, domain.StreamEvent{
		Type: domain.EventTypeAssistantDone,
		At:   time.Now().UTC(),
	})
}

// buildExchanges transforms stored messages into the engine's exchange
// format. User messages become a single text block; assistant messages use
// their structured blocks when present, falling back to a text block.
// System and tool rows are internal bookkeeping and are not replayed.
func buildExchanges(messages []domain.Message) []engine.Exchange {
	exchanges := make([]engine.Exchange, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleUser:
			exchanges = append(exchanges, engine.Exchange{
				Role:    "user",
				Content: engine.TextContent(m.Content),
			})
		case domain.RoleAssistant:
			if len(m.ContentJSON) > 0 {
				exchanges = append(exchanges, engine.Exchange{
					Role:    "assistant",
					Content: m.ContentJSON,
				})
			} else if m.Content != "" {
				exchanges = append(exchanges, engine.Exchange{
					Role:    "assistant",
					Content: engine.TextContent(m.Content),
				})
			}
		}
	}
	return exchanges
}
