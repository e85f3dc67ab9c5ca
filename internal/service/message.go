package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deskd/deskd/internal/domain"
)

// SubmitUserMessage persists a user message, broadcasts its arrival, and
// launches one agent turn as an independent background unit of work. The
// call returns as soon as the message is durable; it does not wait for the
// turn to finish, and holds no handle to cancel or join it.
func (s *Service) SubmitUserMessage(ctx context.Context, sessionID, content string) (*domain.Message, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	message := &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: session.SessionID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	s.emit(session.SessionID, domain.StreamEvent{
		Type: domain.EventTypeUserMessage,
		At:   message.CreatedAt,
		Message: map[string]interface{}{
			"id":      message.MessageID,
			"content": message.Content,
		},
	})

	go s.runTurn(session.SessionID)

	return message, nil
}

// GetMessages returns a session's full message history in order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}
