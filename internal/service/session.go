package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deskd/deskd/internal/domain"
)

// CreateSession creates a new session and provisions its sandbox
// environment synchronously. Sandbox provisioning never fails the call: on
// backend trouble the session is bound to the shared fallback environment.
func (s *Service) CreateSession(ctx context.Context, title string, metadata map[string]interface{}) (*domain.Session, error) {
	sb := s.sandboxes.Provision(ctx)

	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	if sb.InstanceID != "" {
		metadata[domain.MetaSandboxInstanceID] = sb.InstanceID
	} else {
		metadata[domain.MetaSandboxInstanceID] = nil
	}
	metadata[domain.MetaDisplayPort] = sb.DisplayPort
	metadata[domain.MetaControlPort] = sb.ControlPort

	now := time.Now().UTC()
	session := &domain.Session{
		SessionID: "sess_" + uuid.New().String(),
		Title:     title,
		Status:    domain.SessionStatusActive,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		// The session record is the source of truth for sandbox ownership;
		// without it the instance would leak silently, so reclaim it now.
		s.sandboxes.Release(ctx, sb.InstanceID)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// GetSession retrieves a session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context) ([]domain.Session, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ArchiveSession releases the session's sandbox and flips its status to
// archived. The transition is one-way and idempotent; sandbox release is
// best-effort and never blocks the transition.
func (s *Service) ArchiveSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived {
		return session, nil
	}

	s.sandboxes.Release(ctx, session.SandboxInstanceID())

	session.Status = domain.SessionStatusArchived
	session.Archived = true
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to archive session: %w", err)
	}
	return session, nil
}
