// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/deskd/deskd/internal/domain"
)

// Store defines the interface for data persistence. Every call is a single
// atomic operation; there are no cross-call transactions.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	UpdateSession(ctx context.Context, session *domain.Session) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Lifecycle
	Close() error
}
