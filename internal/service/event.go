package service

import (
	"context"
	"fmt"

	"github.com/deskd/deskd/internal/archive"
)

// GetEvents returns a session's archived live events in time order. When no
// archive is configured the result is empty; the absence of the archive is
// not an error.
func (s *Service) GetEvents(ctx context.Context, sessionID string, limit int64) ([]archive.ArchivedEvent, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := s.archive.List(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived events: %w", err)
	}
	return events, nil
}
