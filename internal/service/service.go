// Package service implements session orchestration: session lifecycle,
// message submission, and turn execution against the reasoning engine.
package service

import (
	"context"
	"errors"

	"github.com/deskd/deskd/internal/archive"
	"github.com/deskd/deskd/internal/config"
	"github.com/deskd/deskd/internal/domain"
	"github.com/deskd/deskd/internal/engine"
	"github.com/deskd/deskd/internal/hub"
	"github.com/deskd/deskd/internal/sandbox"
	"github.com/deskd/deskd/internal/store"
)

// ErrSessionNotFound is returned when a referenced session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Service coordinates the store, hub, sandbox manager, event archive and
// reasoning engine. It is instantiated once at process start and handed by
// reference to the transport layer.
type Service struct {
	store     store.Store
	hub       *hub.Hub
	sandboxes *sandbox.Manager
	runner    engine.Runner
	archive   *archive.Store
	config    *config.Config
}

// New creates a new Service.
func New(st store.Store, h *hub.Hub, sandboxes *sandbox.Manager, runner engine.Runner, arch *archive.Store, cfg *config.Config) *Service {
	return &Service{
		store:     st,
		hub:       h,
		sandboxes: sandboxes,
		runner:    runner,
		archive:   arch,
		config:    cfg,
	}
}

// Subscribe registers an observer for a session's live event stream.
func (s *Service) Subscribe(sessionID string, obs hub.Observer) {
	s.hub.Subscribe(sessionID, obs)
}

// Unsubscribe removes an observer; safe to call after the observer is gone.
func (s *Service) Unsubscribe(sessionID string, obs hub.Observer) {
	s.hub.Unsubscribe(sessionID, obs)
}

// emit publishes an event to the session's observers and mirrors it into
// the archive when one is configured.
func (s *Service) emit(sessionID string, event domain.StreamEvent) {
	s.hub.Publish(sessionID, event)
	s.archive.Append(context.Background(), sessionID, event)
}
