// Package hub provides per-session fan-out of live events to observers.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/deskd/deskd/internal/domain"
)

// Observer is a live connection subscribed to a session's event stream.
// Send must not block indefinitely; transports are expected to buffer.
type Observer interface {
	Send(data []byte) error
}

// Hub maintains the set of observers per session and delivers published
// events to all of them. There is no replay buffer: an observer only sees
// events published while it is subscribed.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[Observer]struct{}
}

// New creates a new Hub.
func New() *Hub {
	return &Hub{
		sessions: make(map[string]map[Observer]struct{}),
	}
}

// Subscribe registers an observer for a session.
func (h *Hub) Subscribe(sessionID string, obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[Observer]struct{})
	}
	h.sessions[sessionID][obs] = struct{}{}
}

// Unsubscribe removes an observer from a session. Removing an observer that
// was never subscribed, or removing it twice, is a no-op. When a session's
// observer set becomes empty its entry is dropped entirely.
func (h *Hub) Unsubscribe(sessionID string, obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	observers, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(observers, obs)
	if len(observers) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Publish delivers an event to every observer currently subscribed to the
// session, best-effort. The observer set is snapshotted before delivery so
// concurrent subscribe/unsubscribe calls never corrupt an in-flight
// broadcast. An observer whose Send fails is automatically unsubscribed;
// the failure does not affect delivery to the others.
func (h *Hub) Publish(sessionID string, event domain.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: failed to marshal %s event for session %s: %v", event.Type, sessionID, err)
		return
	}

	h.mu.RLock()
	observers := make([]Observer, 0, len(h.sessions[sessionID]))
	for obs := range h.sessions[sessionID] {
		observers = append(observers, obs)
	}
	h.mu.RUnlock()

	for _, obs := range observers {
		if err := obs.Send(data); err != nil {
			log.Printf("WARN: dropping observer of session %s: %v", sessionID, err)
			h.Unsubscribe(sessionID, obs)
		}
	}
}

// HasObservers reports whether a session has any subscribed observers.
func (h *Hub) HasObservers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// ObserverCount returns the number of observers subscribed to a session.
func (h *Hub) ObserverCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// SessionCount returns the number of sessions with at least one observer.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
