// Package sandbox manages per-session isolated desktop execution environments.
package sandbox

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/deskd/deskd/internal/domain"
)

// Instance describes a running sandbox started by a Backend.
type Instance struct {
	ID          string
	DisplayPort int
	ControlPort int
}

// Backend starts and stops sandbox instances. It may be entirely unavailable,
// in which case the Manager is constructed with a nil backend.
type Backend interface {
	Start(ctx context.Context, name string) (*Instance, error)
	StopAndRemove(ctx context.Context, instanceID string) error
}

// Manager provisions and releases sandbox environments. Provisioning never
// fails from the caller's perspective: any backend error degrades to a
// shared fallback descriptor, trading strict resource accounting for
// availability.
type Manager struct {
	backend  Backend
	fallback domain.Sandbox
}

// NewManager creates a Manager. backend may be nil when the provisioning
// backend is unavailable; every Provision call then yields the fallback.
func NewManager(backend Backend, fallbackDisplayPort, fallbackControlPort int) *Manager {
	return &Manager{
		backend: backend,
		fallback: domain.Sandbox{
			DisplayPort: fallbackDisplayPort,
			ControlPort: fallbackControlPort,
		},
	}
}

// Provision starts a fresh sandbox instance and returns its connection
// descriptor. On any backend failure it returns the fallback descriptor with
// an empty InstanceID, signaling that the environment is not individually
// owned.
func (m *Manager) Provision(ctx context.Context) domain.Sandbox {
	if m.backend == nil {
		return m.fallback
	}

	name := "vm-session-" + uuid.New().String()[:8]
	inst, err := m.backend.Start(ctx, name)
	if err != nil {
		log.Printf("WARN: sandbox provisioning failed, using fallback: %v", err)
		return m.fallback
	}

	return domain.Sandbox{
		InstanceID:  inst.ID,
		DisplayPort: inst.DisplayPort,
		ControlPort: inst.ControlPort,
	}
}

// Release stops and removes a sandbox instance, best-effort. Failures are
// swallowed: release happens during session archival and must never block
// that transition. An empty instanceID (shared fallback) is a no-op.
func (m *Manager) Release(ctx context.Context, instanceID string) {
	if m.backend == nil || instanceID == "" {
		return
	}
	if err := m.backend.StopAndRemove(ctx, instanceID); err != nil {
		log.Printf("WARN: failed to release sandbox %s: %v", instanceID, err)
	}
}
