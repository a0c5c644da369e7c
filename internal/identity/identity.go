// Package identity holds the agent's current identity token. It is
// shared read-only across the Responder and Session Supervisor; readers
// never block each other, and only the owning subsystem writes (the agent
// entrypoint, which sets the --agent-id token at startup).
package identity

import (
	"sync"

	"github.com/google/uuid"
)

// Holder guards an identity token behind a reader-writer lock.
type Holder struct {
	mu    sync.RWMutex
	token string
}

// New creates a Holder seeded with a freshly generated token, used when
// the control plane has not yet assigned the agent a durable identity.
func New() *Holder {
	return &Holder{token: uuid.New().String()}
}

// Get returns the current identity token.
func (h *Holder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// Set replaces the identity token.
func (h *Holder) Set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}
