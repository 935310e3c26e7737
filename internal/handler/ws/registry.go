package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is a live client connection as seen by the relay
type Conn interface {
	// Send queues a frame without blocking. It reports false if the frame was dropped.
	Send(data []byte) bool
	// Close sends a close frame with the given status and tears the connection down.
	Close(code int, reason string)
}

// PresenceRegistry maps each user to at most one live connection
type PresenceRegistry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
}

// NewPresenceRegistry creates an empty registry
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{conns: make(map[uuid.UUID]Conn)}
}

// Admit registers conn for userID. A previously registered connection is
// closed with CloseSuperseded and returned.
func (r *PresenceRegistry) Admit(userID uuid.UUID, conn Conn) Conn {
	r.mu.Lock()
	prev, ok := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if !ok || prev == conn {
		return nil
	}
	prev.Close(CloseSuperseded, CloseSupersededText)
	return prev
}

// Remove drops userID's entry and returns the connection it held, or nil
func (r *PresenceRegistry) Remove(userID uuid.UUID) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	if !ok {
		return nil
	}
	delete(r.conns, userID)
	return conn
}

// RemoveIf drops the entry only if conn is still the registered connection
func (r *PresenceRegistry) RemoveIf(userID uuid.UUID, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[userID]; ok && current == conn {
		delete(r.conns, userID)
		return true
	}
	return false
}

// IsConnected reports whether userID has a live connection
func (r *PresenceRegistry) IsConnected(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Send delivers data to userID. It reports false when the user is not
// connected or the frame was dropped.
func (r *PresenceRegistry) Send(userID uuid.UUID, data []byte) bool {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return conn.Send(data)
}

// Broadcast delivers data to every live connection and returns how many frames were dropped
func (r *PresenceRegistry) Broadcast(data []byte) int {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	dropped := 0
	for _, conn := range conns {
		if !conn.Send(data) {
			dropped++
		}
	}
	return dropped
}

// Users returns the IDs of every connected user
func (r *PresenceRegistry) Users() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of connected users
func (r *PresenceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
