package ws

import (
	"sync"
)

// Hub tracks the active feed sessions.
type Hub struct {
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub() *Hub {
	return &Hub{}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// Broadcast queues payload on every session and reports how many accepted it.
func (h *Hub) Broadcast(payload []byte) int {
	delivered := 0
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok && session.Enqueue(payload) {
			delivered++
		}
		return true
	})
	return delivered
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of active websocket sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
