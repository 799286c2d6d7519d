package hub

import (
	"sync"
)

// Hub owns the session-scoped groups. A client only receives broadcasts for
// sessions it explicitly joined; there is no implicit membership. Join and
// Leave are idempotent.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Join(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groups[sessionID]
	if g == nil {
		g = make(map[*Client]struct{})
		h.groups[sessionID] = g
	}
	g[c] = struct{}{}
}

func (h *Hub) Leave(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sessionID, c)
}

// Drop removes a disconnected client from every group it joined.
func (h *Hub) Drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range h.groups {
		h.remove(sessionID, c)
	}
}

func (h *Hub) remove(sessionID string, c *Client) {
	g := h.groups[sessionID]
	if g == nil {
		return
	}
	delete(g, c)
	if len(g) == 0 {
		delete(h.groups, sessionID)
	}
}

// Broadcast delivers a frame to every member of the session's group,
// including the client that caused it. A member whose send buffer is full is
// evicted and closed, so one stuck connection cannot stall the group.
func (h *Hub) Broadcast(sessionID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[sessionID] {
		select {
		case c.send <- frame:
		default:
			h.remove(sessionID, c)
			c.close()
		}
	}
}

// CloseSession sends a final frame to the group, then evicts and closes
// every member. Used when a session is deleted.
func (h *Hub) CloseSession(sessionID string, frame []byte) {
	h.mu.Lock()
	members := h.groups[sessionID]
	delete(h.groups, sessionID)
	h.mu.Unlock()

	for c := range members {
		select {
		case c.send <- frame:
		default:
		}
		c.close()
	}
}

// Members reports the group size for a session.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionID])
}
