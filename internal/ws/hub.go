package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"points_service/internal/domain"
	"points_service/internal/logger"
)

// Hub tracks open feed connections per user. It doubles as the presence
// source for uptime credits: a user is online while at least one of their
// connections is registered.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	logger.Debug("feed client registered", "user_id", c.UserID)
}

// Unregister removes c and closes its send queue. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.Send)
	logger.Debug("feed client unregistered", "user_id", c.UserID)
}

// ActiveUsers lists users with at least one open connection, sorted.
func (h *Hub) ActiveUsers() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	h.mu.RUnlock()
	sort.Strings(users)
	return users
}

// PublishEvent pushes an accepted event to the owner's connections. A client
// whose queue is full is dropped rather than allowed to stall the publisher.
func (h *Hub) PublishEvent(e *domain.PointEvent) {
	msg, err := json.Marshal(PointsPayload{Type: MsgPoints, Event: e})
	if err != nil {
		logger.Error("marshal feed event", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[e.UserID] {
		select {
		case c.Send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		logger.Warn("dropping slow feed client", "user_id", c.UserID)
		h.Unregister(c)
	}
}

// sendTo queues msg for c if it is still registered. Send is only closed
// under the write lock, so holding the read lock makes the send safe.
func (h *Hub) sendTo(c *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.UserID][c]; !ok {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// CloseAll disconnects every client; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}
