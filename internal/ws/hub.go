// Package ws pushes analytics cycles to websocket subscribers grouped by
// underlying symbol.
package ws

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Hub manages WebSocket connections and group subscriptions.
type Hub struct {
	name       string
	allowed    map[string]bool
	encoder    *Encoder
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// HubStats is a snapshot of hub occupancy.
type HubStats struct {
	Clients int            `json:"clients"`
	Groups  map[string]int `json:"groups"`
}

// NewHub creates a new Hub. Subscriptions are limited to the allowed
// underlyings; an empty list allows any well-formed symbol.
func NewHub(name string, allowed []string, encoder *Encoder, logger *zap.Logger) *Hub {
	set := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		set[strings.ToUpper(s)] = true
	}
	return &Hub{
		name:       name,
		allowed:    set,
		encoder:    encoder,
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.String("hub", h.name))
			h.shutdown()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for group := range client.groups {
					h.removeLocked(client, group)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered",
				zap.String("hub", h.name),
				zap.String("connID", client.connID),
			)
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// add registers a client. It fails once the hub has shut down.
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[client] = true
	h.logger.Debug("client registered",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.Stringer("protocol", client.protocol),
	)
	return true
}

// disconnect hands a client to Run for removal without blocking after
// shutdown.
func (h *Hub) disconnect(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// validGroup normalizes a requested underlying and reports whether it may
// be subscribed to.
func (h *Hub) validGroup(group string) (string, bool) {
	g := strings.ToUpper(strings.TrimSpace(group))
	if g == "" || len(g) > 16 {
		return "", false
	}
	for _, r := range g {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' && r != '$' {
			return "", false
		}
	}
	if len(h.allowed) > 0 && !h.allowed[g] {
		return "", false
	}
	return g, true
}

// JoinGroup adds a client to a group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client, group)
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("hub", h.name),
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

func (h *Hub) removeLocked(client *Client, group string) {
	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
}

// Stats returns the connected client count and subscribers per group.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := HubStats{Clients: len(h.clients), Groups: make(map[string]int, len(h.groups))}
	for group, clients := range h.groups {
		s.Groups[group] = len(clients)
	}
	return s
}

// BroadcastFrames sends a rendered message to every client in a group,
// each in its negotiated protocol. Returns the number of clients reached.
func (h *Hub) BroadcastFrames(group string, frames Frames) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.groups[group] {
		select {
		case client.send <- frames.forProtocol(client.protocol):
			sent++
		default:
			// Buffer full, schedule disconnect
			go h.disconnect(client)
		}
	}
	return sent
}
