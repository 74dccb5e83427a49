package websocket

import (
	"sync"

	"go.uber.org/zap"

	"github.com/mi6Fsoc/reroom-prototype/utils/log"
)

// Hub tracks connected clients by session. A session may have several
// clients, e.g. two browser tabs.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]bool
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	go h.run()
}

// Stop ends the hub loop and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.sessionID]; ok && set[client] {
				delete(set, client)
				if len(set) == 0 {
					delete(h.clients, client.sessionID)
				}
			}
			h.mu.Unlock()
			client.Close()
			log.WithCtx(client.ctx).Debug("Client unregistered")

		case <-h.done:
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					client.Close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Register adds client before returning, so events sent afterwards reach it.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		client.Close()
		return
	default:
	}

	if h.clients[client.sessionID] == nil {
		h.clients[client.sessionID] = make(map[*Client]bool)
	}
	h.clients[client.sessionID][client] = true
	log.WithCtx(client.ctx).Debug("New client registered")
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendToSession delivers message to every client of sessionID and reports
// how many received it.
func (h *Hub) SendToSession(sessionID string, message []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[sessionID]))
	for client := range h.clients[sessionID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range targets {
		if client.IsClosed() {
			continue
		}
		if err := client.SendMessage(message); err != nil {
			log.WithCtx(client.ctx).Warn("Dropping event for slow client", zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	sessions := make([]string, 0, len(h.clients))
	for id := range h.clients {
		sessions = append(sessions, id)
	}
	h.mu.RUnlock()

	for _, id := range sessions {
		h.SendToSession(id, message)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
