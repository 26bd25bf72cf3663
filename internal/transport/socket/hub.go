// Package socket implements the /socket WebSocket front end: submission
// dispatch, reverse calls, and the periodic heartbeat.
package socket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Potat-Industries/eval-server/internal/reversecall"
)

// client wraps one connection with a write mutex, since gorilla/websocket
// connections are not safe for concurrent writes.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeFrame(frame reversecall.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Hub tracks connected socket clients and broadcasts reverse-call DISPATCH
// frames to all of them, racing the first reply to win.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Broadcast sends frame to every connected client, dropping writes to dead
// connections silently; the reverse-call router races the first reply.
func (h *Hub) Broadcast(frame reversecall.Frame) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.writeFrame(frame)
	}
}

func encodeData(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
