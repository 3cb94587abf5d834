// Package ws maintains the live websocket connections, keyed by user so an
// event can be delivered to every open client of a participant.
package ws

import (
	"sync"

	"github.com/gofiber/websocket/v2"
)

type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, conn: conn, send: make(chan []byte, 16)}
}

// Push queues a payload without blocking; a slow client drops rather than
// stalling the sender. Returns false when dropped or closed.
func (c *Client) Push(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// WritePump drains the send queue onto the connection. Runs until Close.
func (c *Client) WritePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks connected clients per user. A user may hold several connections
// (multiple tabs/devices); all of them receive each event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.UserID]; !ok {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
}

// Emit pushes a payload to every connection of userID, returning how many
// accepted it.
func (h *Hub) Emit(userID string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients[userID] {
		if c.Push(payload) {
			n++
		}
	}
	return n
}
