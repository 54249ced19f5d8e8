// Package ops is the Ops Stream: a read-only WebSocket broadcast of pipeline
// lifecycle events (cycle summaries, matches, deliveries, deactivations) to
// connected operator dashboards.
package ops

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Manager tracks connected ops-stream clients and fans events out to them.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uint64]*Client
	bufferSize int
}

// NewManager creates an ops-stream Manager.
func NewManager(bufferSize int) *Manager {
	return &Manager{
		clients:    make(map[uint64]*Client),
		bufferSize: bufferSize,
	}
}

// Register adds a newly-upgraded connection and returns its Client.
func (m *Manager) Register(conn *websocket.Conn) *Client {
	c := NewClient(conn, m.bufferSize)

	m.mu.Lock()
	m.clients[c.ID] = c
	m.mu.Unlock()

	log.Printf("ops stream: client %d connected (%s)", c.ID, conn.RemoteAddr())
	return c
}

// Unregister removes a client.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	delete(m.clients, c.ID)
	m.mu.Unlock()

	c.Close()
	log.Printf("ops stream: client %d disconnected", c.ID)
}

// Publish implements delivery.EventPublisher and orchestrator.EventPublisher:
// it fans event out to every connected client, best-effort. A full client
// buffer drops the event for that client only; Publish never blocks.
func (m *Manager) Publish(event any) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.clients) == 0 {
		return
	}
	for _, c := range m.clients {
		c.SendEvent(event)
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
