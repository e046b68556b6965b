package runs

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster pushes completed verification runs to connected dashboard
// clients over WebSocket, so operators see a break the moment it is
// recorded rather than on the next poll.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]bool
}

// NewBroadcaster creates a new run broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{conns: make(map[*websocket.Conn]bool)}
}

// Subscribe registers a WebSocket connection.
func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = true
	b.mu.Unlock()
}

// Unsubscribe removes a WebSocket connection.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
}

// Broadcast sends a completed run to all subscribers. Connections that
// fail to write are dropped; the client reconnects.
func (b *Broadcaster) Broadcast(run *Run) {
	data, err := json.Marshal(run)
	if err != nil {
		slog.Error("failed to marshal verification run", "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send run to websocket client", "error", err)
			conn.Close()
			delete(b.conns, conn)
		}
	}
}

// ConnectionCount returns the number of active subscribers.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
