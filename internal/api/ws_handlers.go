package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/clinichain/clinichain/internal/runs"
)

// WSHandlers streams completed verification runs to dashboard clients.
type WSHandlers struct {
	broadcaster *runs.Broadcaster
	upgrader    websocket.Upgrader
}

// NewWSHandlers creates a new WSHandlers instance. checkOrigin may be nil
// to use the default same-origin policy.
func NewWSHandlers(broadcaster *runs.Broadcaster, checkOrigin func(*http.Request) bool) *WSHandlers {
	return &WSHandlers{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Runs handles GET /v1/runs/ws. The connection is push-only: incoming
// messages are drained and discarded until the client disconnects.
func (h *WSHandlers) Runs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn)
	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
