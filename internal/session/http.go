package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The broadcaster and viewer UIs are served from a different origin
	// than the relay in most deployments; origin checking is handled by
	// an upstream reverse proxy / CORS layer, matching the teacher's
	// gin-contrib/cors placement in front of the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a WebSocket connection and runs its
// read/write pumps until the client disconnects, dispatching every
// envelope to the Manager.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.New().String()
	conn := newConnection(connID, ws, m.logger)

	go conn.writePump()

	ctx := r.Context()
	conn.readPump(func(env Envelope) {
		m.Dispatch(ctx, conn, env)
	})

	m.Disconnect(connID)
}
