package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Connection wraps one broadcaster/viewer WebSocket, following the
// readPump/writePump idiom used throughout the pack's gorilla/websocket
// consumers (grounded on the kanavdhanda-RTSP-Stream client type).
type Connection struct {
	id     string
	ws     *websocket.Conn
	send   chan Envelope
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func newConnection(id string, ws *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		id:     id,
		ws:     ws,
		send:   make(chan Envelope, 64),
		logger: logger.With().Str("conn_id", id).Logger(),
	}
}

// Send enqueues an envelope for delivery without blocking; when the send
// buffer is full the envelope is dropped and the connection stays open.
func (c *Connection) Send(env Envelope) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- env:
	default:
		c.logger.Warn().Msg("connection send buffer full, dropping event")
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	c.ws.Close()
}

// readPump pumps inbound envelopes to handle until the connection closes.
func (c *Connection) readPump(handle func(Envelope)) {
	defer c.close()

	c.ws.SetReadLimit(32 * 1024 * 1024) // allow large stream-data frames
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn().Err(err).Msg("malformed inbound message, dropping")
			continue
		}
		handle(env)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
