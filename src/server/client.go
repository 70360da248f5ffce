package server

import (
	"encoding/json"
	"time"

	"vote-spin/src/helpers"
	"vote-spin/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	maxMessageSize = 4096
)

// wsFrame is the JSON text frame sent to WebSocket subscribers.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	server   *HTTPServer
	sub      *Subscriber
	conn     *websocket.Conn
	pongWait time.Duration
}

// -----------------------------------------------------------------------------
// readPump - only watches the connection; clients have nothing to say
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.server.Hub.Unregister(c.sub)
		c.conn.Close()
		c.server.Logger.Debug("WebSocket subscriber %s disconnected", c.sub.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.Logger.Info("WebSocket error: %v", err)
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------
// writePump - sends the initial snapshot, then whatever the hub delivers
// -----------------------------------------------------------------------------

func (c *Client) writePump(initial models.MLiveMessage) {
	defer func() {
		c.server.Hub.Unregister(c.sub)
		c.conn.Close()
	}()

	c.sub.Accept(initial)
	if err := c.write(initial); err != nil {
		c.server.Logger.Debug("%v", helpers.NewSubscriberWriteError(c.sub.ID, err))
		return
	}

	for msg := range c.sub.Messages() {
		if !c.sub.Accept(msg) {
			continue
		}
		if err := c.write(msg); err != nil {
			c.server.Logger.Debug("%v", helpers.NewSubscriberWriteError(c.sub.ID, err))
			return
		}
	}

	// Hub closed the channel
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// -----------------------------------------------------------------------------

func (c *Client) write(msg models.MLiveMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if msg.Heartbeat {
		return c.conn.WriteMessage(websocket.PingMessage, nil)
	}
	return c.conn.WriteJSON(wsFrame{Event: msg.Event, Data: msg.Data})
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

func (s *HTTPServer) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	sub := s.Hub.NewSubscriber("ws")
	if !s.Hub.Register(sub) {
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		return
	}

	initial, err := s.initialMessage(c)
	if err != nil {
		s.Logger.Warning("Closing WebSocket subscriber %s: %v", sub.ID, err)
		s.Hub.Unregister(sub)
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot unavailable")
		return
	}

	client := &Client{
		server:   s,
		sub:      sub,
		conn:     conn,
		pongWait: 2*s.Hub.HeartbeatInterval() + writeWait,
	}

	// Start goroutines for reading/writing
	go client.writePump(initial)
	go client.readPump()
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) initialMessage(c *gin.Context) (models.MLiveMessage, error) {
	snap, err := s.Service.Snapshot(c.Request.Context())
	if err != nil {
		return models.MLiveMessage{}, err
	}
	return snapshotMessage(snap)
}

// -----------------------------------------------------------------------------

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}
