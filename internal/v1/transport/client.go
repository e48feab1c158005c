package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gambitlive/backend/internal/v1/logging"
	"github.com/gambitlive/backend/internal/v1/types"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second
	// pongWait is how long a silent peer stays alive.
	pongWait = 60 * time.Second
	// pingPeriod is the heartbeat interval. Must be under pongWait.
	pingPeriod = 30 * time.Second
	// sendBuffer is the per-client outbound queue depth.
	sendBuffer = 256
)

// wsConnection defines the WebSocket operations the client layer needs,
// so tests can substitute a fake connection.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

// Client is one authenticated socket. Outbound messages are queued on a
// buffered channel drained by writePump; a full queue drops the message
// rather than blocking the sender.
type Client struct {
	conn        wsConnection
	registry    *Registry
	UserID      types.UserID
	DisplayName string

	mu        sync.Mutex
	closed    bool
	closeCode int

	send chan []byte
}

func newClient(conn wsConnection, registry *Registry, userID types.UserID, displayName string) *Client {
	return &Client{
		conn:        conn,
		registry:    registry,
		UserID:      userID,
		DisplayName: displayName,
		send:        make(chan []byte, sendBuffer),
	}
}

// Send queues one server message. Messages to a closed or saturated client
// are dropped.
func (c *Client) Send(msg types.ServerMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal server message",
			zap.String("type", msg.Type), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "recovered sending to closing client",
				zap.String("user_id", string(c.UserID)))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "client send buffer full, dropping message",
			zap.String("user_id", string(c.UserID)),
			zap.String("type", msg.Type))
	}
}

// CloseWithCode marks the client closed and records the close code the
// writePump will emit after draining.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeCode = code
	c.mu.Unlock()

	if reason != "" {
		logging.Info(context.Background(), "closing client socket",
			zap.String("user_id", string(c.UserID)),
			zap.Int("code", code),
			zap.String("reason", reason))
	}
	close(c.send)
}

// Disconnect closes the socket with a normal close code.
func (c *Client) Disconnect() {
	c.CloseWithCode(types.CloseNormal, "")
}

// readPump reads frames off the wire and hands them to the dispatcher. It
// owns the read side: deadlines, pong handling, and disconnect cleanup.
func (c *Client) readPump(dispatch func(ctx context.Context, client *Client, data []byte)) {
	defer func() {
		c.registry.unregister(c)
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		dispatch(context.Background(), c, data)
	}
}

// writePump drains the send queue and emits heartbeats. It exits when the
// queue is closed, sending the recorded close code first.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.mu.Lock()
				code := c.closeCode
				c.mu.Unlock()
				if code == 0 {
					code = types.CloseNormal
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Error(context.Background(), "error writing message",
					zap.String("user_id", string(c.UserID)), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
