package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pulse-backend/pkg/constants"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// Client is one WebSocket connection of an authenticated user
type Client struct {
	id       string
	username string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	// guarded by Hub.mu
	rooms map[string]struct{}
}

func newClient(id, username string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:       id,
		username: username,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking. A client that
// cannot keep up loses the frame rather than stalling the sender.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		metrics.WebSocketFramesDroppedTotal.WithLabelValues("buffer_full").Inc()
		logger.Warn("Dropping frame for slow client",
			zap.String("connection_id", c.id),
			zap.String("username", c.username))
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// readPump reads frames until the connection fails, handing each to the
// handler in order. It runs the disconnect path when it returns.
func (c *Client) readPump(h *Handler) {
	defer h.disconnect(c)

	c.conn.SetReadLimit(h.cfg.MaxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
		defer cancel()
		h.presence.Refresh(ctx, c.username)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("connection_id", c.id),
					zap.String("username", c.username),
					zap.Error(err))
			}
			return
		}

		h.dispatch(c, message)
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.close()
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}
