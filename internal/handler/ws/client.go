package ws

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carelink-backend/internal/domain"
	"carelink-backend/pkg/constants"
	"carelink-backend/pkg/logger"
)

// Client is a gorilla websocket connection attached to the relay
type Client struct {
	hub  *RelayHub
	conn *websocket.Conn
	user *domain.User
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *RelayHub, conn *websocket.Conn, user *domain.User) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		user: user,
		send: make(chan []byte, constants.WebSocketSendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues data for the write pump. A full buffer drops the frame.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		logger.Debug("Dropping frame for slow client", zap.String("user_id", c.user.UserID.String()))
		return false
	}
}

// Close writes a close frame and shuts the connection. Later calls do nothing.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(constants.WebSocketCloseGrace)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads frames until the connection fails or is closed
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		c.hub.Heartbeat(ctx, c.user.UserID)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, CloseSuperseded) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.user.UserID.String()),
					zap.Error(err))
			}
			return
		}

		c.hub.HandleMessage(ctx, c.user, c, message)
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
		case <-c.done:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := writeFrame(c.conn, message); err != nil {
				logger.Debug("WebSocket write failed",
					zap.String("user_id", c.user.UserID.String()),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type frameWriter interface {
	NextWriter(messageType int) (io.WriteCloser, error)
}

// writeFrame writes message as a single text frame
func writeFrame(conn frameWriter, message []byte) error {
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(message); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
