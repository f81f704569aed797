// Package ws carries chat events over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/wayfare/internal/chat"
	"github.com/PaulBabatuyi/wayfare/internal/metrics"
	"github.com/PaulBabatuyi/wayfare/internal/middleware"
)

const (
	// writeWait is the deadline for a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long the peer may stay silent before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8192

	// sendBufferSize bounds the events queued for a slow reader. A full buffer
	// drops the connection.
	sendBufferSize = 256
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("send buffer full")
)

// Client is one WebSocket connection of an authenticated user. It satisfies
// chat.Sender.
type Client struct {
	conn   *websocket.Conn
	userID string
	log    zerolog.Logger

	mu     sync.Mutex // guards send and closed
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, userID string, log zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		userID: userID,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Send queues ev for the write pump. It never blocks.
func (c *Client) Send(ev chat.Outbound) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn().Str("user_id", c.userID).Msg("send buffer full, dropping connection")
		c.closeLocked()
		return ErrSlowConsumer
	}
}

// Close stops the write pump, which closes the socket and ends the read pump.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump decodes frames and hands them to the coordinator one at a time. It
// returns when the socket fails or the user logs out, and disconnects the
// session on the way out.
func (c *Client) readPump(ctx context.Context, coord *chat.Coordinator, limiter *middleware.LimiterStore, m *metrics.Metrics) {
	session := chat.Session{UserID: c.userID, Conn: c}
	defer func() {
		coord.Disconnect(ctx, session)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Str("user_id", c.userID).Msg("unexpected close")
			}
			return
		}

		if limiter != nil && !limiter.Allow(c.userID) {
			m.Throttled()
			_ = c.Send(chat.Outbound{Event: chat.EventError, Data: chat.ErrorPayload{Error: "rate limit exceeded"}})
			continue
		}

		ev, err := chat.Decode(raw)
		if err != nil {
			_ = c.Send(chat.Outbound{Event: chat.EventError, Data: chat.ErrorPayload{Error: err.Error()}})
			continue
		}

		if err := coord.Handle(ctx, session, ev); errors.Is(err, chat.ErrLoggedOut) {
			return
		}
	}
}

// writePump drains the send buffer onto the socket and keeps the peer alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
