package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Client is one accepted chat socket.
type Client struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	lagged    atomic.Bool
	onRecover func()
	done      chan struct{}
}

func newClient(id, userID string, conn *websocket.Conn, buffer int, logger *slog.Logger) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		conn:   conn,
		logger: logger.With("client_id", id, "user_id", userID),
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Enqueue hands a frame to the write pump. A full buffer drops the frame
// and marks the client lagged; the recover hook runs once the pump has
// caught up. It reports whether the frame was queued.
func (c *Client) Enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.lagged.Store(true)
		c.logger.Warn("Client send channel full, dropping frame")
		return false
	}
}

// close stops accepting frames. The write pump flushes what is queued.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump feeds decoded frames to dispatch until the socket closes.
func (c *Client) readPump(ctx context.Context, dispatch func([]byte)) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.Info("WebSocket closed normally by client")
			case errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			default:
				c.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		dispatch(data)
	}
}

// writePump drains the send channel onto the socket and closes the socket
// once the channel is closed.
func (c *Client) writePump() {
	defer close(c.done)
	defer c.conn.Close(websocket.StatusNormalClosure, "session closed")

	for frame := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			c.discard()
			return
		}
		if len(c.send) == 0 && c.lagged.CompareAndSwap(true, false) && c.onRecover != nil {
			c.onRecover()
		}
	}
}

// discard empties the channel after a write failure so Enqueue never blocks.
func (c *Client) discard() {
	go func() {
		for range c.send {
		}
	}()
}
