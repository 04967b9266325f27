// Package wsclient is a reconnecting client for the chat socket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/retry"
	chatws "github.com/nfrund/peerchat/internal/websocket"
)

const (
	writeWait = 10 * time.Second
	chatPath  = "/ws/chat"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("client closed")

// Client keeps one chat socket open, redialing with backoff when it drops.
// The selected view is restored after every reconnect.
type Client struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	retry  []retry.Option
	logger *slog.Logger

	frames   chan chatws.Frame
	onStatus func(domain.ConnectionStatus)

	mu     sync.Mutex
	conn   *websocket.Conn
	peerID string
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces gorilla's default dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithRetryOptions tunes the reconnect backoff.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) { c.retry = append(c.retry, opts...) }
}

// WithStatusHandler observes connection changes on the client side.
func WithStatusHandler(fn func(domain.ConnectionStatus)) Option {
	return func(c *Client) { c.onStatus = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client for serverURL (http, https, ws or wss) that
// authenticates with token.
func New(serverURL, token string, opts ...Option) (*Client, error) {
	wsURL, err := SocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c := &Client{
		url:    wsURL,
		header: header,
		dialer: websocket.DefaultDialer,
		logger: slog.Default().With("component", "wsclient"),
		frames: make(chan chatws.Frame, chatws.DefaultSendBuffer),
		retry: []retry.Option{
			retry.WithMaxRetries(8),
			retry.WithDelays(250*time.Millisecond, 15*time.Second),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SocketURL maps a server base URL to the chat socket URL.
func SocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = chatPath
	}
	return u.String(), nil
}

// Frames delivers server frames in arrival order. It is closed when Run
// returns.
func (c *Client) Frames() <-chan chatws.Frame {
	return c.frames
}

// Run connects and keeps reading until ctx is done, Close is called or the
// reconnect budget is spent.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.frames)

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			c.status(domain.StatusDisconnected)
			return err
		}
		c.status(domain.StatusConnected)

		err = c.readLoop(ctx, conn)
		if c.isClosed() || ctx.Err() != nil {
			c.status(domain.StatusDisconnected)
			return nil
		}
		c.logger.Warn("Chat socket dropped, reconnecting", "error", err)
		c.status(domain.StatusReconnecting)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	retryer := retry.NewExponentialBackoffRetryer(append([]retry.Option{
		retry.WithRetryable(func(err error) bool { return !errors.Is(err, domain.ErrNotAuthenticated) }),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			c.status(domain.StatusReconnecting)
		}),
	}, c.retry...)...)

	var conn *websocket.Conn
	err := retryer.Retry(ctx, func() error {
		var err error
		conn, err = c.dial(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	peer := c.peerID
	c.mu.Unlock()

	if peer != "" {
		if err := c.write(chatws.Frame{Type: chatws.FrameSetView, PeerID: peer}); err != nil {
			c.logger.Warn("Failed to restore view", "peer_id", peer, "error", err)
		}
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", c.url, domain.ErrNotAuthenticated)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f chatws.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("Ignoring malformed frame", "error", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetView switches the server-side view and remembers it for reconnects.
func (c *Client) SetView(peerID string) error {
	peerID = strings.TrimSpace(peerID)
	c.mu.Lock()
	c.peerID = peerID
	c.mu.Unlock()
	return c.write(chatws.Frame{Type: chatws.FrameSetView, PeerID: peerID})
}

// Send posts content to the current view.
func (c *Client) Send(content string) error {
	return c.write(chatws.Frame{Type: chatws.FrameSend, Content: content})
}

// Sync asks the server for a fresh presence snapshot.
func (c *Client) Sync() error {
	return c.write(chatws.Frame{Type: chatws.FrameSync})
}

// Heartbeat refreshes presence immediately.
func (c *Client) Heartbeat() error {
	return c.write(chatws.Frame{Type: chatws.FrameHeartbeat})
}

func (c *Client) write(f chatws.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return domain.ErrNotAttached
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

// Close sends a close frame and stops Run.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) status(st domain.ConnectionStatus) {
	if c.onStatus != nil {
		c.onStatus(st)
	}
}
