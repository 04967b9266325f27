package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/middleware"
	"github.com/nfrund/peerchat/internal/session"
)

// DefaultSendBuffer is the per-connection outbound frame queue.
const DefaultSendBuffer = 256

// Endpoint serves the chat socket. Every accepted connection runs its own
// session.Session attached through the hub.
type Endpoint struct {
	store       session.Store
	hub         session.Hub
	whitelist   *frameWhitelist
	sessionOpts []session.Option
	sendBuffer  int
	origins     []string
	connected   atomic.Int64
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithSessionOptions passes options to every session the endpoint creates.
func WithSessionOptions(opts ...session.Option) Option {
	return func(e *Endpoint) { e.sessionOpts = append(e.sessionOpts, opts...) }
}

// WithWhitelist replaces the accepted client frame types.
func WithWhitelist(w *frameWhitelist) Option {
	return func(e *Endpoint) { e.whitelist = w }
}

// WithSendBuffer sets the outbound queue size per connection.
func WithSendBuffer(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.sendBuffer = n
		}
	}
}

// WithOriginPatterns restricts cross-origin upgrades. Without patterns any
// origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(e *Endpoint) { e.origins = patterns }
}

// NewEndpoint builds the chat socket endpoint.
func NewEndpoint(store session.Store, hub session.Hub, opts ...Option) *Endpoint {
	e := &Endpoint{
		store:      store,
		hub:        hub,
		whitelist:  DefaultFrameWhitelist(),
		sendBuffer: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connected is the number of open chat sockets.
func (e *Endpoint) Connected() int {
	return int(e.connected.Load())
}

// Handler upgrades the request and serves it until the socket closes. It
// must sit behind middleware.Auth.
func (e *Endpoint) Handler(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, domain.ErrNotAuthenticated.Error())
	}

	opts := &websocket.AcceptOptions{OriginPatterns: e.origins}
	if len(e.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to upgrade connection to WebSocket", "error", err)
		return nil
	}

	e.serve(c.Request().Context(), conn, identity)
	return nil
}

func (e *Endpoint) serve(ctx context.Context, conn *websocket.Conn, identity domain.Identity) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := middleware.FromContext(ctx).With("component", "websocket")
	client := newClient(uuid.NewString(), identity.UserID, conn, e.sendBuffer, logger)
	sess := session.New(identity, e.store, e.hub, append(e.sessionOpts, session.WithID(client.ID))...)
	e.bind(client, sess)

	// View loads run off the read pump and must finish before detach.
	var loads sync.WaitGroup

	e.connected.Add(1)
	go client.writePump()
	defer func() {
		cancel()
		loads.Wait()
		sess.Detach(context.WithoutCancel(ctx))
		client.close()
		select {
		case <-client.done:
		case <-time.After(writeTimeout):
		}
		e.connected.Add(-1)
		client.logger.Info("Chat socket closed")
	}()

	if _, err := sess.Attach(ctx); err != nil {
		client.logger.Warn("Attach failed", "error", err)
		e.sendError(client, "", err)
		return
	}
	client.logger.Info("Chat socket attached", "session_id", sess.ID())

	client.readPump(ctx, func(data []byte) {
		e.dispatch(ctx, client, sess, data, &loads)
	})
}

// bind forwards session events to the socket.
func (e *Endpoint) bind(client *Client, sess *session.Session) {
	push := func(frameType string, payload any) {
		frame, err := Encode(frameType, payload)
		if err != nil {
			client.logger.Error("Failed to encode frame", "type", frameType, "error", err)
			return
		}
		client.Enqueue(frame)
	}

	client.onRecover = sess.Resync

	sess.OnStatus(func(st domain.ConnectionStatus) {
		push(FrameStatus, StatusPayload{Status: st, SessionID: sess.ID(), UserID: sess.UserID()})
	})
	sess.OnBackfill(func(view domain.View, msgs []domain.Message) {
		if msgs == nil {
			msgs = []domain.Message{}
		}
		push(FrameBackfill, BackfillPayload{View: view.String(), PeerID: view.PeerID(), Messages: msgs})
	})
	sess.OnMessage(func(m domain.Message) { push(FrameMessage, m) })
	sess.OnNotification(func(n domain.Notification) { push(FrameNotification, n) })
	sess.OnPresenceSync(func(snap domain.PresenceSnapshot) { push(FramePresence, snap) })
}

// dispatch handles one client frame. set_view is loaded in its own goroutine
// so heartbeats and sends are not held up behind a slow backfill; a newer
// set_view supersedes an older one still loading.
func (e *Endpoint) dispatch(ctx context.Context, client *Client, sess *session.Session, data []byte, loads *sync.WaitGroup) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		e.sendError(client, "", domain.Invalid("malformed frame: %v", err))
		return
	}
	if !e.whitelist.IsAllowed(f.Type) {
		client.logger.Debug("Rejected frame", "type", f.Type)
		e.send(client, ErrorPayload{Code: CodeUnsupported, Message: "unsupported frame type", Frame: f.Type})
		return
	}

	var err error
	switch f.Type {
	case FrameSetView:
		var load func(context.Context) error
		if load, err = sess.SwitchView(ViewFrom(f.PeerID)); err != nil {
			break
		}
		loads.Add(1)
		go func() {
			defer loads.Done()
			if err := load(ctx); err != nil && ctx.Err() == nil {
				e.sendError(client, f.Type, err)
			}
		}()
	case FrameSend:
		_, err = sess.Send(ctx, f.Content)
	case FrameHeartbeat:
		err = sess.Heartbeat(ctx)
	case FrameSync:
		err = sess.RequestSync(ctx)
	default:
		err = errors.New("no handler for frame")
	}
	if err != nil {
		e.sendError(client, f.Type, err)
	}
}

func (e *Endpoint) sendError(client *Client, frameType string, err error) {
	p := ErrorPayload{Code: errorCode(err), Message: err.Error(), Frame: frameType}
	var se *session.SendError
	if errors.As(err, &se) {
		p.Input = se.Input
		p.To = se.To.PeerID()
	}
	e.send(client, p)
}

func (e *Endpoint) send(client *Client, p ErrorPayload) {
	frame, err := Encode(FrameError, p)
	if err != nil {
		slog.Error("Failed to encode error frame", "error", err)
		return
	}
	client.Enqueue(frame)
}
