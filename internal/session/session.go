// Package session implements the per-client view of the chat: one
// attachment to the router, the conversation currently open, its message
// cache, the latest presence snapshot and the connection status.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/metrics"
	"github.com/nfrund/peerchat/internal/retry"
)

// MaxCachedMessages bounds the in-memory message cache of one session.
const MaxCachedMessages = 1000

// Config holds the timing knobs of a session.
type Config struct {
	HeartbeatInterval time.Duration
	FetchTimeout      time.Duration
	// DesyncWindow is how long after attach a presence snapshot must arrive
	// before the session asks for one.
	DesyncWindow     time.Duration
	AttachMaxRetries int
	AttachBaseDelay  time.Duration
	AttachMaxDelay   time.Duration
}

// DefaultConfig returns the values used when no config is supplied.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		FetchTimeout:      5 * time.Second,
		DesyncWindow:      10 * time.Second,
		AttachMaxRetries:  5,
		AttachBaseDelay:   200 * time.Millisecond,
		AttachMaxDelay:    10 * time.Second,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces the session timings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		def := s.cfg
		if cfg.HeartbeatInterval > 0 {
			def.HeartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.FetchTimeout > 0 {
			def.FetchTimeout = cfg.FetchTimeout
		}
		if cfg.DesyncWindow > 0 {
			def.DesyncWindow = cfg.DesyncWindow
		}
		if cfg.AttachMaxRetries > 0 {
			def.AttachMaxRetries = cfg.AttachMaxRetries
		}
		if cfg.AttachBaseDelay > 0 {
			def.AttachBaseDelay = cfg.AttachBaseDelay
		}
		if cfg.AttachMaxDelay > 0 {
			def.AttachMaxDelay = cfg.AttachMaxDelay
		}
		s.cfg = def
	}
}

// WithRetryOptions adds options to the attach retryer, after the ones
// derived from Config.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Session) { s.retryOpts = append(s.retryOpts, opts...) }
}

// WithID sets the session id. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Session is one client's attachment to the chat.
type Session struct {
	id        string
	identity  domain.Identity
	store     Store
	hub       Hub
	cfg       Config
	retryOpts []retry.Option
	logger    *slog.Logger

	view atomic.Pointer[domain.View]

	// attachMu serializes Attach and Detach.
	attachMu sync.Mutex

	mu             sync.Mutex
	status         domain.ConnectionStatus
	attachment     Attachment
	lifetime       context.Context
	cancel         context.CancelFunc
	attachedAt     time.Time
	generation     uint64
	backfilling    bool
	pending        []domain.Message
	messages       []domain.Message
	presence       domain.PresenceSnapshot
	presenceSeen   bool
	lastPresenceAt time.Time

	cbMu           sync.RWMutex
	onMessage      func(domain.Message)
	onBackfill     func(domain.View, []domain.Message)
	onNotification func(domain.Notification)
	onPresence     func(domain.PresenceSnapshot)
	onStatus       func(domain.ConnectionStatus)
}

// New creates a detached session for identity, looking at the global room.
func New(identity domain.Identity, store Store, hub Hub, opts ...Option) *Session {
	identity = identity.Normalize()
	s := &Session{
		id:       uuid.NewString(),
		identity: identity,
		store:    store,
		hub:      hub,
		cfg:      DefaultConfig(),
		status:   domain.StatusDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	global := domain.Global()
	s.view.Store(&global)
	s.logger = slog.Default().With("component", "session", "session_id", s.id, "user_id", identity.UserID)
	return s
}

// ID identifies this session on the router and in presence.
func (s *Session) ID() string { return s.id }

// UserID is the authenticated user of the session.
func (s *Session) UserID() string { return s.identity.UserID }

// Identity returns the normalized identity the session was created with.
func (s *Session) Identity() domain.Identity { return s.identity }

// CurrentView is read by the router for every delivery.
func (s *Session) CurrentView() domain.View { return *s.view.Load() }

// View is the conversation currently open.
func (s *Session) View() domain.View { return s.CurrentView() }

// Status returns the connection status.
func (s *Session) Status() domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Messages returns a copy of the cached messages of the current view.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Presence returns the latest presence snapshot received.
func (s *Session) Presence() domain.PresenceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.presence
	snap.Entries = append([]domain.PresenceEntry(nil), snap.Entries...)
	return snap
}

// OnMessage is called for every live message shown in the current view.
func (s *Session) OnMessage(fn func(domain.Message)) {
	s.cbMu.Lock()
	s.onMessage = fn
	s.cbMu.Unlock()
}

// OnBackfill is called with the full cache after each successful view load.
func (s *Session) OnBackfill(fn func(domain.View, []domain.Message)) {
	s.cbMu.Lock()
	s.onBackfill = fn
	s.cbMu.Unlock()
}

// OnNotification is called for messages from others addressed to this user
// or broadcast, whatever the current view.
func (s *Session) OnNotification(fn func(domain.Notification)) {
	s.cbMu.Lock()
	s.onNotification = fn
	s.cbMu.Unlock()
}

// OnPresenceSync is called with every newer presence snapshot.
func (s *Session) OnPresenceSync(fn func(domain.PresenceSnapshot)) {
	s.cbMu.Lock()
	s.onPresence = fn
	s.cbMu.Unlock()
}

// OnStatus is called on every connection status change.
func (s *Session) OnStatus(fn func(domain.ConnectionStatus)) {
	s.cbMu.Lock()
	s.onStatus = fn
	s.cbMu.Unlock()
}

// Attach registers the session with the hub, retrying transient failures.
// While retrying the status is reconnecting; when it gives up the status is
// disconnected. Attaching an attached session returns the same attachment.
func (s *Session) Attach(ctx context.Context) (Attachment, error) {
	if err := s.identity.Validate(); err != nil {
		return nil, err
	}

	s.attachMu.Lock()
	s.mu.Lock()
	if s.attachment != nil {
		att := s.attachment
		s.mu.Unlock()
		s.attachMu.Unlock()
		return att, nil
	}
	s.mu.Unlock()

	opts := append([]retry.Option{
		retry.WithMaxRetries(s.cfg.AttachMaxRetries),
		retry.WithDelays(s.cfg.AttachBaseDelay, s.cfg.AttachMaxDelay),
		retry.WithRetryable(domain.IsRetryable),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			metrics.SessionAttachRetries.Inc()
			s.setStatus(domain.StatusReconnecting)
			s.logger.WarnContext(ctx, "Attach failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}),
	}, s.retryOpts...)
	retryer := retry.NewExponentialBackoffRetryer(opts...)

	started := time.Now()
	var att Attachment
	err := retryer.Retry(ctx, func() error {
		a, err := s.hub.Attach(ctx, s, s.identity)
		if err != nil {
			return err
		}
		att = a
		return nil
	})
	if err != nil {
		s.attachMu.Unlock()
		s.setStatus(domain.StatusDisconnected)
		s.logger.ErrorContext(ctx, "Attach gave up", "error", err)
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.attachment = att
	s.lifetime = lifetime
	s.cancel = cancel
	s.attachedAt = started
	s.mu.Unlock()
	s.attachMu.Unlock()

	s.setStatus(domain.StatusConnected)
	go s.heartbeatLoop(lifetime, att)
	go s.watchPresence(lifetime, att)

	if err := s.SetView(ctx, s.View()); err != nil {
		s.logger.WarnContext(ctx, "Initial backfill failed", "error", err)
	}
	return att, nil
}

// Detach releases the attachment and leaves presence. It is idempotent.
func (s *Session) Detach(ctx context.Context) {
	if s.release(ctx, nil) {
		s.setStatus(domain.StatusDisconnected)
	}
}

// release detaches when the current attachment is want, or any attachment
// when want is nil.
func (s *Session) release(ctx context.Context, want Attachment) bool {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()

	s.mu.Lock()
	att, cancel := s.attachment, s.cancel
	if att == nil || (want != nil && att != want) {
		s.mu.Unlock()
		return false
	}
	s.attachment = nil
	s.cancel = nil
	s.lifetime = nil
	// in-flight backfills belong to the old attachment
	s.generation++
	s.backfilling = false
	s.pending = nil
	s.mu.Unlock()

	cancel()
	att.Detach(ctx)
	s.logger.DebugContext(ctx, "Session detached")
	return true
}

// SetView switches the open conversation and reloads its recent messages.
// A load that finishes after a newer SetView is discarded. Live messages for
// the new view that arrive during the load are merged into the result. When
// the load fails the view still switches and the cache is left holding only
// those live messages.
func (s *Session) SetView(ctx context.Context, view domain.View) error {
	load, err := s.SwitchView(view)
	if err != nil {
		return err
	}
	return load(ctx)
}

// SwitchView switches the open conversation immediately and returns the
// load that SetView would run. Callers that run loads concurrently get the
// switches in call order, and only the load of the latest switch applies.
func (s *Session) SwitchView(view domain.View) (func(context.Context) error, error) {
	if err := view.Validate(s.identity.UserID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.view.Store(&view)
	s.backfilling = true
	s.pending = nil
	s.mu.Unlock()

	return func(ctx context.Context) error { return s.loadView(ctx, view, gen) }, nil
}

func (s *Session) loadView(ctx context.Context, view domain.View, gen uint64) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	msgs, err := s.store.Fetch(fetchCtx, s.identity.UserID, view, domain.DefaultFetchLimit)
	cancel()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		metrics.SessionBackfills.WithLabelValues("stale").Inc()
		s.logger.DebugContext(ctx, "Discarding backfill for superseded view",
			"view", view.String(), "error", domain.ErrStaleViewRace)
		return nil
	}
	pending := s.pending
	s.pending = nil
	s.backfilling = false

	if err != nil {
		// The view already switched. The cache holds only what arrived live
		// for it, and a later SetView or Resync fills in the history.
		live := capMessages(domain.MergeMessages(nil, pending))
		s.messages = live
		s.mu.Unlock()
		metrics.SessionBackfills.WithLabelValues("error").Inc()
		for _, m := range live {
			s.emitMessage(m)
		}
		return fmt.Errorf("load %s: %w", view, err)
	}

	merged := domain.MergeMessages(msgs, pending)
	s.messages = capMessages(merged)
	out := append([]domain.Message(nil), s.messages...)
	s.mu.Unlock()

	metrics.SessionBackfills.WithLabelValues("ok").Inc()
	s.emitBackfill(view, out)
	return nil
}

// Fetch loads recent messages of any view without touching the cache.
func (s *Session) Fetch(ctx context.Context, view domain.View, limit int) ([]domain.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	return s.store.Fetch(fetchCtx, s.identity.UserID, view, limit)
}

// Send posts content to the current view's recipient.
func (s *Session) Send(ctx context.Context, content string) (domain.Message, error) {
	to := s.View().Recipient()
	draft := domain.NewDraft(s.identity.UserID, to, content)
	if err := draft.Validate(); err != nil {
		return domain.Message{}, &SendError{Input: content, To: to, Err: err}
	}

	if s.current() == nil {
		return domain.Message{}, &SendError{Input: content, To: to, Err: domain.ErrNotAttached}
	}

	m, err := s.store.Append(ctx, s.identity.UserID, to, content)
	if err != nil {
		return domain.Message{}, &SendError{Input: content, To: to, Err: err}
	}
	return m, nil
}

// Heartbeat refreshes presence now instead of waiting for the next tick.
func (s *Session) Heartbeat(ctx context.Context) error {
	att := s.current()
	if att == nil {
		return domain.ErrNotAttached
	}
	return att.Heartbeat(ctx)
}

// RequestSync asks for a fresh presence snapshot.
func (s *Session) RequestSync(ctx context.Context) error {
	att := s.current()
	if att == nil {
		return domain.ErrNotAttached
	}
	att.RequestSync(ctx)
	return nil
}

func (s *Session) current() Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachment
}

// DeliverMessage implements router.Subscriber.
func (s *Session) DeliverMessage(m domain.Message) {
	s.mu.Lock()
	// the view may have changed since the router looked at it
	if !s.CurrentView().Shows(s.identity.UserID, m) {
		s.mu.Unlock()
		return
	}
	if s.backfilling {
		s.pending = append(s.pending, m)
		s.mu.Unlock()
		return
	}
	if !s.cacheLocked(m) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.emitMessage(m)
}

// cacheLocked adds m to the cache and reports whether it was new.
func (s *Session) cacheLocked(m domain.Message) bool {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == m.ID {
			return false
		}
	}
	if n := len(s.messages); n == 0 || s.messages[n-1].Before(m) {
		s.messages = append(s.messages, m)
	} else {
		s.messages = domain.MergeMessages(s.messages, []domain.Message{m})
	}
	s.messages = capMessages(s.messages)
	return true
}

func capMessages(msgs []domain.Message) []domain.Message {
	if len(msgs) > MaxCachedMessages {
		return append([]domain.Message(nil), msgs[len(msgs)-MaxCachedMessages:]...)
	}
	return msgs
}

// DeliverNotification implements router.Subscriber.
func (s *Session) DeliverNotification(n domain.Notification) {
	s.cbMu.RLock()
	fn := s.onNotification
	s.cbMu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// DeliverPresence implements router.Subscriber. Older versions are ignored.
func (s *Session) DeliverPresence(snap domain.PresenceSnapshot) {
	s.mu.Lock()
	if s.presenceSeen && snap.Version < s.presence.Version {
		s.mu.Unlock()
		return
	}
	s.presence = snap
	s.presenceSeen = true
	s.lastPresenceAt = time.Now()
	s.mu.Unlock()

	s.cbMu.RLock()
	fn := s.onPresence
	s.cbMu.RUnlock()
	if fn != nil {
		fn(snap)
	}
}

// Resync implements router.Subscriber by reloading the current view.
func (s *Session) Resync() {
	s.mu.Lock()
	ctx := s.lifetime
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	go func() {
		s.logger.Warn("Router dropped messages, reloading view")
		if err := s.SetView(ctx, s.View()); err != nil {
			s.logger.Error("Resync failed", "error", err)
		}
	}()
}

func (s *Session) heartbeatLoop(ctx context.Context, att Attachment) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := att.Heartbeat(ctx)
			if err == nil {
				continue
			}
			if errors.Is(err, domain.ErrPresenceDesync) {
				s.logger.Warn("Presence entry expired, re-attaching")
				go s.reattach(att)
				return
			}
			s.logger.Warn("Heartbeat failed", "error", err)
		}
	}
}

// reattach replaces an attachment whose presence entry was lost.
func (s *Session) reattach(att Attachment) {
	ctx := context.Background()
	if !s.release(ctx, att) {
		return
	}
	s.setStatus(domain.StatusReconnecting)
	if _, err := s.Attach(ctx); err != nil {
		s.logger.Error("Re-attach failed", "error", err)
	}
}

// watchPresence asks for a snapshot when none arrived within the desync
// window after attach.
func (s *Session) watchPresence(ctx context.Context, att Attachment) {
	timer := time.NewTimer(s.cfg.DesyncWindow)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	synced := s.presenceSeen && !s.lastPresenceAt.Before(s.attachedAt)
	s.mu.Unlock()
	if synced {
		return
	}
	s.logger.Warn("No presence snapshot since attach, requesting sync", "error", domain.ErrPresenceDesync)
	att.RequestSync(ctx)
}

func (s *Session) setStatus(st domain.ConnectionStatus) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()

	s.logger.Info("Connection status changed", "status", st)
	s.cbMu.RLock()
	fn := s.onStatus
	s.cbMu.RUnlock()
	if fn != nil {
		fn(st)
	}
}

func (s *Session) emitMessage(m domain.Message) {
	s.cbMu.RLock()
	fn := s.onMessage
	s.cbMu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

func (s *Session) emitBackfill(view domain.View, msgs []domain.Message) {
	s.cbMu.RLock()
	fn := s.onBackfill
	s.cbMu.RUnlock()
	if fn != nil {
		fn(view, msgs)
	}
}
