// Package router fans bus events out to attached client sessions. It holds
// one subscription per topic for the whole process and applies each
// subscriber's relevance predicate at delivery time.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/messages"
	"github.com/nfrund/peerchat/internal/metrics"
	"github.com/nfrund/peerchat/internal/presence"
	"github.com/nfrund/peerchat/internal/pubsub"
)

// DefaultQueueSize is the per-subscriber buffer for messages and for notifications.
const DefaultQueueSize = 256

// Subscriber receives routed events. Methods are called from router
// goroutines, one goroutine per event kind per subscriber, so each kind
// arrives in bus order.
type Subscriber interface {
	// ID identifies this attachment. One user may hold several.
	ID() string
	// UserID is the authenticated user behind the subscriber.
	UserID() string
	// CurrentView is read at every delivery.
	CurrentView() domain.View

	DeliverMessage(m domain.Message)
	DeliverNotification(n domain.Notification)
	DeliverPresence(s domain.PresenceSnapshot)
	// Resync is called after the router dropped messages for this
	// subscriber. The subscriber should refetch its view.
	Resync()
}

// Tracker is the presence registry the router announces attachments to.
type Tracker interface {
	Announce(ctx context.Context, sessionID string, identity domain.Identity) error
	Heartbeat(ctx context.Context, sessionID string) error
	Leave(ctx context.Context, sessionID string)
	Snapshot() domain.PresenceSnapshot
	RequestSync(ctx context.Context)
	// Observe merges a snapshot received from the bus and returns the view
	// to deliver, or false when there is nothing new.
	Observe(origin string, snap domain.PresenceSnapshot) (domain.PresenceSnapshot, bool)
}

// Router is the single attachment point to the bus.
type Router struct {
	subscriber pubsub.Subscriber
	tracker    Tracker
	queueSize  int
	logger     *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*attachment
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// Option configures a Router.
type Option func(*Router)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// New creates a router. Call Start before attaching subscribers.
func New(subscriber pubsub.Subscriber, tracker Tracker, opts ...Option) *Router {
	r := &Router{
		subscriber: subscriber,
		tracker:    tracker,
		queueSize:  DefaultQueueSize,
		logger:     slog.Default().With("component", "router"),
		subs:       make(map[string]*attachment),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the message and presence topics. It is idempotent.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrClosed
	}
	if r.started {
		return nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	if err := pubsub.Subscribe(subCtx, r.subscriber, messages.MessageCreated, r.handleMessage); err != nil {
		cancel()
		return domain.Transient("subscribe messages", err)
	}
	if err := pubsub.Subscribe(subCtx, r.subscriber, presence.SnapshotPublished, r.handlePresence); err != nil {
		cancel()
		return domain.Transient("subscribe presence", err)
	}
	r.cancel = cancel
	r.started = true
	r.logger.Info("Router subscribed", "topics", []string{messages.MessageCreated.Name(), presence.SnapshotPublished.Name()})
	return nil
}

// Attach registers sub and announces its presence. Attaching an id that is
// already attached returns the existing handle.
func (r *Router) Attach(ctx context.Context, sub Subscriber, identity domain.Identity) (*Handle, error) {
	identity = identity.Normalize()
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if identity.UserID != sub.UserID() {
		return nil, domain.ErrNotAuthenticated
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if !r.started {
		r.mu.Unlock()
		return nil, domain.Transient("attach", errNotStarted)
	}
	if existing, ok := r.subs[sub.ID()]; ok {
		r.mu.Unlock()
		return existing.handle, nil
	}
	a := newAttachment(r, sub, r.queueSize)
	r.subs[sub.ID()] = a
	metrics.RouterSubscribers.Set(float64(len(r.subs)))
	r.mu.Unlock()

	a.start()

	if err := r.tracker.Announce(ctx, sub.ID(), identity); err != nil {
		r.remove(sub.ID())
		return nil, err
	}
	// Seed the newcomer with the current set; later snapshots replace it.
	a.offerPresence(r.tracker.Snapshot())

	r.logger.DebugContext(ctx, "Subscriber attached", "subscriber_id", sub.ID(), "user_id", sub.UserID())
	return a.handle, nil
}

// Detach removes the subscriber and leaves presence. Unknown ids are ignored.
func (r *Router) Detach(ctx context.Context, subscriberID string) {
	if r.remove(subscriberID) {
		r.tracker.Leave(ctx, subscriberID)
		r.logger.DebugContext(ctx, "Subscriber detached", "subscriber_id", subscriberID)
	}
}

func (r *Router) remove(id string) bool {
	r.mu.Lock()
	a, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		metrics.RouterSubscribers.Set(float64(len(r.subs)))
	}
	r.mu.Unlock()
	if ok {
		a.stop()
	}
	return ok
}

// Count returns the number of attached subscribers.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close detaches everyone and ends the bus subscriptions.
func (r *Router) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	subs := r.subs
	r.subs = make(map[string]*attachment)
	metrics.RouterSubscribers.Set(0)
	r.mu.Unlock()

	for id, a := range subs {
		a.stop()
		r.tracker.Leave(ctx, id)
	}
}

func (r *Router) snapshotSubs() []*attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*attachment, 0, len(r.subs))
	for _, a := range r.subs {
		out = append(out, a)
	}
	return out
}

func (r *Router) handleMessage(_ context.Context, m domain.Message, _ pubsub.Message) error {
	for _, a := range r.snapshotSubs() {
		a.offerMessage(m)
	}
	return nil
}

func (r *Router) handlePresence(_ context.Context, snap domain.PresenceSnapshot, msg pubsub.Message) error {
	snap, ok := r.tracker.Observe(msg.Metadata[pubsub.MetaOrigin], snap)
	if !ok {
		return nil
	}
	for _, a := range r.snapshotSubs() {
		a.offerPresence(snap)
	}
	return nil
}
