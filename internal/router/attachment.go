package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/metrics"
)

var errNotStarted = errors.New("router not started")

// Handle is what a session holds while attached.
type Handle struct {
	a *attachment
}

// ID returns the subscriber id the handle was issued for.
func (h *Handle) ID() string { return h.a.sub.ID() }

// Heartbeat keeps the attachment's presence alive.
func (h *Handle) Heartbeat(ctx context.Context) error {
	return h.a.router.tracker.Heartbeat(ctx, h.a.sub.ID())
}

// RequestSync asks for a fresh presence snapshot.
func (h *Handle) RequestSync(ctx context.Context) {
	h.a.router.tracker.RequestSync(ctx)
}

// Detach releases the attachment. Calling it more than once is harmless.
func (h *Handle) Detach(ctx context.Context) {
	h.a.router.Detach(ctx, h.a.sub.ID())
}

// Active reports whether the attachment is still registered.
func (h *Handle) Active() bool {
	return !h.a.stopped.Load()
}

// attachment owns the queues of one subscriber.
type attachment struct {
	router *Router
	sub    Subscriber
	handle *Handle
	logger *slog.Logger

	msgs  chan domain.Message
	notes chan domain.Message

	// Presence is coalesced: only the newest pending snapshot is kept.
	presMu      sync.Mutex
	presPending *domain.PresenceSnapshot
	presApplied uint64
	presSeen    bool
	presSignal  chan struct{}

	lagged  atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

func newAttachment(r *Router, sub Subscriber, queueSize int) *attachment {
	a := &attachment{
		router:     r,
		sub:        sub,
		logger:     r.logger.With("subscriber_id", sub.ID(), "user_id", sub.UserID()),
		msgs:       make(chan domain.Message, queueSize),
		notes:      make(chan domain.Message, queueSize),
		presSignal: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	a.handle = &Handle{a: a}
	return a
}

func (a *attachment) start() {
	go a.drainMessages()
	go a.drainNotifications()
	go a.drainPresence()
}

// stop ends the drain goroutines without waiting for them: a subscriber may
// detach from inside one of its own callbacks.
func (a *attachment) stop() {
	if a.stopped.Swap(true) {
		return
	}
	close(a.done)
}

// offerMessage runs on the bus goroutine and must not block.
func (a *attachment) offerMessage(m domain.Message) {
	if a.stopped.Load() {
		return
	}
	self := a.sub.UserID()

	// Anything the user could see in some view goes to the message queue;
	// the view itself is checked when the message is delivered.
	if m.Recipient.IsBroadcast() || m.SenderID == self || m.Recipient.PeerID() == self {
		select {
		case a.msgs <- m:
		default:
			a.lagged.Store(true)
			metrics.RouterDropped.WithLabelValues("message").Inc()
			a.logger.Warn("Subscriber message queue full, dropping message", "message_id", m.ID)
		}
	}

	if domain.Notifies(self, m) {
		select {
		case a.notes <- m:
		default:
			metrics.RouterDropped.WithLabelValues("notification").Inc()
			a.logger.Warn("Subscriber notification queue full, dropping notification", "message_id", m.ID)
		}
	}
}

func (a *attachment) offerPresence(snap domain.PresenceSnapshot) {
	if a.stopped.Load() {
		return
	}
	a.presMu.Lock()
	if a.presPending != nil && snap.Version < a.presPending.Version {
		a.presMu.Unlock()
		return
	}
	a.presPending = &snap
	a.presMu.Unlock()

	select {
	case a.presSignal <- struct{}{}:
	default:
	}
}

func (a *attachment) drainMessages() {
	for {
		select {
		case <-a.done:
			return
		case m := <-a.msgs:
			if a.stopped.Load() {
				return
			}
			if a.sub.CurrentView().Shows(a.sub.UserID(), m) {
				a.sub.DeliverMessage(m)
				metrics.RouterDeliveries.WithLabelValues("message").Inc()
			}
			if len(a.msgs) == 0 && a.lagged.Swap(false) {
				a.sub.Resync()
			}
		}
	}
}

func (a *attachment) drainNotifications() {
	for {
		select {
		case <-a.done:
			return
		case m := <-a.notes:
			if a.stopped.Load() {
				return
			}
			inView := a.sub.CurrentView().Shows(a.sub.UserID(), m)
			a.sub.DeliverNotification(domain.Notification{Message: m, InView: inView})
			metrics.RouterDeliveries.WithLabelValues("notification").Inc()
		}
	}
}

func (a *attachment) drainPresence() {
	for {
		select {
		case <-a.done:
			return
		case <-a.presSignal:
			if a.stopped.Load() {
				return
			}
			a.presMu.Lock()
			snap := a.presPending
			a.presPending = nil
			stale := snap == nil || (a.presSeen && snap.Version < a.presApplied)
			if !stale {
				a.presApplied = snap.Version
				a.presSeen = true
			}
			a.presMu.Unlock()

			if !stale {
				a.sub.DeliverPresence(*snap)
				metrics.RouterDeliveries.WithLabelValues("presence").Inc()
			}
		}
	}
}
