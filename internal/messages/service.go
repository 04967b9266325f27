package messages

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/metrics"
	"github.com/nfrund/peerchat/internal/pubsub"
)

const lockStripes = 64

// ProfileResolver resolves sender profiles in one batch. Missing users come
// back as domain.UnknownProfile.
type ProfileResolver interface {
	Resolve(ctx context.Context, userIDs []string) map[string]domain.Profile
}

// Service is the message store: it validates, commits and announces
// messages, and serves conversation windows.
type Service struct {
	repo     domain.MessageRepository
	resolver ProfileResolver
	pub      pubsub.Publisher
	ids      *idSource
	now      domain.Clock
	logger   *slog.Logger

	// announce is false when a database change feed publishes commits.
	announce bool
	locks    [lockStripes]sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now domain.Clock) Option {
	return func(s *Service) { s.now = now }
}

// WithoutAnnounce stops Append from publishing MessageCreated. Used when a
// change feed on the store publishes instead.
func WithoutAnnounce() Option {
	return func(s *Service) { s.announce = false }
}

// NewService creates a message store over repo.
func NewService(repo domain.MessageRepository, resolver ProfileResolver, pub pubsub.Publisher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
		pub:      pub,
		ids:      newIDSource(),
		now:      time.Now,
		logger:   slog.Default().With("component", "messages"),
		announce: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates and commits a message, then publishes MessageCreated.
//
// Commit and publish happen under a per-conversation lock, so subscribers
// see a conversation's messages in commit order. A publish failure after a
// successful commit is logged and not returned: the message is durable and
// reaches clients on their next backfill.
func (s *Service) Append(ctx context.Context, senderID string, to domain.Recipient, content string) (domain.Message, error) {
	draft := domain.NewDraft(senderID, to, content)
	if err := draft.Validate(); err != nil {
		return domain.Message{}, err
	}

	m := domain.Message{
		SenderID:  draft.SenderID,
		Recipient: draft.Recipient,
		Content:   draft.Content,
	}

	mu := s.lockFor(m.ConversationKey())
	mu.Lock()
	defer mu.Unlock()

	m.ID, m.CreatedAt = s.ids.next(s.now())

	start := time.Now()
	err := s.repo.Insert(ctx, m)
	metrics.StoreLatency.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return domain.Message{}, err
		}
		return domain.Message{}, domain.Transient("append message", err)
	}
	metrics.MessagesAppended.WithLabelValues(metrics.RecipientKind(m.Recipient.IsBroadcast())).Inc()

	m = s.decorate(ctx, []domain.Message{m})[0]

	if s.announce && s.pub != nil {
		if err := s.publish(ctx, m); err != nil {
			s.logger.ErrorContext(ctx, "Message committed but not announced",
				"message_id", m.ID, "conversation", m.ConversationKey(), "error", err)
		}
	}
	return m, nil
}

// Announce decorates and publishes an already committed message. The
// database change feed calls it for commits made by any process.
func (s *Service) Announce(ctx context.Context, m domain.Message) error {
	if s.pub == nil {
		return nil
	}
	mu := s.lockFor(m.ConversationKey())
	mu.Lock()
	defer mu.Unlock()

	return s.publish(ctx, s.decorate(ctx, []domain.Message{m})[0])
}

func (s *Service) publish(ctx context.Context, m domain.Message) error {
	if err := pubsub.Publish(ctx, s.pub, MessageCreated, m.SenderID, m, RoutingMetadata(m)); err != nil {
		return domain.Transient("publish message", err)
	}
	return nil
}

// Fetch returns the newest limit messages of view for self, oldest first.
// A limit outside 1..100 means 100.
func (s *Service) Fetch(ctx context.Context, self string, view domain.View, limit int) ([]domain.Message, error) {
	if self == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if err := view.Validate(self); err != nil {
		return nil, err
	}
	limit = domain.ClampLimit(limit)

	start := time.Now()
	msgs, err := s.repo.Recent(ctx, self, view, limit)
	metrics.StoreLatency.WithLabelValues("recent").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.Transient("fetch messages", err)
	}

	// Guard against repositories that ignore the view or the limit.
	filtered := msgs[:0]
	for _, m := range msgs {
		if view.Shows(self, m) {
			filtered = append(filtered, m)
		}
	}
	domain.SortMessages(filtered)
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return s.decorate(ctx, filtered), nil
}

func (s *Service) decorate(ctx context.Context, msgs []domain.Message) []domain.Message {
	if len(msgs) == 0 || s.resolver == nil {
		return msgs
	}
	seen := make(map[string]struct{}, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			ids = append(ids, m.SenderID)
		}
	}

	profiles := s.resolver.Resolve(ctx, ids)
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		p, ok := profiles[m.SenderID]
		if !ok {
			p = domain.UnknownProfile(m.SenderID)
		}
		out[i] = m.Decorate(p)
	}
	return out
}

func (s *Service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}
