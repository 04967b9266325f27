package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/peerchat/internal/domain"
)

// Announcer publishes a committed message to the bus.
type Announcer interface {
	Announce(ctx context.Context, m domain.Message) error
}

// MessageLoader loads a stored message by id.
type MessageLoader interface {
	Get(ctx context.Context, id string) (domain.Message, error)
}

// MessageFeed turns message inserts seen by a live query into bus events,
// so commits made by any process reach this process's subscribers.
type MessageFeed struct {
	live      LiveQueryService
	store     MessageLoader
	announcer Announcer
	logger    *slog.Logger
	sub       *Subscription
}

// NewMessageFeed wires a live query on the message table to announcer.
func NewMessageFeed(live LiveQueryService, store MessageLoader, announcer Announcer) *MessageFeed {
	return &MessageFeed{
		live:      live,
		store:     store,
		announcer: announcer,
		logger:    slog.Default().With("component", "message_feed"),
	}
}

// Start subscribes to message creations.
func (f *MessageFeed) Start(ctx context.Context) error {
	sub, err := f.live.Subscribe(ctx, messageTable, &LiveQueryFilter{Fields: []string{"message_id"}}, f.handle)
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

// Stop ends the live query.
func (f *MessageFeed) Stop() error {
	if f.sub == nil {
		return nil
	}
	return f.live.Unsubscribe(f.sub.ID)
}

func (f *MessageFeed) handle(ctx context.Context, action LiveQueryAction, data any) {
	if action != ActionCreate {
		return
	}
	id, err := messageIDFrom(data)
	if err != nil {
		f.logger.WarnContext(ctx, "Ignoring live query row", "error", err)
		return
	}

	m, err := f.store.Get(ctx, id)
	if err != nil {
		f.logger.ErrorContext(ctx, "Failed to load created message", "message_id", id, "error", err)
		return
	}
	if err := f.announcer.Announce(ctx, m); err != nil {
		f.logger.ErrorContext(ctx, "Failed to announce message", "message_id", id, "error", err)
	}
}

func messageIDFrom(data any) (string, error) {
	var v any
	switch row := data.(type) {
	case map[string]any:
		v = row["message_id"]
	case map[any]any:
		v = row["message_id"]
	default:
		return "", fmt.Errorf("unexpected row type %T", data)
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("row has no message_id")
	}
	return id, nil
}
