package announcer

import (
	"context"
	"log/slog"

	"github.com/nfrund/peerchat/internal/database"
	"github.com/nfrund/peerchat/internal/module"
)

// Feed is the live query consumer the module drives.
type Feed interface {
	Start(ctx context.Context) error
	Stop() error
}

// AnnouncerModule turns committed message rows into bus events through a
// SurrealDB live query, so that every process sharing the database routes
// messages written by any of them.
type AnnouncerModule struct {
	module.BaseModule
	feed Feed
}

// Dependencies holds the services required by the AnnouncerModule.
type Dependencies struct {
	LiveQueryService database.LiveQueryService
	Store            database.MessageLoader
	Announcer        database.Announcer
}

// New creates a new AnnouncerModule instance.
func New(deps Dependencies) *AnnouncerModule {
	return &AnnouncerModule{
		feed: database.NewMessageFeed(deps.LiveQueryService, deps.Store, deps.Announcer),
	}
}

// Name returns the module name.
func (m *AnnouncerModule) Name() string {
	return "announcer"
}

// Boot subscribes to the message table.
func (m *AnnouncerModule) Boot(ctx context.Context, _ module.Routes) error {
	slog.Info("Booting AnnouncerModule...")
	if err := m.feed.Start(ctx); err != nil {
		slog.Error("Failed to subscribe to message live query", "error", err)
		return err
	}
	return nil
}

// Shutdown kills the live query.
func (m *AnnouncerModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down AnnouncerModule...")
	if err := m.feed.Stop(); err != nil {
		slog.Error("Failed to stop message feed", "error", err)
	}
	return nil
}
