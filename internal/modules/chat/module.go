package chat

import (
	"context"
	"log/slog"

	"github.com/nfrund/peerchat/internal/handlers"
	"github.com/nfrund/peerchat/internal/module"
	"github.com/nfrund/peerchat/internal/router"
	"github.com/nfrund/peerchat/internal/websocket"
)

// ChatModule mounts the message, presence and directory API and the chat
// socket, and runs the channel router behind them.
type ChatModule struct {
	router   *router.Router
	messages *handlers.MessageHandler
	presence *handlers.PresenceHandler
	socket   *websocket.Endpoint
}

// Dependencies holds all the services that the ChatModule requires to operate.
type Dependencies struct {
	Router    *router.Router
	Messages  handlers.MessageService
	Presence  handlers.PresenceSource
	Directory handlers.DirectoryLister
	Socket    *websocket.Endpoint
}

// New creates a new instance of the ChatModule, injecting its dependencies.
func New(deps Dependencies) *ChatModule {
	return &ChatModule{
		router:   deps.Router,
		messages: handlers.NewMessageHandler(deps.Messages),
		presence: handlers.NewPresenceHandler(deps.Presence, deps.Directory),
		socket:   deps.Socket,
	}
}

// Name returns the module name.
func (m *ChatModule) Name() string {
	return "chat"
}

// Boot starts the router and sets up the routes.
func (m *ChatModule) Boot(ctx context.Context, r module.Routes) error {
	if err := m.router.Start(ctx); err != nil {
		return err
	}

	slog.Info("Booting ChatModule: Setting up routes...")
	r.API.GET("/messages", m.messages.List)
	r.API.POST("/messages", m.messages.Create, r.Limit)
	r.API.GET("/presence", m.presence.GetPresence)
	r.API.GET("/presence/:userID", m.presence.GetUserPresence)
	r.API.GET("/directory", m.presence.GetDirectory)

	r.Root.GET("/ws/chat", m.socket.Handler, r.Auth, r.Limit)
	return nil
}

// Shutdown detaches every session and stops the router.
func (m *ChatModule) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down ChatModule...", "subscribers", m.router.Count(), "sockets", m.socket.Connected())
	m.router.Close(ctx)
	return nil
}
