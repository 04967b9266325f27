package app

import (
	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/database"
	"github.com/nfrund/peerchat/internal/identity"
	"github.com/nfrund/peerchat/internal/messages"
	"github.com/nfrund/peerchat/internal/presence"
	"github.com/nfrund/peerchat/internal/router"
	"github.com/nfrund/peerchat/internal/websocket"
	"github.com/samber/do/v2"
)

// Dependencies holds the core services that are required by the application's modules.
type Dependencies struct {
	Messages  *messages.Service
	Presence  *presence.Service
	Directory *identity.Directory
	Router    *router.Router
	Socket    *websocket.Endpoint
	Tokens    *auth.TokenService

	// Set only when message events come from a SurrealDB live query.
	LiveQuery database.LiveQueryService
	Store     database.MessageLoader
}

func resolveDependencies(i do.Injector) (Dependencies, error) {
	var (
		deps Dependencies
		err  error
	)
	if deps.Messages, err = do.Invoke[*messages.Service](i); err != nil {
		return deps, err
	}
	if deps.Presence, err = do.Invoke[*presence.Service](i); err != nil {
		return deps, err
	}
	if deps.Directory, err = do.Invoke[*identity.Directory](i); err != nil {
		return deps, err
	}
	if deps.Router, err = do.Invoke[*router.Router](i); err != nil {
		return deps, err
	}
	if deps.Socket, err = do.Invoke[*websocket.Endpoint](i); err != nil {
		return deps, err
	}
	if deps.Tokens, err = do.Invoke[*auth.TokenService](i); err != nil {
		return deps, err
	}

	if do.MustInvoke[*config.Config](i).MessageEvents == "livequery" {
		conn, err := do.Invoke[*database.Connection](i)
		if err != nil {
			return deps, err
		}
		deps.LiveQuery = database.NewSurrealLiveQueryService(conn)
		deps.Store = database.NewMessageStore(conn)
	}
	return deps, nil
}
