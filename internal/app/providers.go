package app

import (
	"context"
	"fmt"

	"github.com/nfrund/peerchat/internal/auth"
	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/database"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/identity"
	"github.com/nfrund/peerchat/internal/logging"
	"github.com/nfrund/peerchat/internal/messages"
	"github.com/nfrund/peerchat/internal/presence"
	"github.com/nfrund/peerchat/internal/pubsub"
	"github.com/nfrund/peerchat/internal/router"
	"github.com/nfrund/peerchat/internal/session"
	"github.com/nfrund/peerchat/internal/websocket"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// provide registers every core service on i. Providers are lazy: a service
// is built the first time something invokes it.
func (a *App) provide(ctx context.Context, i do.Injector) {
	do.ProvideValue(i, a.Cfg)

	do.Provide(i, func(i do.Injector) (trace.Tracer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		tracer, shutdown, err := pubsub.SetupOTel(ctx, pubsub.TracingConfig{
			Enabled:     cfg.TracingEnabled,
			ServiceName: cfg.TracingServiceName,
			ZipkinURL:   cfg.TracingZipkinURL,
		})
		if err != nil {
			return nil, err
		}
		a.onClose("tracing", func(context.Context) error { shutdown(); return nil })
		return tracer, nil
	})

	do.Provide(i, func(i do.Injector) (pubsub.Bus, error) {
		cfg := do.MustInvoke[*config.Config](i)
		var bus pubsub.Bus
		switch cfg.PubSubDriver {
		case "redis":
			rb, err := pubsub.NewRedisBridge(ctx, cfg.RedisURL)
			if err != nil {
				return nil, domain.Transient("connect redis", err)
			}
			bus = rb
		default:
			tracer, err := do.Invoke[trace.Tracer](i)
			if err != nil {
				return nil, err
			}
			bus = pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
		}
		a.onClose("bus", func(context.Context) error { return bus.Close() })
		logging.Component("app").Info("Message bus ready", "driver", cfg.PubSubDriver)
		return bus, nil
	})

	do.Provide(i, func(i do.Injector) (*database.Connection, error) {
		cfg := do.MustInvoke[*config.Config](i)
		conn := database.NewConnection(cfg)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		conn.StartMonitoring()
		a.onClose("database", conn.Close)

		if err := database.EnsureSchema(ctx, conn); err != nil {
			return nil, err
		}
		return conn, nil
	})

	do.Provide(i, func(i do.Injector) (domain.MessageRepository, error) {
		if do.MustInvoke[*config.Config](i).StoreDriver != "surreal" {
			return messages.NewMemoryRepository(), nil
		}
		conn, err := do.Invoke[*database.Connection](i)
		if err != nil {
			return nil, err
		}
		return database.NewMessageStore(conn), nil
	})

	do.Provide(i, func(i do.Injector) (domain.ProfileRepository, error) {
		if do.MustInvoke[*config.Config](i).StoreDriver != "surreal" {
			return identity.NewMemoryRepository(), nil
		}
		conn, err := do.Invoke[*database.Connection](i)
		if err != nil {
			return nil, err
		}
		return database.NewProfileStore(conn), nil
	})

	do.Provide(i, func(i do.Injector) (*identity.Resolver, error) {
		repo, err := do.Invoke[domain.ProfileRepository](i)
		if err != nil {
			return nil, err
		}
		return identity.NewResolver(repo), nil
	})

	do.Provide(i, func(i do.Injector) (*presence.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bus, err := do.Invoke[pubsub.Bus](i)
		if err != nil {
			return nil, err
		}
		svc := presence.NewService(bus,
			presence.WithStaleThreshold(cfg.PresenceStaleThreshold),
			presence.WithCleanupInterval(cfg.PresenceCleanupInterval),
			presence.WithOfflineDebounce(cfg.PresenceOfflineDebounce),
		)
		a.onClose("presence", func(context.Context) error { svc.Shutdown(); return nil })
		return svc, nil
	})

	do.Provide(i, func(i do.Injector) (*identity.Directory, error) {
		repo, err := do.Invoke[domain.ProfileRepository](i)
		if err != nil {
			return nil, err
		}
		pres, err := do.Invoke[*presence.Service](i)
		if err != nil {
			return nil, err
		}
		return identity.NewDirectory(repo, pres), nil
	})

	do.Provide(i, func(i do.Injector) (*messages.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo, err := do.Invoke[domain.MessageRepository](i)
		if err != nil {
			return nil, err
		}
		resolver, err := do.Invoke[*identity.Resolver](i)
		if err != nil {
			return nil, err
		}
		bus, err := do.Invoke[pubsub.Bus](i)
		if err != nil {
			return nil, err
		}
		var opts []messages.Option
		if cfg.MessageEvents == "livequery" {
			opts = append(opts, messages.WithoutAnnounce())
		}
		return messages.NewService(repo, resolver, bus, opts...), nil
	})

	do.Provide(i, func(i do.Injector) (*router.Router, error) {
		bus, err := do.Invoke[pubsub.Bus](i)
		if err != nil {
			return nil, err
		}
		pres, err := do.Invoke[*presence.Service](i)
		if err != nil {
			return nil, err
		}
		return router.New(bus, pres), nil
	})

	do.Provide(i, func(i do.Injector) (*auth.TokenService, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL), nil
	})

	do.Provide(i, func(i do.Injector) (*websocket.Endpoint, error) {
		cfg := do.MustInvoke[*config.Config](i)
		msgs, err := do.Invoke[*messages.Service](i)
		if err != nil {
			return nil, err
		}
		r, err := do.Invoke[*router.Router](i)
		if err != nil {
			return nil, err
		}
		resolver, err := do.Invoke[*identity.Resolver](i)
		if err != nil {
			return nil, err
		}
		hub := registeringHub{next: session.RouterHub(r), profiles: resolver}
		return websocket.NewEndpoint(msgs, hub,
			websocket.WithOriginPatterns(cfg.AllowedOrigins...),
			websocket.WithSessionOptions(SessionOptions(cfg)...),
		), nil
	})
}

// SessionOptions maps configuration onto client session settings.
func SessionOptions(cfg *config.Config) []session.Option {
	return []session.Option{
		session.WithConfig(session.Config{
			HeartbeatInterval: cfg.HeartbeatInterval,
			FetchTimeout:      cfg.FetchTimeout,
			AttachMaxRetries:  cfg.AttachMaxRetries,
			AttachBaseDelay:   cfg.AttachBaseDelay,
			AttachMaxDelay:    cfg.AttachMaxDelay,
		}),
	}
}

func checkDrivers(cfg *config.Config) error {
	if cfg.MessageEvents == "livequery" && cfg.StoreDriver != "surreal" {
		return fmt.Errorf("MESSAGE_EVENTS=livequery needs STORE_DRIVER=surreal")
	}
	return nil
}
