// Package app assembles the services, modules and HTTP server of a
// peerchat process.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/database"
	"github.com/nfrund/peerchat/internal/logging"
	"github.com/nfrund/peerchat/internal/server"
	"github.com/samber/do/v2"
)

type closer struct {
	name string
	fn   func(context.Context) error
}

// App is a fully wired peerchat process.
type App struct {
	Cfg      *config.Config
	Injector do.Injector
	Server   *server.Server
	Deps     Dependencies

	mu      sync.Mutex
	closers []closer
}

// New builds the service graph for cfg and boots every module onto a new
// server. Nothing listens until Run is called. On error everything already
// started is closed again.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := checkDrivers(cfg); err != nil {
		return nil, err
	}

	a := &App{Cfg: cfg, Injector: do.New()}
	a.provide(ctx, a.Injector)

	deps, err := resolveDependencies(a.Injector)
	if err != nil {
		return nil, a.fail(ctx, fmt.Errorf("resolve dependencies: %w", err))
	}
	a.Deps = deps

	a.Server = server.New(cfg)
	if cfg.StoreDriver == "surreal" {
		conn := do.MustInvoke[*database.Connection](a.Injector)
		a.Server.AddHealthCheck("database", func() error {
			if !conn.IsHealthy() {
				return errors.New("database connection is unhealthy")
			}
			return nil
		})
	}
	a.Server.RegisterRoutes()

	if err := a.Server.Boot(ctx, deps.Tokens, NewModules(deps)...); err != nil {
		return nil, a.fail(ctx, errors.Join(err, a.Server.Shutdown(ctx)))
	}
	return a, nil
}

// Run serves HTTP until ctx is done, then releases every service.
func (a *App) Run(ctx context.Context) error {
	err := a.Server.Start(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(err, a.Close(shutdownCtx))
}

// Close releases the services in the reverse order they were created. It
// does not stop the HTTP server; Run does that.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			logging.Component("app").Error("Failed to close service", "service", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) fail(ctx context.Context, err error) error {
	if cerr := a.Close(ctx); cerr != nil {
		logging.Component("app").Error("Cleanup after failed start", "error", cerr)
	}
	return err
}
