package module

import (
	"context"

	"github.com/labstack/echo/v4"
)

// Routes is where a module mounts its handlers during Boot.
type Routes struct {
	// API is the /api group. Every route on it requires a verified identity.
	API *echo.Group
	// Root is the bare echo instance for routes outside /api.
	Root *echo.Echo
	// Auth protects routes mounted on Root.
	Auth echo.MiddlewareFunc
	// Limit rate limits write endpoints.
	Limit echo.MiddlewareFunc
}

// Module defines the contract for a self-contained application feature.
type Module interface {
	// Name returns a unique identifier for the module.
	Name() string

	// Boot is the phase for setting up routes and starting background processes.
	Boot(ctx context.Context, routes Routes) error

	// Shutdown is called during graceful application shutdown.
	// This is the phase for cleaning up resources and stopping background processes.
	Shutdown(ctx context.Context) error
}

// BaseModule provides default no-op implementations for Module methods.
// Modules can embed this to avoid implementing methods they don't need.
type BaseModule struct{}

func (m *BaseModule) Boot(ctx context.Context, routes Routes) error { return nil }
func (m *BaseModule) Shutdown(ctx context.Context) error            { return nil }
