package server

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/peerchat/internal/config"
	"github.com/nfrund/peerchat/internal/handlers"
	appmiddleware "github.com/nfrund/peerchat/internal/middleware"
	"github.com/nfrund/peerchat/internal/module"
	"github.com/prometheus/client_golang/prometheus"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	E       *echo.Echo
	Cfg     *config.Config
	metrics *prometheus.Registry
	checks  []healthCheck
	modules []module.Module
}

// New creates a new Server instance with the common middleware stack.
// Routes are added by RegisterRoutes and Boot.
func New(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	reg := prometheus.NewRegistry()

	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "peerchat",
		Subsystem:  "http",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/health"
		},
	}))
	setupErrorHandling(e)

	return &Server{
		E:       e,
		Cfg:     cfg,
		metrics: reg,
	}
}
