package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/auth"
	appmiddleware "github.com/nfrund/peerchat/internal/middleware"
	"github.com/nfrund/peerchat/internal/module"
	"github.com/prometheus/client_golang/prometheus"
)

type healthCheck struct {
	name  string
	check func() error
}

// AddHealthCheck makes /health report 503 while check fails.
func (s *Server) AddHealthCheck(name string, check func() error) {
	s.checks = append(s.checks, healthCheck{name: name, check: check})
}

// RegisterRoutes sets up the routes that do not belong to a module.
func (s *Server) RegisterRoutes() {
	s.E.GET("/health", s.health)
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: prometheus.Gatherers{s.metrics, prometheus.DefaultGatherer},
	}))
}

func (s *Server) health(c echo.Context) error {
	failing := map[string]string{}
	for _, hc := range s.checks {
		if err := hc.check(); err != nil {
			failing[hc.name] = err.Error()
		}
	}
	if len(failing) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failing": failing})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Boot mounts every module. Routes under /api require a token accepted by
// verifier. Modules are shut down in reverse order by Shutdown.
func (s *Server) Boot(ctx context.Context, verifier auth.Verifier, modules ...module.Module) error {
	authenticate := appmiddleware.Auth(verifier)
	routes := module.Routes{
		API:   s.E.Group("/api", authenticate),
		Root:  s.E,
		Auth:  authenticate,
		Limit: appmiddleware.RateLimiter(s.Cfg.RateLimitPerSecond, s.Cfg.RateLimitBurst),
	}

	for _, m := range modules {
		if err := m.Boot(ctx, routes); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
		s.modules = append(s.modules, m)
	}
	return nil
}
