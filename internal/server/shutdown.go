package server

import (
	"context"
	"errors"
	"log/slog"
)

// Shutdown stops the modules in reverse boot order, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.modules) - 1; i >= 0; i-- {
		m := s.modules[i]
		if err := m.Shutdown(ctx); err != nil {
			slog.Error("Module shutdown failed", "module", m.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	s.modules = nil

	if err := s.E.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
