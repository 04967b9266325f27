package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Start runs the HTTP server until ctx is done, then shuts it down within
// the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.Cfg.HTTPAddr)
		if err := s.E.Start(s.Cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}
