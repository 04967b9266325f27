package server

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/handlers"
	appmiddleware "github.com/nfrund/peerchat/internal/middleware"
)

// setupErrorHandling maps domain errors onto HTTP responses. Errors that do
// not map to a known status are logged with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := handlers.StatusFor(err)
		logger := appmiddleware.FromContext(c.Request().Context())

		var he *echo.HTTPError
		switch {
		case code == http.StatusInternalServerError && !errors.As(err, &he):
			logger.Error("Internal Server Error (Unhandled)",
				"error", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()))
		case code >= http.StatusInternalServerError:
			logger.Warn("Request failed", "error", err, "status", code, "path", c.Request().URL.Path)
		default:
			logger.Debug("Request rejected", "error", err, "status", code, "path", c.Request().URL.Path)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, body)
		}
		if err != nil {
			logger.Error("Failed to write error response", "error", err)
		}
	}
}
