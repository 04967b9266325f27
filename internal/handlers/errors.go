package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/domain"
)

// StatusFor maps an error returned by a handler to the HTTP status and body
// sent to the client.
func StatusFor(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, ErrorResponse{Code: http.StatusText(he.Code), Message: fmt.Sprint(he.Message)}
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Code: "validation", Message: err.Error()}
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, ErrorResponse{Code: "not_authenticated", Message: domain.ErrNotAuthenticated.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: "not_found", Message: err.Error()}
	case domain.IsRetryable(err), errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable, ErrorResponse{Code: "unavailable", Message: "temporarily unavailable, retry later"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: "internal", Message: http.StatusText(http.StatusInternalServerError)}
	}
}
