package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/identity"
	"github.com/nfrund/peerchat/internal/middleware"
)

// PresenceSource is the part of the presence tracker the API reads.
type PresenceSource interface {
	Snapshot() domain.PresenceSnapshot
}

// DirectoryLister lists known users.
type DirectoryLister interface {
	List(ctx context.Context, q identity.Query) ([]domain.DirectoryEntry, error)
}

// PresenceHandler handles presence and directory requests.
type PresenceHandler struct {
	presence  PresenceSource
	directory DirectoryLister
}

// NewPresenceHandler creates a new presence handler. directory may be nil,
// in which case the directory endpoint answers 503.
func NewPresenceHandler(presence PresenceSource, directory DirectoryLister) *PresenceHandler {
	return &PresenceHandler{presence: presence, directory: directory}
}

// GetPresence returns the current online users.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	return c.JSON(http.StatusOK, NewPresenceResponse(h.presence.Snapshot()))
}

// GetUserPresence reports whether :userID is online.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	userID := c.Param("userID")
	if userID == "" {
		return domain.Invalid("userID parameter required")
	}

	resp := UserPresenceResponse{UserID: userID}
	for _, e := range h.presence.Snapshot().Entries {
		if e.UserID == userID {
			entry := e
			resp.Online = true
			resp.Entry = &entry
			break
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// GetDirectory lists users for starting private conversations. The caller
// is left out.
func (h *PresenceHandler) GetDirectory(c echo.Context) error {
	if h.directory == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "unavailable", Message: "directory not available"})
	}

	var req DirectoryRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("bad query: %v", err)
	}
	if err := c.Validate(&req); err != nil {
		return domain.Invalid("%s", err.Error())
	}

	q := identity.Query{Search: req.Q}
	if req.Role != "" {
		q.Role = domain.ParseRole(req.Role)
	}
	if caller, ok := callerID(c); ok {
		q.ExcludeUserID = caller
	}

	users, err := h.directory.List(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if users == nil {
		users = []domain.DirectoryEntry{}
	}
	return c.JSON(http.StatusOK, DirectoryResponse{Count: len(users), Users: users})
}

func callerID(c echo.Context) (string, bool) {
	caller, ok := middleware.IdentityFrom(c)
	return caller.UserID, ok
}
