package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/middleware"
)

// MessageService is the part of the message store the API uses.
type MessageService interface {
	Append(ctx context.Context, senderID string, to domain.Recipient, content string) (domain.Message, error)
	Fetch(ctx context.Context, self string, view domain.View, limit int) ([]domain.Message, error)
}

// MessageHandler serves /api/messages.
type MessageHandler struct {
	messages MessageService
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// List returns the most recent messages of the global room or of the
// private conversation with ?peer=.
func (h *MessageHandler) List(c echo.Context) error {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.ErrNotAuthenticated
	}

	var req ListMessagesRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("bad query: %v", err)
	}
	if err := c.Validate(&req); err != nil {
		return domain.Invalid("%s", err.Error())
	}

	view := domain.Global()
	if req.Peer != "" {
		view = domain.PrivateWith(req.Peer)
	}
	msgs, err := h.messages.Fetch(c.Request().Context(), caller.UserID, view, req.Limit)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, MessagesResponse{View: view.String(), PeerID: view.PeerID(), Messages: msgs})
}

// Create appends a message as the caller.
func (h *MessageHandler) Create(c echo.Context) error {
	caller, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.ErrNotAuthenticated
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return domain.Invalid("bad body: %v", err)
	}
	if err := c.Validate(&req); err != nil {
		return domain.Invalid("%s", err.Error())
	}

	m, err := h.messages.Append(c.Request().Context(), caller.UserID, domain.RecipientFromID(req.RecipientID), req.Content)
	if err != nil {
		return err
	}
	middleware.FromContext(c.Request().Context()).Debug("Message appended via API", "message_id", m.ID, "to", m.Recipient.String())
	return c.JSON(http.StatusCreated, m)
}
