package handlers

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// SendMessageRequest is the body of POST /api/messages. A missing
// recipient_id sends to the global room.
type SendMessageRequest struct {
	Content     string  `json:"content" validate:"required,max=4000"`
	RecipientID *string `json:"recipient_id"`
}

// ListMessagesRequest binds the query of GET /api/messages.
type ListMessagesRequest struct {
	Peer  string `query:"peer"`
	Limit int    `query:"limit" validate:"gte=0,lte=100"`
}

// DirectoryRequest binds the query of GET /api/directory.
type DirectoryRequest struct {
	Q    string `query:"q" validate:"max=100"`
	Role string `query:"role" validate:"omitempty,oneof=student teacher admin"`
}
