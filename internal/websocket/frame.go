package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nfrund/peerchat/internal/domain"
)

// Client frame types.
const (
	FrameSetView   = "set_view"
	FrameSend      = "send"
	FrameHeartbeat = "heartbeat"
	FrameSync      = "sync"
)

// Server frame types.
const (
	FrameStatus       = "status"
	FrameBackfill     = "backfill"
	FrameMessage      = "message"
	FrameNotification = "notification"
	FramePresence     = "presence"
	FrameError        = "error"
)

// Frame is the JSON envelope exchanged over the chat socket. Client frames
// carry their fields inline; server frames put the event in Payload.
type Frame struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id,omitempty"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StatusPayload reports the connection state of the server-side session.
type StatusPayload struct {
	Status    domain.ConnectionStatus `json:"status"`
	SessionID string                  `json:"session_id"`
	UserID    string                  `json:"user_id"`
}

// BackfillPayload replaces the client's message list for a view.
type BackfillPayload struct {
	View     string           `json:"view"`
	PeerID   string           `json:"peer_id,omitempty"`
	Messages []domain.Message `json:"messages"`
}

// ErrorPayload describes a failed client frame. For sends, Input echoes the
// text so the client can restore it.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Frame   string `json:"frame,omitempty"`
	Input   string `json:"input,omitempty"`
	To      string `json:"to,omitempty"`
}

// Error codes carried in ErrorPayload.
const (
	CodeValidation       = "validation"
	CodeNotAuthenticated = "not_authenticated"
	CodeTransient        = "transient"
	CodeNotAttached      = "not_attached"
	CodePresenceDesync   = "presence_desync"
	CodeUnsupported      = "unsupported"
	CodeInternal         = "internal"
)

// NewFrame builds a server frame around payload.
func NewFrame(frameType string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: raw}, nil
}

// Encode marshals a frame for the wire.
func Encode(frameType string, payload any) ([]byte, error) {
	f, err := NewFrame(frameType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// DecodePayload unmarshals the payload of a server frame.
func DecodePayload[T any](f Frame) (T, error) {
	var v T
	if len(f.Payload) == 0 {
		return v, fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return v, nil
}

// ViewFrom maps the peer_id of a set_view frame to a view.
func ViewFrom(peerID string) domain.View {
	if peerID == "" {
		return domain.Global()
	}
	return domain.PrivateWith(peerID)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case domain.IsRetryable(err):
		return CodeTransient
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation
	case errors.Is(err, domain.ErrNotAuthenticated):
		return CodeNotAuthenticated
	case errors.Is(err, domain.ErrNotAttached):
		return CodeNotAttached
	case errors.Is(err, domain.ErrPresenceDesync):
		return CodePresenceDesync
	default:
		return CodeInternal
	}
}
