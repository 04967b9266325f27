package websocket

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
)

var (
	// ErrFrameAlreadyAllowed is returned when adding a duplicate frame type.
	ErrFrameAlreadyAllowed = errors.New("frame type already in whitelist")
	// ErrInvalidFrameType is returned when an empty frame type is provided.
	ErrInvalidFrameType = errors.New("frame type cannot be empty")
)

// frameWhitelist holds the client frame types an endpoint will dispatch.
type frameWhitelist struct {
	mu      sync.RWMutex
	allowed []string
}

// NewFrameWhitelist creates a whitelist with the given frame types.
func NewFrameWhitelist(types ...string) *frameWhitelist {
	valid := make([]string, 0, len(types))
	for _, t := range types {
		if t != "" && !slices.Contains(valid, t) {
			valid = append(valid, t)
		}
	}
	return &frameWhitelist{allowed: valid}
}

// DefaultFrameWhitelist allows every client frame the chat socket understands.
func DefaultFrameWhitelist() *frameWhitelist {
	return NewFrameWhitelist(FrameSetView, FrameSend, FrameHeartbeat, FrameSync)
}

// IsAllowed reports whether clients may send frames of this type.
func (w *frameWhitelist) IsAllowed(frameType string) bool {
	if frameType == "" {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Contains(w.allowed, frameType)
}

// Allow adds a frame type.
func (w *frameWhitelist) Allow(frameType string) error {
	if frameType == "" {
		slog.Warn("attempted to add empty frame type to whitelist")
		return ErrInvalidFrameType
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if slices.Contains(w.allowed, frameType) {
		return ErrFrameAlreadyAllowed
	}
	w.allowed = append(w.allowed, frameType)
	slog.Debug("frame type allowed", "type", frameType)
	return nil
}

// Revoke removes a frame type. Unknown types are ignored.
func (w *frameWhitelist) Revoke(frameType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowed = slices.DeleteFunc(w.allowed, func(t string) bool { return t == frameType })
}
