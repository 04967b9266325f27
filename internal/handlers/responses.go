package handlers

import (
	"github.com/nfrund/peerchat/internal/domain"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessagesResponse is one fetched window of a view.
type MessagesResponse struct {
	View     string           `json:"view"`
	PeerID   string           `json:"peer_id,omitempty"`
	Messages []domain.Message `json:"messages"`
}

// PresenceResponse is the online set.
type PresenceResponse struct {
	Version uint64                 `json:"version"`
	Count   int                    `json:"count"`
	Users   []domain.PresenceEntry `json:"users"`
}

// UserPresenceResponse answers whether one user is online.
type UserPresenceResponse struct {
	UserID string                `json:"user_id"`
	Online bool                  `json:"online"`
	Entry  *domain.PresenceEntry `json:"entry,omitempty"`
}

// DirectoryResponse lists known users.
type DirectoryResponse struct {
	Count int                     `json:"count"`
	Users []domain.DirectoryEntry `json:"users"`
}

// NewPresenceResponse builds the DTO from a snapshot.
func NewPresenceResponse(snap domain.PresenceSnapshot) PresenceResponse {
	users := snap.Entries
	if users == nil {
		users = []domain.PresenceEntry{}
	}
	return PresenceResponse{Version: snap.Version, Count: len(users), Users: users}
}
