package domain

import (
	"sort"
	"time"
)

// PresenceEntry is one online user in a presence snapshot.
type PresenceEntry struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"name"`
	Role        Role      `json:"role"`
	OnlineAt    time.Time `json:"online_at"`
}

// PresenceSnapshot is the complete online set at one point in time.
// Consumers replace their local set wholesale and ignore snapshots whose
// Version is lower than one they already applied.
type PresenceSnapshot struct {
	Version uint64          `json:"version"`
	Entries []PresenceEntry `json:"entries"`
	At      time.Time       `json:"at"`
}

// Online reports whether userID appears in the snapshot.
func (s PresenceSnapshot) Online(userID string) bool {
	for _, e := range s.Entries {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// UserIDs returns the set of online user ids.
func (s PresenceSnapshot) UserIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(s.Entries))
	for _, e := range s.Entries {
		ids[e.UserID] = struct{}{}
	}
	return ids
}

// SortPresence orders entries by display name, then user id.
func SortPresence(entries []PresenceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].UserID < entries[j].UserID
	})
}

// ConnectionStatus is the observable state of a client attachment.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)
