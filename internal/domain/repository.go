package domain

import (
	"context"
	"time"
)

// MessageRepository is the durable append-only message log.
type MessageRepository interface {
	// Insert stores a new message. The repository does not assign ids.
	Insert(ctx context.Context, m Message) error
	// Recent returns up to limit of the newest messages visible in view for
	// self, in any order. Callers sort.
	Recent(ctx context.Context, self string, view View, limit int) ([]Message, error)
}

// ProfileRepository is the batched profile and role lookup.
type ProfileRepository interface {
	// Profiles returns stored profiles keyed by user id. Unknown ids are absent.
	Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error)
	// Roles returns stored roles keyed by user id. Unknown ids are absent.
	Roles(ctx context.Context, userIDs []string) (map[string]Role, error)
	// All lists every stored profile with its role applied.
	All(ctx context.Context) ([]Profile, error)
	// Upsert records a profile and its role.
	Upsert(ctx context.Context, p Profile) error
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time
