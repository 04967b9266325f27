package database

import (
	"context"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

type profileRecord struct {
	ID        *models.RecordID `json:"id,omitempty"`
	UserID    string           `json:"user_id"`
	Name      string           `json:"name"`
	Role      string           `json:"role"`
	AvatarURL string           `json:"avatar_url,omitempty"`
}

func (r profileRecord) toDomain() domain.Profile {
	name := r.Name
	if name == "" {
		name = domain.UnknownName
	}
	return domain.Profile{
		UserID:    r.UserID,
		Name:      name,
		Role:      domain.ParseRole(r.Role),
		AvatarURL: r.AvatarURL,
	}
}

// ProfileStore is the SurrealDB domain.ProfileRepository. Profiles live in
// the profile table keyed by user id.
type ProfileStore struct {
	conn DBConnection
}

// NewProfileStore creates a store on conn.
func NewProfileStore(conn DBConnection) *ProfileStore {
	return &ProfileStore{conn: conn}
}

func (s *ProfileStore) query(ctx context.Context, op, query string, params map[string]any) ([]profileRecord, error) {
	ctx, cancel := timeoutFromContext(ctx, s.conn.QueryTimeout(), ContextKeyQueryTimeout)
	defer cancel()

	var rows []profileRecord
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[profileRecord](ctx, db, query, params)
		return err
	})
	if err != nil {
		return nil, WrapError(err, op)
	}
	return rows, nil
}

// Profiles implements domain.ProfileRepository.
func (s *ProfileStore) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.query(ctx, "load profiles",
		"SELECT * FROM profile WHERE user_id IN $ids", map[string]any{"ids": userIDs})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = r.toDomain()
	}
	return out, nil
}

// Roles implements domain.ProfileRepository.
func (s *ProfileStore) Roles(ctx context.Context, userIDs []string) (map[string]domain.Role, error) {
	out := make(map[string]domain.Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.query(ctx, "load roles",
		"SELECT user_id, role FROM profile WHERE user_id IN $ids", map[string]any{"ids": userIDs})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.UserID] = domain.ParseRole(r.Role)
	}
	return out, nil
}

// All implements domain.ProfileRepository.
func (s *ProfileStore) All(ctx context.Context) ([]domain.Profile, error) {
	rows, err := s.query(ctx, "list profiles", "SELECT * FROM profile", nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Upsert implements domain.ProfileRepository.
func (s *ProfileStore) Upsert(ctx context.Context, p domain.Profile) error {
	if p.UserID == "" {
		return domain.Invalid("profile without user id")
	}
	ctx, cancel := timeoutFromContext(ctx, s.conn.ExecuteTimeout(), ContextKeyExecuteTimeout)
	defer cancel()

	params := map[string]any{
		"rid": models.NewRecordID(profileTable, p.UserID),
		"data": profileRecord{
			UserID:    p.UserID,
			Name:      p.Name,
			Role:      p.Role.String(),
			AvatarURL: p.AvatarURL,
		},
	}
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, "UPSERT $rid CONTENT $data", params)
	})
	return WrapError(err, "upsert profile")
}
