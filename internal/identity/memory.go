package identity

import (
	"context"
	"sync"

	"github.com/nfrund/peerchat/internal/domain"
)

// MemoryRepository is an in-process domain.ProfileRepository.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	roles    map[string]domain.Role
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]domain.Profile),
		roles:    make(map[string]domain.Role),
	}
}

// Profiles implements domain.ProfileRepository.
func (m *MemoryRepository) Profiles(ctx context.Context, userIDs []string) (map[string]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Roles implements domain.ProfileRepository.
func (m *MemoryRepository) Roles(ctx context.Context, userIDs []string) (map[string]domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Role, len(userIDs))
	for _, id := range userIDs {
		if r, ok := m.roles[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// All implements domain.ProfileRepository.
func (m *MemoryRepository) All(ctx context.Context) ([]domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Profile, 0, len(m.profiles))
	for id, p := range m.profiles {
		if r, ok := m.roles[id]; ok {
			p.Role = r
		}
		out = append(out, p)
	}
	return out, nil
}

// Upsert implements domain.ProfileRepository.
func (m *MemoryRepository) Upsert(ctx context.Context, p domain.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.UserID == "" {
		return domain.Invalid("profile without user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	m.roles[p.UserID] = domain.ParseRole(string(p.Role))
	return nil
}
