package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo wraps a MemoryRepository and counts batched lookups.
type countingRepo struct {
	*MemoryRepository
	mu          sync.Mutex
	profileHits int
	roleHits    int
	lastBatch   []string
	profileErr  error
	roleErr     error
}

func (c *countingRepo) Profiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	c.mu.Lock()
	c.profileHits++
	c.lastBatch = append([]string(nil), ids...)
	c.mu.Unlock()
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	return c.MemoryRepository.Profiles(ctx, ids)
}

func (c *countingRepo) Roles(ctx context.Context, ids []string) (map[string]domain.Role, error) {
	c.mu.Lock()
	c.roleHits++
	c.mu.Unlock()
	if c.roleErr != nil {
		return nil, c.roleErr
	}
	return c.MemoryRepository.Roles(ctx, ids)
}

func seededRepo(t *testing.T) *countingRepo {
	t.Helper()
	mem := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, mem.Upsert(ctx, domain.Profile{UserID: "alice", Name: "Alice", Role: domain.RoleTeacher, AvatarURL: "https://img/alice.png"}))
	require.NoError(t, mem.Upsert(ctx, domain.Profile{UserID: "bob", Name: "Bob", Role: domain.RoleStudent}))
	require.NoError(t, mem.Upsert(ctx, domain.Profile{UserID: "nameless", Name: " "}))
	return &countingRepo{MemoryRepository: mem}
}

func TestResolve_BatchesAndDefaults(t *testing.T) {
	repo := seededRepo(t)
	r := NewResolver(repo)

	got := r.Resolve(context.Background(), []string{"alice", "bob", "alice", "ghost", "", "nameless"})

	assert.Equal(t, 1, repo.profileHits)
	assert.Equal(t, 1, repo.roleHits)
	assert.ElementsMatch(t, []string{"alice", "bob", "ghost", "nameless"}, repo.lastBatch)

	assert.Equal(t, "Alice", got["alice"].Name)
	assert.Equal(t, domain.RoleTeacher, got["alice"].Role)
	assert.Equal(t, "https://img/alice.png", got["alice"].AvatarURL)
	assert.Equal(t, domain.UnknownProfile("ghost"), got["ghost"])
	assert.Equal(t, domain.UnknownName, got["nameless"].Name)
	assert.NotContains(t, got, "")
}

func TestResolve_UsesCacheUntilExpiry(t *testing.T) {
	repo := seededRepo(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(repo, WithCacheTTL(time.Minute), WithResolverClock(func() time.Time { return now }))
	ctx := context.Background()

	r.Resolve(ctx, []string{"alice"})
	r.Resolve(ctx, []string{"alice"})
	assert.Equal(t, 1, repo.profileHits)

	now = now.Add(2 * time.Minute)
	r.Resolve(ctx, []string{"alice"})
	assert.Equal(t, 2, repo.profileHits)

	r.Invalidate("alice")
	r.Resolve(ctx, []string{"alice"})
	assert.Equal(t, 3, repo.profileHits)
}

func TestResolve_ErrorsDegradeToSentinel(t *testing.T) {
	repo := seededRepo(t)
	repo.profileErr = errors.New("db down")
	r := NewResolver(repo)

	got := r.Resolve(context.Background(), []string{"alice"})
	assert.Equal(t, domain.UnknownProfile("alice"), got["alice"])

	// failures are not cached
	repo.profileErr = nil
	assert.Equal(t, "Alice", r.ResolveOne(context.Background(), "alice").Name)
}

func TestResolve_RoleLookupFailureKeepsNames(t *testing.T) {
	repo := seededRepo(t)
	repo.roleErr = errors.New("roles table missing")
	r := NewResolver(repo)

	p := r.ResolveOne(context.Background(), "alice")
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, domain.RoleTeacher, p.Role)
}

func TestRegister(t *testing.T) {
	repo := seededRepo(t)
	r := NewResolver(repo)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, domain.Identity{UserID: "dana", DisplayName: "Dana", Role: "teacher"}))
	p := r.ResolveOne(ctx, "dana")
	assert.Equal(t, "Dana", p.Name)
	assert.Equal(t, domain.RoleTeacher, p.Role)
	assert.Equal(t, 0, repo.profileHits, "registered identity is served from cache")

	assert.ErrorIs(t, r.Register(ctx, domain.Identity{}), domain.ErrNotAuthenticated)
}
