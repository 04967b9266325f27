package identity

import (
	"context"
	"testing"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPresence domain.PresenceSnapshot

func (f fixedPresence) Snapshot() domain.PresenceSnapshot { return domain.PresenceSnapshot(f) }

func names(entries []domain.DirectoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func directoryFixture(t *testing.T) *Directory {
	t.Helper()
	repo := NewMemoryRepository()
	ctx := context.Background()
	for _, p := range []domain.Profile{
		{UserID: "u1", Name: "zoë", Role: domain.RoleStudent},
		{UserID: "u2", Name: "Émile", Role: domain.RoleTeacher},
		{UserID: "u3", Name: "bruno", Role: domain.RoleStudent},
		{UserID: "u4", Name: "Ada", Role: domain.RoleTeacher},
		{UserID: "me", Name: "Me", Role: domain.RoleStudent},
	} {
		require.NoError(t, repo.Upsert(ctx, p))
	}
	presence := fixedPresence{Version: 3, Entries: []domain.PresenceEntry{
		{UserID: "u1", DisplayName: "zoë", Role: domain.RoleStudent, OnlineAt: time.Now()},
		{UserID: "u9", DisplayName: "Guest", Role: domain.RoleStudent, OnlineAt: time.Now()},
	}}
	return NewDirectory(repo, presence)
}

func TestDirectory_OnlineFirstThenCollated(t *testing.T) {
	d := directoryFixture(t)

	got, err := d.List(context.Background(), Query{ExcludeUserID: "me"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Guest", "zoë", "Ada", "bruno", "Émile"}, names(got))
	assert.True(t, got[0].Online)
	assert.True(t, got[1].Online)
	assert.False(t, got[2].Online)
}

func TestDirectory_SearchAndRoleFilter(t *testing.T) {
	d := directoryFixture(t)
	ctx := context.Background()

	got, err := d.List(ctx, Query{Search: "ÉMI"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Émile"}, names(got))

	got, err = d.List(ctx, Query{Role: domain.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Émile"}, names(got))

	got, err = d.List(ctx, Query{Search: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDirectory_WithoutPresence(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Upsert(context.Background(), domain.Profile{UserID: "a", Name: "A"}))

	got, err := NewDirectory(repo, nil).List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Online)
}
