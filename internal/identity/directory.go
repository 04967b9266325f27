package identity

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nfrund/peerchat/internal/domain"
)

// PresenceSource exposes the latest presence snapshot.
type PresenceSource interface {
	Snapshot() domain.PresenceSnapshot
}

// Query filters a directory listing. Empty fields match everything.
type Query struct {
	Search        string
	Role          domain.Role
	ExcludeUserID string
}

// Directory lists every known user for starting private conversations.
type Directory struct {
	repo     domain.ProfileRepository
	presence PresenceSource
	lang     language.Tag
}

// NewDirectory creates a directory. presence may be nil.
func NewDirectory(repo domain.ProfileRepository, presence PresenceSource) *Directory {
	return &Directory{repo: repo, presence: presence, lang: language.Und}
}

// List returns users matching q, online users first, then by display name
// in locale-aware order.
func (d *Directory) List(ctx context.Context, q Query) ([]domain.DirectoryEntry, error) {
	profiles, err := d.repo.All(ctx)
	if err != nil {
		return nil, domain.Transient("list profiles", err)
	}

	var snap domain.PresenceSnapshot
	if d.presence != nil {
		snap = d.presence.Snapshot()
	}
	online := snap.UserIDs()

	byID := make(map[string]domain.DirectoryEntry, len(profiles)+len(snap.Entries))
	for _, p := range profiles {
		_, on := online[p.UserID]
		byID[p.UserID] = domain.DirectoryEntry{Profile: p, Online: on}
	}
	// Online users without a stored profile still show up.
	for _, e := range snap.Entries {
		if _, ok := byID[e.UserID]; !ok {
			byID[e.UserID] = domain.DirectoryEntry{
				Profile: domain.Profile{UserID: e.UserID, Name: e.DisplayName, Role: e.Role},
				Online:  true,
			}
		}
	}

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(q.Search))

	out := make([]domain.DirectoryEntry, 0, len(byID))
	for id, e := range byID {
		if id == q.ExcludeUserID {
			continue
		}
		if q.Role != "" && e.Role != q.Role {
			continue
		}
		if needle != "" && !strings.Contains(fold.String(e.Name), needle) {
			continue
		}
		out = append(out, e)
	}

	col := collate.New(d.lang, collate.IgnoreCase)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		if c := col.CompareString(out[i].Name, out[j].Name); c != 0 {
			return c < 0
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
