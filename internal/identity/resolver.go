package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
)

const defaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	profile domain.Profile
	expires time.Time
}

// Resolver turns user ids into display profiles with one batched lookup per
// call, caching results for a short time. Lookups never fail: unknown users
// and store errors both yield domain.UnknownProfile.
type Resolver struct {
	repo   domain.ProfileRepository
	ttl    time.Duration
	now    domain.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL sets how long resolved profiles are reused. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithResolverClock replaces time.Now.
func WithResolverClock(now domain.Clock) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over repo.
func NewResolver(repo domain.ProfileRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:   repo,
		ttl:    defaultCacheTTL,
		now:    time.Now,
		logger: slog.Default().With("component", "identity"),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a profile for every non-empty id in userIDs.
func (r *Resolver) Resolve(ctx context.Context, userIDs []string) map[string]domain.Profile {
	out := make(map[string]domain.Profile, len(userIDs))
	missing := make([]string, 0, len(userIDs))

	now := r.now()
	r.mu.RLock()
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, done := out[id]; done {
			continue
		}
		if e, ok := r.cache[id]; ok && now.Before(e.expires) {
			out[id] = e.profile
			continue
		}
		out[id] = domain.UnknownProfile(id)
		missing = append(missing, id)
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return out
	}

	profiles, err := r.repo.Profiles(ctx, missing)
	if err != nil {
		r.logger.WarnContext(ctx, "Profile lookup failed, using placeholder names", "count", len(missing), "error", err)
		return out
	}
	roles, err := r.repo.Roles(ctx, missing)
	if err != nil {
		r.logger.WarnContext(ctx, "Role lookup failed, defaulting to student", "count", len(missing), "error", err)
		roles = nil
	}

	resolved := make(map[string]domain.Profile, len(missing))
	for _, id := range missing {
		p := domain.UnknownProfile(id)
		if stored, ok := profiles[id]; ok {
			p = stored
			p.UserID = id
			if strings.TrimSpace(p.Name) == "" {
				p.Name = domain.UnknownName
			}
			p.Role = domain.ParseRole(string(p.Role))
		}
		if role, ok := roles[id]; ok {
			p.Role = domain.ParseRole(string(role))
		}
		resolved[id] = p
		out[id] = p
	}

	if r.ttl > 0 {
		r.mu.Lock()
		for id, p := range resolved {
			r.cache[id] = cacheEntry{profile: p, expires: now.Add(r.ttl)}
		}
		r.mu.Unlock()
	}
	return out
}

// ResolveOne is Resolve for a single id.
func (r *Resolver) ResolveOne(ctx context.Context, userID string) domain.Profile {
	if p, ok := r.Resolve(ctx, []string{userID})[userID]; ok {
		return p
	}
	return domain.UnknownProfile(userID)
}

// Register stores the profile of an authenticated identity and refreshes
// the cache, so later lookups see the name and role from the auth provider.
func (r *Resolver) Register(ctx context.Context, id domain.Identity) error {
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return err
	}
	p := id.Profile()
	p.UserID = id.UserID
	if err := r.repo.Upsert(ctx, p); err != nil {
		return domain.Transient("store profile", err)
	}
	r.mu.Lock()
	r.cache[id.UserID] = cacheEntry{profile: p, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return nil
}

// Invalidate drops a cached profile.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}
