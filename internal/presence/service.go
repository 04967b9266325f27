package presence

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/metrics"
	"github.com/nfrund/peerchat/internal/pubsub"
)

const (
	// DefaultHeartbeatInterval is how often attached sessions are expected to heartbeat.
	DefaultHeartbeatInterval = 30 * time.Second

	// StaleThresholdMultiplier is how many missed heartbeats are tolerated.
	StaleThresholdMultiplier = 3

	// DefaultStaleThreshold is the age after which a silent session is dropped.
	DefaultStaleThreshold = DefaultHeartbeatInterval * StaleThresholdMultiplier

	// DefaultCleanupInterval is how often stale sessions are swept.
	DefaultCleanupInterval = 30 * time.Second
)

// session is one attached client. A user may hold several.
type session struct {
	id       string
	identity domain.Identity
	onlineAt time.Time
	lastSeen time.Time
	seq      uint64
}

// remoteSnapshot is the latest snapshot heard from another process.
type remoteSnapshot struct {
	snap     domain.PresenceSnapshot
	lastSeen time.Time
}

// Service tracks which users are online. Sessions move through
// Announce -> Heartbeat* -> Leave (or expiry). Every change to the
// deduplicated user set produces a new versioned snapshot that replaces the
// previous one and is published on SnapshotPublished, tagged with this
// process's origin.
//
// Processes sharing a bus each publish only their own sessions. Snapshots
// from other origins are merged into the view returned by Snapshot, with
// versions compared per origin.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*session            // sessionID -> session
	byUser   map[string]map[string]struct{} // userID -> sessionIDs
	seq      uint64

	// Users whose last session left while the offline debounce runs.
	lingering map[string]domain.PresenceEntry
	debounce  map[string]*time.Timer

	origin  string
	version uint64
	local   atomic.Pointer[domain.PresenceSnapshot]

	// Merged view of local and remote sessions. Guarded by mu for writes.
	remotes map[string]remoteSnapshot
	merged  uint64
	current atomic.Pointer[domain.PresenceSnapshot]

	publishMu     sync.Mutex
	lastPublished uint64

	publisher pubsub.Publisher
	logger    *slog.Logger
	now       domain.Clock

	staleThreshold       time.Duration
	cleanupInterval      time.Duration
	offlineDebounceDelay time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Option is a function that configures a Service.
type Option func(*Service)

// WithStaleThreshold sets the age after which a session without heartbeat is dropped.
func WithStaleThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.staleThreshold = d
		}
	}
}

// WithCleanupInterval sets how often stale sessions are swept.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithOfflineDebounce keeps a user listed for d after their last session
// leaves, so a page reload does not flap them offline. Zero, the default,
// removes users immediately.
func WithOfflineDebounce(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.offlineDebounceDelay = d
		}
	}
}

// WithOrigin sets the id this process tags its snapshots with. It must be
// unique among processes sharing a bus and defaults to a random uuid.
func WithOrigin(origin string) Option {
	return func(s *Service) {
		if origin != "" {
			s.origin = origin
		}
	}
}

// WithClock replaces time.Now for heartbeat bookkeeping.
func WithClock(now domain.Clock) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a presence tracker and starts its cleanup loop.
func NewService(publisher pubsub.Publisher, opts ...Option) *Service {
	svc := &Service{
		sessions:        make(map[string]*session),
		byUser:          make(map[string]map[string]struct{}),
		lingering:       make(map[string]domain.PresenceEntry),
		debounce:        make(map[string]*time.Timer),
		remotes:         make(map[string]remoteSnapshot),
		origin:          uuid.NewString(),
		publisher:       publisher,
		logger:          slog.Default().With("service", "presence"),
		now:             func() time.Time { return time.Now().UTC() },
		staleThreshold:  DefaultStaleThreshold,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	empty := domain.PresenceSnapshot{Entries: []domain.PresenceEntry{}, At: svc.now()}
	svc.local.Store(&empty)
	svc.current.Store(&empty)

	go svc.startCleanup()

	svc.logger.Info("Presence service initialized",
		"origin", svc.origin,
		"stale_threshold", svc.staleThreshold,
		"offline_debounce", svc.offlineDebounceDelay)
	return svc
}

// Announce registers sessionID for identity, or refreshes it when already
// known. Announcing the same session twice is harmless.
func (s *Service) Announce(ctx context.Context, sessionID string, identity domain.Identity) error {
	identity = identity.Normalize()
	if err := identity.Validate(); err != nil {
		return err
	}
	if sessionID == "" {
		return domain.Invalid("empty session id")
	}

	s.mu.Lock()
	now := s.now()
	s.seq++
	if existing, ok := s.sessions[sessionID]; ok {
		if existing.identity.UserID != identity.UserID {
			s.mu.Unlock()
			return domain.Invalid("session %s belongs to another user", sessionID)
		}
		existing.identity = identity
		existing.lastSeen = now
		existing.seq = s.seq
	} else {
		s.sessions[sessionID] = &session{id: sessionID, identity: identity, onlineAt: now, lastSeen: now, seq: s.seq}
		if s.byUser[identity.UserID] == nil {
			s.byUser[identity.UserID] = make(map[string]struct{})
			s.logger.InfoContext(ctx, "User came online", "user_id", identity.UserID, "session_id", sessionID)
		}
		s.byUser[identity.UserID][sessionID] = struct{}{}
	}
	s.cancelDebounceLocked(identity.UserID)
	snap, changed := s.rebuildLocked()
	s.mu.Unlock()

	if changed {
		s.publish(ctx, snap)
	}
	return nil
}

// Heartbeat marks sessionID alive. An unknown session has expired or was
// never announced; the caller must announce again.
func (s *Service) Heartbeat(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrPresenceDesync
	}
	sess.lastSeen = s.now()
	return nil
}

// Leave removes sessionID. The user goes offline when it was their last
// session, after the offline debounce if one is configured.
func (s *Service) Leave(ctx context.Context, sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	userID := sess.identity.UserID
	s.removeSessionLocked(sess)

	if len(s.byUser[userID]) == 0 && s.offlineDebounceDelay > 0 {
		s.lingering[userID] = entryFor(sess)
		s.debounce[userID] = time.AfterFunc(s.offlineDebounceDelay, func() {
			s.handleDebouncedOffline(userID)
		})
		s.logger.DebugContext(ctx, "User has no more sessions, scheduling offline",
			"user_id", userID, "debounce_delay", s.offlineDebounceDelay)
	}

	snap, changed := s.rebuildLocked()
	s.mu.Unlock()

	if changed {
		s.publish(ctx, snap)
	}
}

func (s *Service) handleDebouncedOffline(userID string) {
	s.mu.Lock()
	if _, pending := s.debounce[userID]; !pending {
		s.mu.Unlock()
		return
	}
	delete(s.debounce, userID)
	delete(s.lingering, userID)
	s.logger.Info("User went offline after debounce period", "user_id", userID)
	snap, changed := s.rebuildLocked()
	s.mu.Unlock()

	if changed {
		s.publish(context.Background(), snap)
	}
}

func (s *Service) cancelDebounceLocked(userID string) {
	if t, ok := s.debounce[userID]; ok {
		t.Stop()
		delete(s.debounce, userID)
		delete(s.lingering, userID)
		s.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", userID)
	}
}

func (s *Service) removeSessionLocked(sess *session) {
	delete(s.sessions, sess.id)
	userID := sess.identity.UserID
	delete(s.byUser[userID], sess.id)
	if len(s.byUser[userID]) == 0 {
		delete(s.byUser, userID)
	}
}

// Origin returns the id this process tags its snapshots with.
func (s *Service) Origin() string {
	return s.origin
}

// Sync returns the current online set, one entry per user.
func (s *Service) Sync() []domain.PresenceEntry {
	return s.Snapshot().Entries
}

// Snapshot returns the latest merged snapshot without taking the write lock.
func (s *Service) Snapshot() domain.PresenceSnapshot {
	snap := *s.current.Load()
	snap.Entries = append([]domain.PresenceEntry(nil), snap.Entries...)
	return snap
}

// RequestSync republishes the local snapshot. Consumers receive the merged
// view when it comes back around the bus.
func (s *Service) RequestSync(ctx context.Context) {
	snap := s.local.Load()
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.send(ctx, *snap)
}

// Observe folds a snapshot received from the bus into the merged view.
// Snapshots from this process, or without an origin, return the current
// merged view. A snapshot from another origin that is not newer than the
// last one seen from it is ignored. The bool reports whether the caller
// should deliver the returned snapshot.
func (s *Service) Observe(origin string, snap domain.PresenceSnapshot) (domain.PresenceSnapshot, bool) {
	if origin == "" || origin == s.origin {
		return s.Snapshot(), true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known := s.remotes[origin]
	if known && snap.Version <= prev.snap.Version {
		prev.lastSeen = s.now()
		s.remotes[origin] = prev
		return domain.PresenceSnapshot{}, false
	}
	snap.Entries = append([]domain.PresenceEntry(nil), snap.Entries...)
	s.remotes[origin] = remoteSnapshot{snap: snap, lastSeen: s.now()}
	if !known {
		s.logger.Info("Tracking presence from peer process", "origin", origin)
	}
	if !s.remergeLocked() {
		return domain.PresenceSnapshot{}, false
	}
	return s.Snapshot(), true
}

// rebuildLocked recomputes the deduplicated local entries and, when they
// differ from the local snapshot, stores a new version and re-merges.
func (s *Service) rebuildLocked() (domain.PresenceSnapshot, bool) {
	latest := make(map[string]*session, len(s.byUser))
	earliest := make(map[string]time.Time, len(s.byUser))
	for _, sess := range s.sessions {
		uid := sess.identity.UserID
		if cur, ok := latest[uid]; !ok || sess.seq > cur.seq {
			latest[uid] = sess
		}
		if t, ok := earliest[uid]; !ok || sess.onlineAt.Before(t) {
			earliest[uid] = sess.onlineAt
		}
	}

	entries := make([]domain.PresenceEntry, 0, len(latest)+len(s.lingering))
	for uid, sess := range latest {
		e := entryFor(sess)
		e.OnlineAt = earliest[uid]
		entries = append(entries, e)
	}
	for uid, e := range s.lingering {
		if _, ok := latest[uid]; !ok {
			entries = append(entries, e)
		}
	}
	domain.SortPresence(entries)

	cur := s.local.Load()
	if reflect.DeepEqual(cur.Entries, entries) {
		return *cur, false
	}

	s.version++
	snap := domain.PresenceSnapshot{Version: s.version, Entries: entries, At: s.now()}
	s.local.Store(&snap)
	s.remergeLocked()
	return snap, true
}

// remergeLocked unions the local and remote entries, one per user with the
// earliest online time, and stores a new merged version when the set
// changed. Without remotes the merged versions track the local ones.
func (s *Service) remergeLocked() bool {
	origins := make([]string, 0, len(s.remotes))
	for o := range s.remotes {
		origins = append(origins, o)
	}
	sort.Strings(origins)

	byUser := make(map[string]domain.PresenceEntry)
	add := func(entries []domain.PresenceEntry) {
		for _, e := range entries {
			if cur, ok := byUser[e.UserID]; ok && !e.OnlineAt.Before(cur.OnlineAt) {
				continue
			}
			byUser[e.UserID] = e
		}
	}
	add(s.local.Load().Entries)
	for _, o := range origins {
		add(s.remotes[o].snap.Entries)
	}

	entries := make([]domain.PresenceEntry, 0, len(byUser))
	for _, e := range byUser {
		entries = append(entries, e)
	}
	domain.SortPresence(entries)

	if reflect.DeepEqual(s.current.Load().Entries, entries) {
		return false
	}
	s.merged++
	s.current.Store(&domain.PresenceSnapshot{Version: s.merged, Entries: entries, At: s.now()})
	metrics.PresenceOnlineUsers.Set(float64(len(entries)))
	return true
}

func entryFor(sess *session) domain.PresenceEntry {
	return domain.PresenceEntry{
		UserID:      sess.identity.UserID,
		DisplayName: sess.identity.DisplayName,
		Role:        sess.identity.Role,
		OnlineAt:    sess.onlineAt,
	}
}

// publish sends snap unless a newer snapshot already went out.
func (s *Service) publish(ctx context.Context, snap domain.PresenceSnapshot) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if snap.Version <= s.lastPublished {
		return
	}
	// Send the newest state, which may be ahead of snap.
	latest := *s.local.Load()
	s.send(ctx, latest)
}

func (s *Service) send(ctx context.Context, snap domain.PresenceSnapshot) {
	if snap.Version > s.lastPublished {
		s.lastPublished = snap.Version
	}
	if s.publisher == nil {
		return
	}
	err := pubsub.Publish(ctx, s.publisher, SnapshotPublished, "", snap, map[string]string{
		pubsub.MetaVersion: strconv.FormatUint(snap.Version, 10),
		pubsub.MetaOrigin:  s.origin,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish presence snapshot",
			"error", err, "version", snap.Version, "topic", SnapshotPublished.Name())
		return
	}
	metrics.PresenceSnapshots.Inc()
	s.logger.DebugContext(ctx, "Published presence snapshot", "version", snap.Version, "user_count", len(snap.Entries))
}

func (s *Service) startCleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupStalePresences()
			s.expireRemotes()
			// Keeps peers from expiring this origin.
			s.RequestSync(context.Background())
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupStalePresences drops sessions whose last heartbeat is older than
// the stale threshold. Expired users skip the offline debounce.
func (s *Service) cleanupStalePresences() {
	s.mu.Lock()
	threshold := s.now().Add(-s.staleThreshold)
	var expired []string
	for _, sess := range s.sessions {
		if sess.lastSeen.Before(threshold) {
			s.removeSessionLocked(sess)
			expired = append(expired, sess.id)
		}
	}
	if len(expired) == 0 {
		s.mu.Unlock()
		return
	}
	snap, changed := s.rebuildLocked()
	s.mu.Unlock()

	metrics.PresenceExpired.Add(float64(len(expired)))
	s.logger.Info("Cleaned up stale presences", "sessions_removed", len(expired))
	if changed {
		s.publish(context.Background(), snap)
	}
}

// expireRemotes forgets origins that have not published within the stale
// threshold, such as a process that crashed without leaving.
func (s *Service) expireRemotes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	threshold := s.now().Add(-s.staleThreshold)
	expired := 0
	for o, r := range s.remotes {
		if r.lastSeen.Before(threshold) {
			delete(s.remotes, o)
			expired++
			s.logger.Warn("Dropped presence from silent peer process", "origin", o, "last_seen", r.lastSeen)
		}
	}
	if expired > 0 {
		s.remergeLocked()
	}
}

// Shutdown stops the cleanup loop and pending debounce timers.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		s.mu.Lock()
		for uid, t := range s.debounce {
			t.Stop()
			delete(s.debounce, uid)
		}
		s.mu.Unlock()
	})
}
