package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/identity"
	"github.com/nfrund/peerchat/internal/messages"
	"github.com/nfrund/peerchat/internal/presence"
	"github.com/nfrund/peerchat/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Subscriber that keeps everything it is handed.
type recorder struct {
	id     string
	userID string

	mu       sync.Mutex
	view     domain.View
	messages []domain.Message
	notes    []domain.Notification
	presence []domain.PresenceSnapshot
	resyncs  int

	gate chan struct{}
}

func newRecorder(id, userID string) *recorder {
	return &recorder{id: id, userID: userID}
}

func (r *recorder) ID() string     { return r.id }
func (r *recorder) UserID() string { return r.userID }

func (r *recorder) CurrentView() domain.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

func (r *recorder) setView(v domain.View) {
	r.mu.Lock()
	r.view = v
	r.mu.Unlock()
}

func (r *recorder) DeliverMessage(m domain.Message) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recorder) DeliverNotification(n domain.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) DeliverPresence(s domain.PresenceSnapshot) {
	r.mu.Lock()
	r.presence = append(r.presence, s)
	r.mu.Unlock()
}

func (r *recorder) Resync() {
	r.mu.Lock()
	r.resyncs++
	r.mu.Unlock()
}

func (r *recorder) contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Content
	}
	return out
}

func (r *recorder) notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.notes...)
}

func (r *recorder) lastPresence() (domain.PresenceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.presence) == 0 {
		return domain.PresenceSnapshot{}, false
	}
	return r.presence[len(r.presence)-1], true
}

type fixture struct {
	router   *Router
	messages *messages.Service
	presence *presence.Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := pubsub.NewWatermillBridge()
	pres := presence.NewService(bus, presence.WithCleanupInterval(time.Hour))
	msgs := messages.NewService(messages.NewMemoryRepository(), identity.NewResolver(identity.NewMemoryRepository()), bus)
	r := New(bus, pres, opts...)
	require.NoError(t, r.Start(ctx))

	t.Cleanup(func() {
		r.Close(context.Background())
		cancel()
		pres.Shutdown()
		_ = bus.Close()
	})
	return &fixture{router: r, messages: msgs, presence: pres}
}

func ident(id string) domain.Identity {
	return domain.Identity{UserID: id, DisplayName: id}
}

func TestAttach_DeliversCurrentPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newRecorder("a1", "alice")
	_, err := f.router.Attach(ctx, alice, ident("alice"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, ok := alice.lastPresence()
		return ok && len(snap.Entries) == 1 && snap.Entries[0].UserID == "alice"
	}, time.Second, 10*time.Millisecond)

	bob := newRecorder("b1", "bob")
	_, err = f.router.Attach(ctx, bob, ident("bob"))
	require.NoError(t, err)

	for _, rec := range []*recorder{alice, bob} {
		assert.Eventually(t, func() bool {
			snap, ok := rec.lastPresence()
			return ok && snap.Online("alice") && snap.Online("bob")
		}, time.Second, 10*time.Millisecond)
	}
}

func TestAttach_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := newRecorder("a1", "alice")
	h1, err := f.router.Attach(ctx, rec, ident("alice"))
	require.NoError(t, err)
	h2, err := f.router.Attach(ctx, rec, ident("alice"))
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, f.router.Count())
}

func TestAttach_RejectsMismatchedIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Attach(context.Background(), newRecorder("a1", "alice"), ident("mallory"))
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.Zero(t, f.router.Count())
}

func TestAttach_BeforeStart(t *testing.T) {
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()
	pres := presence.NewService(bus)
	defer pres.Shutdown()

	r := New(bus, pres)
	_, err := r.Attach(context.Background(), newRecorder("a1", "alice"), ident("alice"))
	assert.ErrorIs(t, err, domain.ErrTransientTransport)
}

func TestDetach_LeavesPresenceAndStopsDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := newRecorder("a1", "alice")
	h, err := f.router.Attach(ctx, rec, ident("alice"))
	require.NoError(t, err)
	assert.True(t, h.Active())

	h.Detach(ctx)
	h.Detach(ctx)
	assert.False(t, h.Active())
	assert.Zero(t, f.router.Count())
	assert.Empty(t, f.presence.Sync())

	_, err = f.messages.Append(ctx, "bob", domain.Broadcast(), "after detach")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.contents())
}

// A directed message never reaches a third party, and a broadcast reaches
// everyone in the global room.
func TestRouting_DirectedMessagesStayPrivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newRecorder("a1", "alice")
	bob := newRecorder("b1", "bob")
	carol := newRecorder("c1", "carol")
	bob.setView(domain.PrivateWith("alice"))
	carol.setView(domain.PrivateWith("alice"))

	for _, rec := range []*recorder{alice, bob, carol} {
		_, err := f.router.Attach(ctx, rec, ident(rec.userID))
		require.NoError(t, err)
	}

	_, err := f.messages.Append(ctx, "alice", domain.DirectedTo("bob"), "secret")
	require.NoError(t, err)
	_, err = f.messages.Append(ctx, "alice", domain.Broadcast(), "hello all")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(bob.contents()) == 1 && len(alice.contents()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"secret"}, bob.contents())
	assert.Equal(t, []string{"hello all"}, alice.contents(), "sender in global room sees only the broadcast")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, carol.contents())
	for _, n := range carol.notifications() {
		assert.NotEqual(t, "secret", n.Message.Content)
	}
}

func TestRouting_ViewIsReadAtDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bob := newRecorder("b1", "bob")
	_, err := f.router.Attach(ctx, bob, ident("bob"))
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, "alice", domain.DirectedTo("bob"), "dm one")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(bob.notifications()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, bob.contents(), "global view does not show a directed message")
	assert.False(t, bob.notifications()[0].InView)

	bob.setView(domain.PrivateWith("alice"))
	_, err = f.messages.Append(ctx, "alice", domain.DirectedTo("bob"), "dm two")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(bob.contents()) == 1 && len(bob.notifications()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"dm two"}, bob.contents())
	assert.True(t, bob.notifications()[1].InView)
}

func TestRouting_NotificationsSkipOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newRecorder("a1", "alice")
	_, err := f.router.Attach(ctx, alice, ident("alice"))
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, "alice", domain.Broadcast(), "mine")
	require.NoError(t, err)
	_, err = f.messages.Append(ctx, "bob", domain.Broadcast(), "theirs")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(alice.contents()) == 2 && len(alice.notifications()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"mine", "theirs"}, alice.contents())
	assert.Equal(t, "theirs", alice.notifications()[0].Message.Content)
}

func TestRouting_PreservesPublishOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := newRecorder("a1", "alice")
	_, err := f.router.Attach(ctx, rec, ident("alice"))
	require.NoError(t, err)

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("m%02d", i)
		_, err := f.messages.Append(ctx, "bob", domain.Broadcast(), want[i])
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return len(rec.contents()) == len(want)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, rec.contents())
}

func TestOverflow_DropsAndRequestsResync(t *testing.T) {
	f := newFixture(t, WithQueueSize(1))
	ctx := context.Background()

	rec := newRecorder("a1", "alice")
	rec.gate = make(chan struct{})
	_, err := f.router.Attach(ctx, rec, ident("alice"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.messages.Append(ctx, "bob", domain.Broadcast(), fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	close(rec.gate)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.resyncs == 1
	}, time.Second, 10*time.Millisecond)
	assert.Less(t, len(rec.contents()), 5)
}

func TestPresence_CoalescesToNewest(t *testing.T) {
	r := New(nil, nil)
	rec := newRecorder("a1", "alice")
	a := newAttachment(r, rec, 4)

	a.offerPresence(domain.PresenceSnapshot{Version: 1})
	a.offerPresence(domain.PresenceSnapshot{Version: 3})
	a.offerPresence(domain.PresenceSnapshot{Version: 2})
	a.start()
	defer a.stop()

	assert.Eventually(t, func() bool {
		snap, ok := rec.lastPresence()
		return ok && snap.Version == 3
	}, time.Second, 10*time.Millisecond)

	a.offerPresence(domain.PresenceSnapshot{Version: 2})
	a.offerPresence(domain.PresenceSnapshot{Version: 3})
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.presence) == 2
	}, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, s := range rec.presence {
		assert.Equal(t, uint64(3), s.Version)
	}
}

func TestConcurrentAttachDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			user := fmt.Sprintf("user%d", g)
			for i := 0; i < 10; i++ {
				rec := newRecorder(fmt.Sprintf("%s-%d", user, i), user)
				h, err := f.router.Attach(ctx, rec, ident(user))
				if !assert.NoError(t, err) {
					return
				}
				_ = h.Heartbeat(ctx)
				h.Detach(ctx)
			}
		}(g)
	}
	_, err := f.messages.Append(ctx, "teacher", domain.Broadcast(), "during churn")
	require.NoError(t, err)
	wg.Wait()

	assert.Zero(t, f.router.Count())
	assert.Empty(t, f.presence.Sync())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Attach(ctx, newRecorder("a1", "alice"), ident("alice"))
	require.NoError(t, err)

	f.router.Close(ctx)
	assert.Zero(t, f.router.Count())
	assert.Empty(t, f.presence.Sync())

	_, err = f.router.Attach(ctx, newRecorder("b1", "bob"), ident("bob"))
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.ErrorIs(t, f.router.Start(ctx), domain.ErrClosed)
}

// Two processes share one bus. Each publishes only its own sessions, and the
// router on either side delivers the union.
func TestPresence_MergesSnapshotsFromPeerProcesses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := pubsub.NewWatermillBridge()
	defer bus.Close()

	presA := presence.NewService(bus, presence.WithOrigin("node-a"), presence.WithCleanupInterval(time.Hour))
	defer presA.Shutdown()
	presB := presence.NewService(bus, presence.WithOrigin("node-b"), presence.WithCleanupInterval(time.Hour))
	defer presB.Shutdown()

	routerA := New(bus, presA)
	require.NoError(t, routerA.Start(ctx))
	defer routerA.Close(context.Background())
	routerB := New(bus, presB)
	require.NoError(t, routerB.Start(ctx))
	defer routerB.Close(context.Background())

	alice := newRecorder("a1", "alice")
	_, err := routerA.Attach(ctx, alice, ident("alice"))
	require.NoError(t, err)

	// bob's sessions live only in the second process; its snapshots carry
	// version numbers that overlap the first process's.
	bob := newRecorder("b1", "bob")
	_, err = routerB.Attach(ctx, bob, ident("bob"))
	require.NoError(t, err)
	bob2 := newRecorder("b2", "bob2")
	_, err = routerB.Attach(ctx, bob2, ident("bob2"))
	require.NoError(t, err)

	want := []string{"alice", "bob", "bob2"}
	assert.Eventually(t, func() bool {
		snap, ok := alice.lastPresence()
		return ok && assert.ObjectsAreEqual(want, presenceIDs(snap))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		snap, ok := bob.lastPresence()
		return ok && assert.ObjectsAreEqual(want, presenceIDs(snap))
	}, 2*time.Second, 10*time.Millisecond)

	// Both processes report the same merged set.
	assert.ElementsMatch(t, want, presenceIDs(presA.Snapshot()))
	assert.ElementsMatch(t, want, presenceIDs(presB.Snapshot()))
}

func presenceIDs(snap domain.PresenceSnapshot) []string {
	out := make([]string, len(snap.Entries))
	for i, e := range snap.Entries {
		out[i] = e.UserID
	}
	return out
}
