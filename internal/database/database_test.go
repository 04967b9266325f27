package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestDBError(t *testing.T) {
	base := errors.New("boom")
	err := NewDBError(base, "load profiles").WithQuery("SELECT * FROM profile")

	assert.Equal(t, "load profiles (query: SELECT * FROM profile): boom", err.Error())
	assert.ErrorIs(t, err, base)
	assert.NotErrorIs(t, err, domain.ErrTransientTransport)

	wrapped := WrapError(err, "directory")
	var dbErr *DBError
	require.ErrorAs(t, wrapped, &dbErr)
	assert.Contains(t, wrapped.Error(), "directory: load profiles")

	assert.NoError(t, WrapError(nil, "noop"))
}

func TestDBError_ConnectionFailuresAreTransient(t *testing.T) {
	assert.ErrorIs(t, NewDBError(ErrNotConnected, "query"), domain.ErrTransientTransport)
	assert.ErrorIs(t, WrapError(errors.New("dial tcp: connection refused"), "query"), domain.ErrTransientTransport)
	assert.True(t, domain.IsRetryable(WrapError(errors.New("write: broken pipe"), "insert")))
}

func TestWrapError_DetectsDuplicates(t *testing.T) {
	err := WrapError(errors.New("Database record `message:abc` already exists"), "insert message")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{ErrNotConnected, true},
		{context.DeadlineExceeded, false},
		{errors.New("parse error"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isConnectionError(tt.err), "%v", tt.err)
	}
}

func TestRedactDBURL(t *testing.T) {
	assert.Equal(t, "ws://root:xxxxx@localhost:8000/rpc", redactDBURL("ws://root:secret@localhost:8000/rpc"))
	assert.Equal(t, "ws://localhost:8000/rpc", redactDBURL("ws://localhost:8000/rpc"))
	assert.Equal(t, "invalid-url", redactDBURL("://bad"))
}

func TestHasLimitClause(t *testing.T) {
	assert.True(t, hasLimitClause("SELECT * FROM message LIMIT 5"))
	assert.True(t, hasLimitClause("select * from message limit $limit"))
	assert.False(t, hasLimitClause("SELECT * FROM message WHERE unlimited = true"))
}

func TestTimeoutFromContext(t *testing.T) {
	ctx, cancel := timeoutFromContext(context.Background(), time.Hour, ContextKeyQueryTimeout)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), deadline, time.Minute)

	short := WithQueryTimeout(context.Background(), time.Second)
	ctx2, cancel2 := timeoutFromContext(short, time.Hour, ContextKeyQueryTimeout)
	defer cancel2()
	deadline, _ = ctx2.Deadline()
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)

	ctx3, cancel3 := timeoutFromContext(context.Background(), 0, ContextKeyExecuteTimeout)
	defer cancel3()
	_, ok = ctx3.Deadline()
	assert.False(t, ok)
}

func TestMessageRecordRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, to := range []domain.Recipient{domain.Broadcast(), domain.DirectedTo("bob")} {
		m := domain.Message{ID: "01HX", SenderID: "alice", Recipient: to, Content: "hi", CreatedAt: at}
		rec := toMessageRecord(m)
		assert.Equal(t, to.IsBroadcast(), rec.RecipientID == nil)

		back, err := rec.toDomain()
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}

	_, err := messageRecord{Content: "orphan"}.toDomain()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProfileRecordDefaults(t *testing.T) {
	p := profileRecord{UserID: "u1", Role: "wizard"}.toDomain()
	assert.Equal(t, domain.UnknownName, p.Name)
	assert.Equal(t, domain.RoleStudent, p.Role)
}

func TestLiveQueryID(t *testing.T) {
	id, err := liveQueryID("b4b3c8e2-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = liveQueryID("")
	assert.Error(t, err)
	_, err = liveQueryID(42)
	assert.Error(t, err)
}

func TestMessageIDFrom(t *testing.T) {
	id, err := messageIDFrom(map[string]any{"message_id": "m1", "id": models.NewRecordID("message", "m1")})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	id, err = messageIDFrom(map[any]any{"message_id": "m2"})
	require.NoError(t, err)
	assert.Equal(t, "m2", id)

	_, err = messageIDFrom(map[string]any{})
	assert.Error(t, err)
	_, err = messageIDFrom("nope")
	assert.Error(t, err)
}

type fakeLive struct {
	handler  LiveQueryHandler
	table    string
	unsubbed []string
}

func (f *fakeLive) Subscribe(_ context.Context, table string, _ *LiveQueryFilter, handler LiveQueryHandler) (*Subscription, error) {
	f.table = table
	f.handler = handler
	return &Subscription{ID: "sub-1", Table: table}, nil
}

func (f *fakeLive) Unsubscribe(id string) error {
	f.unsubbed = append(f.unsubbed, id)
	return nil
}

type mapLoader map[string]domain.Message

func (m mapLoader) Get(_ context.Context, id string) (domain.Message, error) {
	msg, ok := m[id]
	if !ok {
		return domain.Message{}, NewDBError(ErrNotFound, "get message "+id)
	}
	return msg, nil
}

type recordingAnnouncer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingAnnouncer) Announce(_ context.Context, m domain.Message) error {
	r.mu.Lock()
	r.ids = append(r.ids, m.ID)
	r.mu.Unlock()
	return nil
}

func TestMessageFeed_AnnouncesCreatesOnly(t *testing.T) {
	live := &fakeLive{}
	loader := mapLoader{
		"m1": {ID: "m1", SenderID: "alice", Content: "hi"},
		"m2": {ID: "m2", SenderID: "bob", Content: "yo"},
	}
	ann := &recordingAnnouncer{}
	feed := NewMessageFeed(live, loader, ann)

	ctx := context.Background()
	require.NoError(t, feed.Start(ctx))
	assert.Equal(t, messageTable, live.table)

	live.handler(ctx, ActionCreate, map[string]any{"message_id": "m1"})
	live.handler(ctx, ActionUpdate, map[string]any{"message_id": "m1"})
	live.handler(ctx, ActionCreate, map[string]any{"message_id": "missing"})
	live.handler(ctx, ActionCreate, map[string]any{"message_id": "m2"})

	assert.Equal(t, []string{"m1", "m2"}, ann.ids)

	require.NoError(t, feed.Stop())
	assert.Equal(t, []string{"sub-1"}, live.unsubbed)
}
