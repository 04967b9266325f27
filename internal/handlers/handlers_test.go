package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/identity"
	"github.com/nfrund/peerchat/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	appended []domain.Draft
	fetched  []domain.View
	limits   []int
	msgs     []domain.Message
	err      error
}

func (f *fakeMessages) Append(_ context.Context, senderID string, to domain.Recipient, content string) (domain.Message, error) {
	if f.err != nil {
		return domain.Message{}, f.err
	}
	d := domain.NewDraft(senderID, to, content)
	if err := d.Validate(); err != nil {
		return domain.Message{}, err
	}
	f.appended = append(f.appended, d)
	return domain.Message{ID: "m1", SenderID: senderID, Recipient: to, Content: d.Content, CreatedAt: time.Unix(100, 0).UTC()}, nil
}

func (f *fakeMessages) Fetch(_ context.Context, _ string, view domain.View, limit int) ([]domain.Message, error) {
	f.fetched = append(f.fetched, view)
	f.limits = append(f.limits, limit)
	return f.msgs, f.err
}

type fakePresence struct{ snap domain.PresenceSnapshot }

func (f fakePresence) Snapshot() domain.PresenceSnapshot { return f.snap }

type fakeDirectory struct {
	last identity.Query
	out  []domain.DirectoryEntry
}

func (f *fakeDirectory) List(_ context.Context, q identity.Query) ([]domain.DirectoryEntry, error) {
	f.last = q
	return f.out, nil
}

func newEcho(caller *domain.Identity) *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, body := StatusFor(err)
		_ = c.JSON(code, body)
	}
	if caller != nil {
		e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				c.Set(middleware.IdentityContextKey, *caller)
				return next(c)
			}
		})
	}
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

var alice = domain.Identity{UserID: "alice", DisplayName: "Alice"}

func TestMessageHandler_List(t *testing.T) {
	store := &fakeMessages{msgs: []domain.Message{{ID: "m1", SenderID: "bob", Content: "hi"}}}
	e := newEcho(&alice)
	h := NewMessageHandler(store)
	e.GET("/api/messages", h.List)

	rec := do(e, http.MethodGet, "/api/messages?peer=bob&limit=20", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bob", resp.PeerID)
	assert.Len(t, resp.Messages, 1)
	assert.Equal(t, domain.PrivateWith("bob"), store.fetched[0])
	assert.Equal(t, 20, store.limits[0])

	rec = do(e, http.MethodGet, "/api/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.fetched[1].IsGlobal())

	rec = do(e, http.MethodGet, "/api/messages?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageHandler_Create(t *testing.T) {
	store := &fakeMessages{}
	e := newEcho(&alice)
	h := NewMessageHandler(store)
	e.POST("/api/messages", h.Create)

	rec := do(e, http.MethodPost, "/api/messages", `{"content":"hello","recipient_id":"bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.appended, 1)
	assert.Equal(t, "bob", store.appended[0].Recipient.PeerID())

	rec = do(e, http.MethodPost, "/api/messages", `{"content":"everyone"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, store.appended[1].Recipient.IsBroadcast())

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "missing content", body: `{}`, code: http.StatusBadRequest},
		{name: "blank content", body: `{"content":"   "}`, code: http.StatusBadRequest},
		{name: "to self", body: `{"content":"me","recipient_id":"alice"}`, code: http.StatusBadRequest},
		{name: "too long", body: `{"content":"` + strings.Repeat("x", 4001) + `"}`, code: http.StatusBadRequest},
		{name: "malformed", body: `{"content":`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMessageHandler_TransientIs503(t *testing.T) {
	store := &fakeMessages{err: domain.Transient("store", errors.New("down"))}
	e := newEcho(&alice)
	e.POST("/api/messages", NewMessageHandler(store).Create)

	rec := do(e, http.MethodPost, "/api/messages", `{"content":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMessageHandler_RequiresIdentity(t *testing.T) {
	e := newEcho(nil)
	e.GET("/api/messages", NewMessageHandler(&fakeMessages{}).List)

	rec := do(e, http.MethodGet, "/api/messages", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPresenceHandler(t *testing.T) {
	snap := domain.PresenceSnapshot{Version: 4, Entries: []domain.PresenceEntry{{UserID: "bob", DisplayName: "Bob"}}}
	dir := &fakeDirectory{out: []domain.DirectoryEntry{{Profile: domain.Profile{UserID: "bob", Name: "Bob"}, Online: true}}}
	h := NewPresenceHandler(fakePresence{snap: snap}, dir)

	e := newEcho(&alice)
	e.GET("/api/presence", h.GetPresence)
	e.GET("/api/presence/:userID", h.GetUserPresence)
	e.GET("/api/directory", h.GetDirectory)

	rec := do(e, http.MethodGet, "/api/presence", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pres PresenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pres))
	assert.Equal(t, uint64(4), pres.Version)
	assert.Equal(t, 1, pres.Count)

	rec = do(e, http.MethodGet, "/api/presence/bob", "")
	var one UserPresenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.True(t, one.Online)

	rec = do(e, http.MethodGet, "/api/presence/carol", "")
	one = UserPresenceResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.False(t, one.Online)
	assert.Nil(t, one.Entry)

	rec = do(e, http.MethodGet, "/api/directory?q=bo&role=teacher", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bo", dir.last.Search)
	assert.Equal(t, domain.RoleTeacher, dir.last.Role)
	assert.Equal(t, "alice", dir.last.ExcludeUserID)

	rec = do(e, http.MethodGet, "/api/directory?role=wizard", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresenceHandler_NoDirectory(t *testing.T) {
	e := newEcho(&alice)
	e.GET("/api/directory", NewPresenceHandler(fakePresence{}, nil).GetDirectory)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/directory", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.Invalid("x"), http.StatusBadRequest},
		{domain.ErrNotAuthenticated, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.Transient("op", errors.New("x")), http.StatusServiceUnavailable},
		{domain.ErrClosed, http.StatusServiceUnavailable},
		{echo.NewHTTPError(http.StatusTooManyRequests, "slow down"), http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, _ := StatusFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
