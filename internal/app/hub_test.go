package app

import (
	"context"
	"errors"
	"testing"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/router"
	"github.com/nfrund/peerchat/internal/session"
	"github.com/stretchr/testify/assert"
)

type fakeRegistrar struct {
	err        error
	registered []string
}

func (f *fakeRegistrar) Register(_ context.Context, id domain.Identity) error {
	f.registered = append(f.registered, id.UserID)
	return f.err
}

type countingHub struct{ attaches int }

func (h *countingHub) Attach(context.Context, router.Subscriber, domain.Identity) (session.Attachment, error) {
	h.attaches++
	return nil, nil
}

func TestRegisteringHub(t *testing.T) {
	ctx := context.Background()
	profiles := &fakeRegistrar{}
	next := &countingHub{}
	hub := registeringHub{next: next, profiles: profiles}

	_, err := hub.Attach(ctx, nil, alice)
	assert.NoError(t, err)
	assert.Equal(t, []string{"alice"}, profiles.registered)
	assert.Equal(t, 1, next.attaches)

	profiles.err = domain.Transient("upsert profile", errors.New("db down"))
	_, err = hub.Attach(ctx, nil, alice)
	assert.ErrorIs(t, err, domain.ErrTransientTransport)
	assert.Equal(t, 1, next.attaches, "attach is skipped when registration fails")
}
