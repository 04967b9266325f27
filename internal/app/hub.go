package app

import (
	"context"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/router"
	"github.com/nfrund/peerchat/internal/session"
)

type profileRegistrar interface {
	Register(ctx context.Context, id domain.Identity) error
}

// registeringHub records the caller's profile before attaching, so other
// peers can resolve the sender of the first message.
type registeringHub struct {
	next     session.Hub
	profiles profileRegistrar
}

func (h registeringHub) Attach(ctx context.Context, sub router.Subscriber, id domain.Identity) (session.Attachment, error) {
	if err := h.profiles.Register(ctx, id); err != nil {
		return nil, err
	}
	return h.next.Attach(ctx, sub, id)
}
