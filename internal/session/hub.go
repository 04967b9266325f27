package session

import (
	"context"

	"github.com/nfrund/peerchat/internal/domain"
	"github.com/nfrund/peerchat/internal/router"
)

// Store is the message store as seen by a session.
type Store interface {
	Append(ctx context.Context, senderID string, to domain.Recipient, content string) (domain.Message, error)
	Fetch(ctx context.Context, self string, view domain.View, limit int) ([]domain.Message, error)
}

// Attachment is a live registration with the router.
type Attachment interface {
	Heartbeat(ctx context.Context) error
	RequestSync(ctx context.Context)
	Detach(ctx context.Context)
}

// Hub attaches sessions to the event fan-out.
type Hub interface {
	Attach(ctx context.Context, sub router.Subscriber, identity domain.Identity) (Attachment, error)
}

type routerHub struct {
	r *router.Router
}

// RouterHub adapts a router to Hub.
func RouterHub(r *router.Router) Hub {
	return routerHub{r: r}
}

func (h routerHub) Attach(ctx context.Context, sub router.Subscriber, identity domain.Identity) (Attachment, error) {
	handle, err := h.r.Attach(ctx, sub, identity)
	if err != nil {
		return nil, err
	}
	return handle, nil
}
