package messages

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource hands out ULIDs together with their timestamps. Both are
// non-decreasing across calls even if the wall clock steps backwards, so
// (created_at, id) order equals issue order.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    time.Time
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(now time.Time) (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now

	id := ulid.MustNew(ulid.Timestamp(now), s.entropy)
	return id.String(), now
}
