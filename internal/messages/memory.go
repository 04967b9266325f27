package messages

import (
	"context"
	"sync"

	"github.com/nfrund/peerchat/internal/domain"
)

// MemoryRepository keeps the message log in process memory. It backs
// development runs and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	msgs []domain.Message
	ids  map[string]struct{}
}

// NewMemoryRepository creates an empty log.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ids: make(map[string]struct{})}
}

// Insert implements domain.MessageRepository.
func (r *MemoryRepository) Insert(ctx context.Context, m domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.ids[m.ID]; dup {
		return domain.Invalid("duplicate message id %s", m.ID)
	}
	r.ids[m.ID] = struct{}{}
	r.msgs = append(r.msgs, m)
	return nil
}

// Recent implements domain.MessageRepository.
func (r *MemoryRepository) Recent(ctx context.Context, self string, view domain.View, limit int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Newest first until the window is full.
	out := make([]domain.Message, 0, limit)
	for i := len(r.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if view.Shows(self, r.msgs[i]) {
			out = append(out, r.msgs[i])
		}
	}
	return out, nil
}

// Len returns the number of stored messages.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.msgs)
}
