package topicmgr

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Manager is a concurrency-safe topic catalogue.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewManager creates an empty catalogue.
func NewManager() *Manager {
	return &Manager{entries: make(map[string]Entry)}
}

// Register validates and adds a topic.
func (m *Manager) Register(t Topic) error {
	if err := validate(t); err != nil {
		name := ""
		if t != nil {
			name = t.Name()
		}
		return &TopicError{Type: ErrorValidationFailed, Topic: name, Message: "topic validation failed", Cause: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[t.Name()]; exists {
		return &TopicError{
			Type:    ErrorDuplicateRegistration,
			Topic:   t.Name(),
			Message: fmt.Sprintf("topic already registered: %s", t.Name()),
		}
	}
	m.entries[t.Name()] = Entry{Topic: t, RegisteredAt: time.Now()}
	return nil
}

// MustRegister registers t and panics on failure. Topics are declared at
// package level, so a failure is a programming error.
func (m *Manager) MustRegister(t Topic) Topic {
	if err := m.Register(t); err != nil {
		panic(err)
	}
	return t
}

// Get looks a topic up by name.
func (m *Manager) Get(name string) (Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return e.Topic, ok
}

// Lookup is Get with a TopicError for unknown names.
func (m *Manager) Lookup(name string) (Topic, error) {
	if t, ok := m.Get(name); ok {
		return t, nil
	}
	return nil, &TopicError{Type: ErrorTopicNotFound, Topic: name, Message: fmt.Sprintf("topic not found: %s", name)}
}

// List returns every topic sorted by name.
func (m *Manager) List() []Topic {
	return m.filter(func(Topic) bool { return true })
}

// ListByModule returns the topics owned by module.
func (m *Manager) ListByModule(module string) []Topic {
	return m.filter(func(t Topic) bool { return t.Module() == module })
}

// ListByScope returns the topics in one scope.
func (m *Manager) ListByScope(scope Scope) []Topic {
	return m.filter(func(t Topic) bool { return t.Scope() == scope })
}

// ListByPrefix returns the topics whose name starts with prefix.
func (m *Manager) ListByPrefix(prefix string) []Topic {
	return m.filter(func(t Topic) bool { return strings.HasPrefix(t.Name(), prefix) })
}

// Count returns the number of registered topics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Manager) filter(keep func(Topic) bool) []Topic {
	m.mu.RLock()
	out := make([]Topic, 0, len(m.entries))
	for _, e := range m.entries {
		if keep(e.Topic) {
			out = append(out, e.Topic)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

var defaultManager = NewManager()

// Default returns the process-wide catalogue.
func Default() *Manager { return defaultManager }
