// Package topicmgr keeps the catalogue of bus topics used by the service so
// that publishers and subscribers share one definition per topic and the CLI
// can list them.
package topicmgr

import "time"

// Scope says whether a topic belongs to the core service or to a feature module.
type Scope string

const (
	ScopeFramework Scope = "framework"
	ScopeModule    Scope = "module"
)

// Topic is a registered bus topic.
type Topic interface {
	Name() string
	Module() string
	Description() string
	Example() string
	Scope() Scope
	Metadata() map[string]any
}

// TopicConfig describes a topic before registration.
type TopicConfig struct {
	Name        string         `json:"name"`
	Module      string         `json:"module"`
	Description string         `json:"description"`
	Example     string         `json:"example"`
	Metadata    map[string]any `json:"metadata"`
}

type topic struct {
	cfg   TopicConfig
	scope Scope
}

// DefineFramework creates a core service topic. Framework topics have no module.
func DefineFramework(cfg TopicConfig) Topic {
	cfg.Module = ""
	return &topic{cfg: cfg, scope: ScopeFramework}
}

// DefineModule creates a topic owned by cfg.Module.
func DefineModule(cfg TopicConfig) Topic {
	return &topic{cfg: cfg, scope: ScopeModule}
}

func (t *topic) Name() string        { return t.cfg.Name }
func (t *topic) Module() string      { return t.cfg.Module }
func (t *topic) Description() string { return t.cfg.Description }
func (t *topic) Example() string     { return t.cfg.Example }
func (t *topic) Scope() Scope        { return t.scope }
func (t *topic) String() string      { return t.cfg.Name }

// Metadata returns a copy of the topic metadata.
func (t *topic) Metadata() map[string]any {
	out := make(map[string]any, len(t.cfg.Metadata))
	for k, v := range t.cfg.Metadata {
		out[k] = v
	}
	return out
}

// Entry is a registered topic with bookkeeping.
type Entry struct {
	Topic        Topic     `json:"topic"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ErrorType classifies a TopicError.
type ErrorType string

const (
	ErrorTopicNotFound         ErrorType = "topic_not_found"
	ErrorDuplicateRegistration ErrorType = "duplicate_registration"
	ErrorValidationFailed      ErrorType = "validation_failed"
)

// TopicError is returned by registration and lookup.
type TopicError struct {
	Type    ErrorType `json:"type"`
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

func (e *TopicError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TopicError) Unwrap() error { return e.Cause }
