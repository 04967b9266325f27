package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/nfrund/peerchat/internal/topicmgr"
)

// Routing metadata keys set by publishers and read by the router.
const (
	MetaRecipientKind = "recipient_kind"
	MetaRecipientID   = "recipient_id"
	MetaVersion       = "version"
	MetaOrigin        = "origin"
)

// Event binds a topic name to its payload type and registers the topic in
// the default topic catalogue.
type Event[T any] struct {
	topic topicmgr.Topic
}

// NewEvent defines a typed framework event. The payload's JSON field names
// are recorded as topic metadata for the CLI.
func NewEvent[T any](name, description string) Event[T] {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	fields := make([]string, 0)
	typeName := ""
	if t != nil {
		typeName = t.Name()
		if t.Kind() == reflect.Struct {
			for i := 0; i < t.NumField(); i++ {
				tag := t.Field(i).Tag.Get("json")
				if tag == "" || tag == "-" {
					continue
				}
				fields = append(fields, strings.SplitN(tag, ",", 2)[0])
			}
		}
	}

	topic := topicmgr.DefineFramework(topicmgr.TopicConfig{
		Name:        name,
		Description: description,
		Metadata: map[string]any{
			"payload_fields": fields,
			"type_name":      typeName,
		},
	})
	topicmgr.Default().MustRegister(topic)

	return Event[T]{topic: topic}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topic.Name()
}

// Publish encodes payload and sends it on the event's topic.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Name(), err)
	}

	return p.Publish(ctx, Message{
		Topic:    event.Name(),
		UserID:   userID,
		Payload:  data,
		Metadata: metadata,
	})
}

// Decode reads the payload of msg as T.
func Decode[T any](event Event[T], msg Message) (T, error) {
	var out T
	if msg.Topic != "" && msg.Topic != event.Name() {
		return out, fmt.Errorf("message topic %q is not %q", msg.Topic, event.Name())
	}
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", event.Name(), err)
	}
	return out, nil
}

// Subscribe registers a typed handler for event.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, payload T, msg Message) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		payload, err := Decode(event, msg)
		if err != nil {
			return err
		}
		return handler(ctx, payload, msg)
	})
}
