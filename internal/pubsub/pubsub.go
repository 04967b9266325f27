package pubsub

import (
	"context"
)

// Message is the envelope passed between components on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g. "chat.message.created").
	Topic string
	// UserID identifies the user who caused the message.
	UserID string
	// Payload holds the encoded event.
	Payload []byte
	// Metadata carries routing hints such as the recipient kind.
	Metadata map[string]string
}

// Handler processes one received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber receives messages from the bus.
type Subscriber interface {
	// Subscribe registers handler for topic and returns once the subscription
	// is live. Messages are handled on a background goroutine, one at a time
	// and in publish order, until ctx is cancelled or the subscriber closes.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is a Publisher and Subscriber over the same transport.
type Bus interface {
	Publisher
	Subscriber
}
