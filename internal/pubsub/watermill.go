package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// WatermillBridge implements Bus on top of watermill's in-process GoChannel.
type WatermillBridge struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter
	tracer trace.Tracer
}

const (
	// Metadata keys used to carry Message fields through watermill metadata.
	metaKeyUserID = "user_id"
	metaKeyTopic  = "topic"
)

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*WatermillBridge)

// WithTracer wraps publishing and handling in OpenTelemetry spans.
func WithTracer(tracer trace.Tracer) BridgeOption {
	return func(wb *WatermillBridge) { wb.tracer = tracer }
}

// NewWatermillBridge creates the in-process bus.
//
// Publish blocks until every subscriber has handled the message, so two
// publishes made one after the other reach each subscriber in that order.
// Handlers must therefore never block on the bus themselves.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	logger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		logger,
	)

	wb := &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		logger: logger,
	}
	for _, opt := range opts {
		opt(wb)
	}
	if wb.tracer != nil {
		wb.pub = NewPublisherTracingMiddleware(wb.pub, wb.tracer)
	}
	return wb
}

// NewWatermillBridgeWithTracer is NewWatermillBridge(WithTracer(tracer)).
func NewWatermillBridgeWithTracer(tracer trace.Tracer) *WatermillBridge {
	return NewWatermillBridge(WithTracer(tracer))
}

func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)

	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	// reserved keys win over caller metadata
	wmMsg.Metadata.Set(metaKeyUserID, msg.UserID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)

	return wmMsg
}

func mapToPubSubMessage(wmMsg *message.Message) Message {
	userID := wmMsg.Metadata.Get(metaKeyUserID)
	topic := wmMsg.Metadata.Get(metaKeyTopic)

	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyTopic {
			metadata[k] = v
		}
	}
	if userID == "" {
		delete(metadata, metaKeyUserID)
	}

	return Message{
		Topic:    topic,
		UserID:   userID,
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements Publisher.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	wmMsg := mapToWatermillMessage(msg)
	wmMsg.SetContext(ctx)
	return wb.pub.Publish(msg.Topic, wmMsg)
}

// Subscribe implements Subscriber.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	process := func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(wmMsg.Context(), mapToPubSubMessage(wmMsg))
	}
	if wb.tracer != nil {
		process = TracingMiddleware(wb.tracer)(process)
	}

	go func() {
		for wmMsg := range messages {
			wmMsg.SetContext(ctx)
			if _, err := process(wmMsg); err != nil {
				slog.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			// Always ack: a nack makes GoChannel redeliver the same message forever.
			wmMsg.Ack()
		}
		slog.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts the bridge down and ends every subscription loop.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}
