package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "peerchat-pubsub"

// TracingConfig holds configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
}

// DefaultTracingConfig returns tracing disabled with local Zipkin defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "peerchat",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
	}
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter. When tracing
// is disabled it returns a no-op tracer.
func SetupOTel(ctx context.Context, config TracingConfig) (trace.Tracer, func(), error) {
	if !config.Enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func() {}, nil
	}

	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create zipkin exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		_ = tp.Shutdown(context.Background())
	}
	return tp.Tracer(tracerName), cleanup, nil
}

// spanAttributes never include the payload: it may hold private message text.
func spanAttributes(operation, topic string, msg *message.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "watermill"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", msg.UUID),
		attribute.String("user.id", msg.Metadata.Get(metaKeyUserID)),
		attribute.String("chat.recipient_kind", msg.Metadata.Get(MetaRecipientKind)),
		attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
	}
}

// TracingMiddleware wraps message handling in a span.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			topic := msg.Metadata.Get(metaKeyTopic)
			spanCtx, span := tracer.Start(msg.Context(), "pubsub.process."+topic,
				trace.WithAttributes(spanAttributes("process", topic, msg)...),
			)
			defer span.End()
			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware wraps a watermill publisher with spans.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware wraps publisher.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{publisher: publisher, tracer: tracer}
}

// Publish implements message.Publisher.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		spanCtx, span := p.tracer.Start(msg.Context(), "pubsub.publish."+topic,
			trace.WithAttributes(spanAttributes("publish", topic, msg)...),
		)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
