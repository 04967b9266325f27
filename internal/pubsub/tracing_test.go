package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupOTel(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{Enabled: false})
		require.NoError(t, err)
		require.NotNil(t, tracer)

		_, span := tracer.Start(ctx, "test")
		assert.False(t, span.SpanContext().IsValid())
		span.End()
		cleanup()
	})

	t.Run("enabled tracing", func(t *testing.T) {
		tracer, cleanup, err := SetupOTel(ctx, TracingConfig{
			Enabled:     true,
			ServiceName: "test-service",
			ZipkinURL:   "http://invalid-url:9411/api/v2/spans",
		})
		require.NoError(t, err)
		require.NotNil(t, tracer)

		_, span := tracer.Start(ctx, "test")
		assert.True(t, span.SpanContext().IsValid())
		span.End()
		cleanup()
	})
}
