package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{ServiceVersion: "test", SampleRatio: 1})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	}()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestInitTracerProviderSamplesNone(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	}()

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	require.False(t, span.SpanContext().IsSampled())
	span.End()
}
