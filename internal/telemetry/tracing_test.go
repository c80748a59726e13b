package telemetry

import (
	"context"
	"testing"

	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_NoneExporter(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:    true,
		Exporter:   "none",
		SampleRate: 1,
	}, "test")
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "unit")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_Errors(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: 2}, "test")
	assert.ErrorContains(t, err, "invalid sample rate")

	_, err = InitTracing(context.Background(), config.TracingConfig{Enabled: true, Exporter: "jaeger", SampleRate: 1}, "test")
	assert.ErrorContains(t, err, "unsupported exporter")
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
