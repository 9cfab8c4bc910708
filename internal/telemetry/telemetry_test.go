package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/miradorstack/mirador-authlens/internal/config"
)

func TestInitNoneIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{Exporter: "none"}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TelemetryConfig{Exporter: "zipkin"}, "test")
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := initWithWriter(context.Background(), config.TelemetryConfig{
		Exporter:    "stdout",
		ServiceName: "mirador-authlens",
	}, "test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "warehouse.query")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "warehouse.query")
	assert.Contains(t, buf.String(), "mirador-authlens")
}
