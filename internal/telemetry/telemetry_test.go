package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "oracle"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewProvider_TagsResource(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(Config{ServiceName: "oracle", Role: "validator"}, sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "validate")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "validate", spans[0].Name())

	attrs := spans[0].Resource().Attributes()
	assert.Contains(t, attrs, attribute.String("service.name", "oracle"))
	assert.Contains(t, attrs, attribute.String("oracle.role", "validator"))
}
