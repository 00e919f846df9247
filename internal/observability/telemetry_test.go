package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTelemetryInstallsProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// Экспортер подключается лениво, поэтому коллектор для инициализации не нужен.
	shutdown, err := InitTelemetry(context.Background(), Options{
		ServiceName: "replay-minimap-test",
		Endpoint:    "127.0.0.1:1",
		SampleRatio: 1,
		Insecure:    true,
	})
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "render")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	// Отправка упадёт по таймауту или отказу соединения, важно лишь что shutdown вернулся.
	_ = shutdown(context.Background())
}
