package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled_ReturnsNoopTelemetryWithNilProvider(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer())
	require.NotNil(t, tel.Meter())

	ctx, end := tel.StartSpan(context.Background(), "op")
	assert.NotNil(t, ctx)
	end()

	// A disabled Telemetry never built a TracerProvider, so Shutdown must
	// be a no-op rather than panicking on a nil receiver.
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutEndpoint_UsesStdoutExporter(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "virtualpytest-test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	ctx, end := tel.StartSpan(context.Background(), "server.executeTestcase")
	end()
	assert.NotNil(t, ctx)
}

func TestRecordDuration_DoesNotPanicWithoutAHistogram(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	tel.RecordDuration(context.Background(), "proxy.latency", 10*time.Millisecond)
}

func TestShutdown_EnabledInstanceFlushesProvider(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true})
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
