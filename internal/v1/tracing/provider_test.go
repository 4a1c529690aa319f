package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestNewProvider_RecordsServiceResource(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := newProvider(sdktrace.NewSimpleSpanProcessor(exporter), Options{
		ServiceName: "call-gateway",
		Environment: "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "call.initiate-call")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "call.initiate-call", spans[0].Name)

	attrs := spans[0].Resource.Attributes()
	assert.Contains(t, attrs, semconv.ServiceName("call-gateway"))
	assert.Contains(t, attrs, semconv.DeploymentEnvironment("test"))
}

func TestInitTracer_LazyConnect(t *testing.T) {
	// grpc.NewClient does not dial, so an unreachable collector still yields a provider.
	tp, err := InitTracer(context.Background(), Options{ServiceName: "call-gateway", CollectorAddr: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.NotNil(t, tp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tp.Shutdown(ctx)
}
