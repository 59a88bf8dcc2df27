package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	provider, err := Setup(context.Background(), Config{ServiceName: "otlp-charts"})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer provider.Shutdown(context.Background())

	if provider.Enabled() {
		t.Error("provider should be disabled without an endpoint")
	}
	if provider.Tracer("test") == nil {
		t.Error("Tracer() returned nil")
	}
}

func TestSetupEnabled(t *testing.T) {
	// The exporter connects lazily, so no collector is needed.
	provider, err := Setup(context.Background(), Config{
		ServiceName:    "otlp-charts",
		ServiceVersion: "test",
		Endpoint:       "127.0.0.1:4317",
	})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !provider.Enabled() {
		t.Fatal("provider should be enabled with an endpoint")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = provider.Shutdown(ctx)
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty trace id, got %q", got)
	}

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	if got := TraceIDFromContext(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("expected %s, got %q", span.SpanContext().TraceID(), got)
	}
}
