package mcpserver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/storage"
)

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Endpoint: staticEndpoint(testEndpoint)})
	assert.Error(t, err, "nil store")

	_, err = NewServer(Config{Store: newTestStore()})
	assert.Error(t, err, "nil endpoint source")

	srv, err := NewServer(Config{Store: newTestStore(), Endpoint: staticEndpoint(testEndpoint)})
	require.NoError(t, err)
	assert.NotNil(t, srv.MCPServer())
}

func TestGetOTLPEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestStore())

	_, out, err := srv.handleGetOTLPEndpoint(context.Background(), nil, GetOTLPEndpointInput{})
	require.NoError(t, err)

	assert.Equal(t, testEndpoint, out.Endpoint)
	assert.Equal(t, "grpc", out.Protocol)
	assert.Equal(t, "http://"+testEndpoint, out.EnvironmentVars["OTEL_EXPORTER_OTLP_ENDPOINT"])
	assert.Equal(t, "trace_based", out.EnvironmentVars["OTEL_METRICS_EXEMPLAR_FILTER"])
}

func TestListInstruments(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, out, err := srv.handleListInstruments(context.Background(), nil, ListInstrumentsInput{})
	require.NoError(t, err)
	require.Len(t, out.Instruments, 1)

	inst := out.Instruments[0]
	assert.Equal(t, instrument, inst.Name)
	assert.Equal(t, "Requests served", inst.Description)
	assert.Equal(t, "{request}", inst.Unit)
	assert.Equal(t, "Sum", inst.Type)
	assert.Equal(t, "counter", inst.Chart)
	assert.Equal(t, []string{"api"}, inst.Services)
}

func TestGetChart(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, out, err := srv.handleGetChart(context.Background(), nil, ChartInput{Instrument: instrument})
	require.NoError(t, err)

	assert.Equal(t, instrument, out.Instrument)
	assert.Equal(t, "counter", out.Chart)
	assert.Equal(t, "2024-03-01T10:00:30Z", out.InProgress)
	require.Len(t, out.Series, 1)

	values := out.Series[0].Values
	require.Len(t, values, 4)
	assert.Nil(t, values[0], "first counter bucket has no predecessor")
	for i, want := range []float64{5, 10, 5} {
		require.NotNil(t, values[i+1])
		assert.Equal(t, want, *values[i+1])
	}

	assert.Equal(t, 2, out.Exemplars)
	assert.Equal(t, 1, out.Resolved)
	assert.Contains(t, out.Rendered, instrument+" (requests) [counter]")
	assert.Contains(t, out.Rendered, "10:00:30")
	assert.Contains(t, out.Rendered, "Exemplars: 2 (1 with spans)")
}

func TestGetChart_Errors(t *testing.T) {
	srv := newTestServer(t, newTestStore())

	_, _, err := srv.handleGetChart(context.Background(), nil, ChartInput{})
	assert.Error(t, err)

	_, _, err = srv.handleGetChart(context.Background(), nil, ChartInput{Instrument: "missing"})
	assert.True(t, errors.Is(err, dashboard.ErrUnknownInstrument), "got %v", err)
}

func TestGetChart_Overrides(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, out, err := srv.handleGetChart(context.Background(), nil, ChartInput{
		Instrument:      instrument,
		DurationSeconds: 20,
		Buckets:         2,
	})
	require.NoError(t, err)
	require.Len(t, out.Series, 1)
	assert.Len(t, out.Series[0].Values, 2)
	assert.Equal(t, "2024-03-01T10:00:10Z", out.WindowStart)
}

func TestGetChart_RejectsOutOfRangeOverrides(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	tests := []struct {
		name    string
		input   ChartInput
		wantErr string
	}{
		{"one bucket", ChartInput{Buckets: 1}, "buckets must be between 2 and 1000"},
		{"too many buckets", ChartInput{Buckets: 1_000_000_000}, "buckets must be between 2 and 1000"},
		{"negative buckets", ChartInput{Buckets: -5}, "buckets must be between 2 and 1000"},
		{"negative duration", ChartInput{DurationSeconds: -1}, "duration_seconds must be between 1 and 86400"},
		{"duration over a day", ChartInput{DurationSeconds: 86401}, "duration_seconds must be between 1 and 86400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Instrument = instrument
			_, _, err := srv.handleGetChart(context.Background(), nil, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, _, err = srv.handleListExemplars(context.Background(), nil, tt.input)
			require.Error(t, err)
		})
	}

	_, out, err := srv.handleGetChart(context.Background(), nil, ChartInput{
		Instrument:      instrument,
		DurationSeconds: 86400,
		Buckets:         1000,
	})
	require.NoError(t, err)
	require.Len(t, out.Series, 1)
	assert.Len(t, out.Series[0].Values, 1000)
}

func TestListExemplars(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, out, err := srv.handleListExemplars(context.Background(), nil, ChartInput{Instrument: instrument})
	require.NoError(t, err)
	require.Len(t, out.Exemplars, 2)

	// Newest first: the :26 exemplar has no span yet.
	pending, loaded := out.Exemplars[0], out.Exemplars[1]

	assert.Equal(t, traceBHex, pending.TraceID)
	assert.Equal(t, "Trace: 4bf92f3…", pending.Title)
	assert.False(t, pending.Loaded)

	assert.Equal(t, traceAHex, loaded.TraceID)
	assert.Equal(t, spanAHex, loaded.SpanID)
	assert.Equal(t, "api: GET /users", loaded.Title)
	assert.Equal(t, "1 request", loaded.Value)
	assert.True(t, loaded.Loaded)

	assert.Contains(t, out.Rendered, "Exemplars (2)")
}

func TestGetSpan(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, out, err := srv.handleGetSpan(context.Background(), nil, GetSpanInput{TraceID: traceAHex, SpanID: spanAHex})
	require.NoError(t, err)

	assert.Equal(t, "api: GET /users", out.Title)
	assert.Equal(t, "GET /users", out.Span.Name)
	assert.Equal(t, "api", out.Span.ServiceName)
	assert.Equal(t, "OK", out.Span.Status)
	assert.InDelta(t, 100, out.Span.DurationMs, 0.001)
	assert.Equal(t, "/users", out.Attributes["http.route"])
	assert.Equal(t, 1, out.TraceSpans)
}

func TestGetSpan_NotYetIngested(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, _, err := srv.handleGetSpan(context.Background(), nil, GetSpanInput{TraceID: traceBHex, SpanID: spanBHex})
	assert.True(t, errors.Is(err, storage.ErrSpanNotFound), "got %v", err)

	_, _, err = srv.handleGetSpan(context.Background(), nil, GetSpanInput{TraceID: traceBHex})
	assert.Error(t, err)

	// Once the late span arrives the same call succeeds.
	require.NoError(t, store.ReceiveSpans(context.Background(), span(t, traceBHex, spanBHex, "POST /orders")))
	_, out, err := srv.handleGetSpan(context.Background(), nil, GetSpanInput{TraceID: traceBHex, SpanID: spanBHex})
	require.NoError(t, err)
	assert.Equal(t, "api: POST /orders", out.Title)
}

func TestClearData(t *testing.T) {
	store := newTestStore()
	seed(t, store)
	srv := newTestServer(t, store)

	_, _, err := srv.handleClearData(context.Background(), nil, ClearDataInput{})
	require.NoError(t, err)

	stats := store.Stats()
	assert.Zero(t, stats.Traces.SpanCount)
	assert.Zero(t, stats.Metrics.MetricCount)
}

func TestFileSources(t *testing.T) {
	srv := newTestServer(t, newTestStore())
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "metrics"), 0o755))

	require.NoError(t, srv.AddFileSource(ctx, dir, true))
	assert.Error(t, srv.AddFileSource(ctx, dir, true), "duplicate directory")
	assert.Equal(t, []string{dir}, srv.ListFileSources())

	stats := srv.FileSourceStats()
	require.Len(t, stats, 1)
	assert.Equal(t, dir, stats[0].Directory)

	require.NoError(t, srv.RemoveFileSource(dir))
	assert.Error(t, srv.RemoveFileSource(dir))
	assert.Empty(t, srv.ListFileSources())

	assert.Error(t, srv.AddFileSource(ctx, filepath.Join(dir, "missing"), false))
}
