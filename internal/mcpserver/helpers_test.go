package mcpserver

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/storage"
)

const (
	testEndpoint = "127.0.0.1:4317"
	instrument   = "http.server.requests"

	traceAHex = "0af7651916cd43dd8448eb211c80319c"
	spanAHex  = "b7ad6b7169203331"
	traceBHex = "4bf92f3577b34da6a3ce929d0e0e4736"
	spanBHex  = "00f067aa0ba902b7"
)

// 10:00:30.5 with a 40s window of 4 buckets gives slots at :00 :10 :20 :30.
var testNow = time.Date(2024, 3, 1, 10, 0, 30, 500_000_000, time.UTC)

func at(sec float64) time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(sec * float64(time.Second)))
}

type staticEndpoint string

func (e staticEndpoint) Endpoint() string { return string(e) }

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func resource(service string) *resourcepb.Resource {
	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
		Key:   "service.name",
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: service}},
	}}}
}

func counter(ts time.Time, v int64, exemplars ...*metricspb.Exemplar) []*metricspb.ResourceMetrics {
	return []*metricspb.ResourceMetrics{{
		Resource: resource("api"),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name:        instrument,
				Description: "Requests served",
				Unit:        "{request}",
				Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					IsMonotonic:            true,
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					DataPoints: []*metricspb.NumberDataPoint{{
						TimeUnixNano: uint64(ts.UnixNano()),
						Value:        &metricspb.NumberDataPoint_AsInt{AsInt: v},
						Exemplars:    exemplars,
					}},
				}},
			}},
		}},
	}}
}

func exemplar(t *testing.T, ts time.Time, v int64, traceID, spanID string) *metricspb.Exemplar {
	return &metricspb.Exemplar{
		TimeUnixNano: uint64(ts.UnixNano()),
		Value:        &metricspb.Exemplar_AsInt{AsInt: v},
		TraceId:      mustHex(t, traceID),
		SpanId:       mustHex(t, spanID),
	}
}

func span(t *testing.T, traceID, spanID, name string) []*tracepb.ResourceSpans {
	return []*tracepb.ResourceSpans{{
		Resource: resource("api"),
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{
				TraceId:           mustHex(t, traceID),
				SpanId:            mustHex(t, spanID),
				Name:              name,
				StartTimeUnixNano: uint64(at(24.9).UnixNano()),
				EndTimeUnixNano:   uint64(at(25).UnixNano()),
				Attributes: []*commonpb.KeyValue{{
					Key:   "http.route",
					Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: "/users"}},
				}},
				Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
			}},
		}},
	}}
}

func newTestStore() *storage.Store {
	return storage.NewStore(storage.Config{TraceCapacity: 100, MetricCapacity: 100})
}

func newTestServer(t *testing.T, store *storage.Store) *Server {
	t.Helper()
	srv, err := NewServer(Config{
		Store:    store,
		Endpoint: staticEndpoint(testEndpoint),
		View: dashboard.Options{
			Duration:    40 * time.Second,
			BucketCount: 4,
			Formatter:   chart.Formatter{Location: time.UTC, Use24Hour: true},
			Now:         func() time.Time { return testNow },
		},
	})
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

// seed stores a counter going 10, 15, 25, 30 across the four buckets with
// two exemplars at :25, only the first of which has its span stored.
func seed(t *testing.T, store *storage.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ReceiveMetrics(ctx, counter(at(1), 10)))
	require.NoError(t, store.ReceiveMetrics(ctx, counter(at(11), 15)))
	require.NoError(t, store.ReceiveMetrics(ctx, counter(at(21), 25,
		exemplar(t, at(25), 1, traceAHex, spanAHex),
		exemplar(t, at(26), 1, traceBHex, spanBHex))))
	require.NoError(t, store.ReceiveMetrics(ctx, counter(at(30.2), 30)))
	require.NoError(t, store.ReceiveSpans(ctx, span(t, traceAHex, spanAHex, "GET /users")))
}
