package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/storage"
)

// 10:00:30.5 with a 40s window of 4 buckets gives slots at :00 :10 :20 :30.
var testNow = time.Date(2024, 3, 1, 10, 0, 30, 500_000_000, time.UTC)

func at(sec float64) time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(sec * float64(time.Second)))
}

func resource(service string) *resourcepb.Resource {
	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{{
		Key:   "service.name",
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: service}},
	}}}
}

func counter(service, name string, ts time.Time, v int64, exemplars ...*metricspb.Exemplar) []*metricspb.ResourceMetrics {
	return []*metricspb.ResourceMetrics{{
		Resource: resource(service),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: name,
				Unit: "{request}",
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

func gauge(service, name string, ts time.Time, v float64) []*metricspb.ResourceMetrics {
	return []*metricspb.ResourceMetrics{{
		Resource: resource(service),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: name,
				Unit: "ms",
				Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
					DataPoints: []*metricspb.NumberDataPoint{{
						TimeUnixNano: uint64(ts.UnixNano()),
						Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: v},
					}},
				}},
			}},
		}},
	}}
}

func histogram(service, name string, ts time.Time) []*metricspb.ResourceMetrics {
	return []*metricspb.ResourceMetrics{{
		Resource: resource(service),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: name,
				Unit: "ms",
				Data: &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_DELTA,
					DataPoints: []*metricspb.HistogramDataPoint{{
						TimeUnixNano:   uint64(ts.UnixNano()),
						Count:          100,
						ExplicitBounds: []float64{10, 100},
						BucketCounts:   []uint64{50, 40, 10},
					}},
				}},
			}},
		}},
	}}
}

func exemplar(ts time.Time, v int64, traceID, spanID []byte) *metricspb.Exemplar {
	return &metricspb.Exemplar{
		TimeUnixNano: uint64(ts.UnixNano()),
		Value:        &metricspb.Exemplar_AsInt{AsInt: v},
		TraceId:      traceID,
		SpanId:       spanID,
	}
}

func span(service string, traceID, spanID []byte, name string) []*tracepb.ResourceSpans {
	return []*tracepb.ResourceSpans{{
		Resource: resource(service),
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{TraceId: traceID, SpanId: spanID, Name: name}},
		}},
	}}
}

func newTestStore() *storage.Store {
	return storage.NewStore(storage.Config{TraceCapacity: 100, MetricCapacity: 100})
}

func testOptions(instrument string) Options {
	return Options{
		Instrument:   instrument,
		Duration:     40 * time.Second,
		BucketCount:  4,
		TickInterval: time.Hour,
		Formatter:    chart.Formatter{Location: time.UTC, Use24Hour: true},
		Now:          func() time.Time { return testNow },
	}
}

type call struct {
	full    bool
	payload chart.Payload
	clicks  chart.ClickHandler
}

type recordingSink struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan call, 16)}
}

func (s *recordingSink) Initialize(_ context.Context, p chart.Payload, clicks chart.ClickHandler) error {
	s.record(call{full: true, payload: p, clicks: clicks})
	return nil
}

func (s *recordingSink) Update(_ context.Context, p chart.Payload) error {
	s.record(call{payload: p})
	return nil
}

func (s *recordingSink) record(c call) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	select {
	case s.ch <- c:
	default:
	}
}

func (s *recordingSink) last(t *testing.T) call {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("sink received no payloads")
	}
	return s.calls[len(s.calls)-1]
}

func (s *recordingSink) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-s.ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a payload")
		return call{}
	}
}

func receive(t *testing.T, st *storage.Store, rm []*metricspb.ResourceMetrics) {
	t.Helper()
	if err := st.ReceiveMetrics(context.Background(), rm); err != nil {
		t.Fatalf("ReceiveMetrics failed: %v", err)
	}
}

func receiveSpans(t *testing.T, st *storage.Store, rs []*tracepb.ResourceSpans) {
	t.Helper()
	if err := st.ReceiveSpans(context.Background(), rs); err != nil {
		t.Fatalf("ReceiveSpans failed: %v", err)
	}
}
