package storage

import (
	"context"
	"testing"
	"time"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

func TestMetricStorageInstruments(t *testing.T) {
	ms := NewMetricStorage(100)
	now := time.Now()

	_, err := ms.ReceiveMetrics(context.Background(), []*metricspb.ResourceMetrics{
		counterMetric("api", "http.requests", now, 10),
		counterMetric("worker", "http.requests", now, 3),
		gaugeMetric("api", "queue.depth", now, 4),
	})
	if err != nil {
		t.Fatalf("ReceiveMetrics failed: %v", err)
	}

	instruments := ms.Instruments()
	if len(instruments) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(instruments))
	}

	req := instruments[0]
	if req.Name != "http.requests" || req.Unit != "{request}" || req.Type != MetricTypeSum {
		t.Errorf("unexpected instrument: %+v", req)
	}
	if !req.Monotonic || !req.Cumulative {
		t.Errorf("expected monotonic cumulative sum: %+v", req)
	}
	if len(req.Services) != 2 || req.Services[0] != "api" || req.Services[1] != "worker" {
		t.Errorf("unexpected services: %v", req.Services)
	}

	if _, ok := ms.Instrument("queue.depth"); !ok {
		t.Error("expected queue.depth instrument")
	}
	if _, ok := ms.Instrument("missing"); ok {
		t.Error("unexpected instrument")
	}
}

func TestMetricStoragePointsWindowAndExemplars(t *testing.T) {
	ms := NewMetricStorage(100)
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	ex := &metricspb.Exemplar{
		TimeUnixNano: uint64(base.Add(time.Second).UnixNano()),
		Value:        &metricspb.Exemplar_AsInt{AsInt: 7},
		TraceId:      []byte{0xab, 0xcd},
		SpanId:       []byte{0x01},
	}

	_, err := ms.ReceiveMetrics(context.Background(), []*metricspb.ResourceMetrics{
		counterMetric("api", "http.requests", base.Add(-time.Minute), 1),
		counterMetric("api", "http.requests", base.Add(2*time.Second), 5),
		counterMetric("api", "http.requests", base.Add(time.Second), 3, ex),
		counterMetric("worker", "http.requests", base.Add(time.Second), 100),
	})
	if err != nil {
		t.Fatalf("ReceiveMetrics failed: %v", err)
	}

	points := ms.Points("http.requests", "api", base, base.Add(time.Minute))
	if len(points) != 2 {
		t.Fatalf("expected 2 points in window, got %d", len(points))
	}
	if *points[0].Value != 3 || *points[1].Value != 5 {
		t.Errorf("points not sorted by time: %v, %v", *points[0].Value, *points[1].Value)
	}
	if points[0].Series != "route=/x" {
		t.Errorf("unexpected series key %q", points[0].Series)
	}

	if len(points[0].Exemplars) != 1 {
		t.Fatalf("expected 1 exemplar, got %d", len(points[0].Exemplars))
	}
	e := points[0].Exemplars[0]
	if e.TraceID != "abcd" || e.SpanID != "01" || e.Value != 7 {
		t.Errorf("unexpected exemplar: %+v", e)
	}

	all := ms.Points("http.requests", "", base, base.Add(time.Minute))
	if len(all) != 3 {
		t.Errorf("expected 3 points across services, got %d", len(all))
	}
}

func TestMetricStorageStats(t *testing.T) {
	ms := NewMetricStorage(2)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := ms.ReceiveMetrics(context.Background(), []*metricspb.ResourceMetrics{gaugeMetric("api", "cpu", now, float64(i))}); err != nil {
			t.Fatalf("ReceiveMetrics failed: %v", err)
		}
	}

	stats := ms.Stats()
	if stats.MetricCount != 2 || stats.Received != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.TypeCounts["Gauge"] != 2 {
		t.Errorf("expected 2 gauges, got %d", stats.TypeCounts["Gauge"])
	}
}
