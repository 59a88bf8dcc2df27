package storage

import (
	"context"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-charts/internal/metrics"
)

// Config sizes the store.
type Config struct {
	TraceCapacity  int
	MetricCapacity int
	Metrics        *metrics.Metrics // Optional ingest counters
}

// Store holds traces and metrics in memory and notifies subscribers when
// either changes. It is the receiver behind the OTLP server and file
// sources.
type Store struct {
	traces   *TraceStorage
	metrics  *MetricStorage
	notifier *Notifier
	counters *metrics.Metrics
}

// NewStore creates a store.
func NewStore(cfg Config) *Store {
	return &Store{
		traces:   NewTraceStorage(cfg.TraceCapacity),
		metrics:  NewMetricStorage(cfg.MetricCapacity),
		notifier: NewNotifier(),
		counters: cfg.Metrics,
	}
}

// Traces returns the trace storage.
func (s *Store) Traces() *TraceStorage {
	return s.traces
}

// Metrics returns the metric storage.
func (s *Store) Metrics() *MetricStorage {
	return s.metrics
}

// Notifier returns the change notifier.
func (s *Store) Notifier() *Notifier {
	return s.notifier
}

// ReceiveSpans stores spans and wakes subscribers.
func (s *Store) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error {
	n, err := s.traces.ReceiveSpans(ctx, resourceSpans)
	s.counters.SpansIngested(n)
	s.notifier.RecordSpans(n)
	return err
}

// ReceiveMetrics stores metrics and wakes subscribers.
func (s *Store) ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) error {
	n, err := s.metrics.ReceiveMetrics(ctx, resourceMetrics)
	s.counters.MetricsIngested(n)
	s.notifier.RecordMetrics(n)
	return err
}

// Stats summarizes both storages.
type Stats struct {
	Traces        TraceStorageStats  `json:"traces"`
	Metrics       MetricStorageStats `json:"metrics"`
	Generation    uint64             `json:"generation"`
	UptimeSeconds float64            `json:"uptime_seconds"`
}

// Stats returns statistics for all storage.
func (s *Store) Stats() Stats {
	return Stats{
		Traces:        s.traces.Stats(),
		Metrics:       s.metrics.Stats(),
		Generation:    s.notifier.Generation(),
		UptimeSeconds: s.notifier.UptimeSeconds(),
	}
}

// Clear removes all telemetry.
func (s *Store) Clear() {
	s.traces.Clear()
	s.metrics.Clear()
}
