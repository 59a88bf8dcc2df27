// Package metrics holds the Prometheus collectors otlp-charts exports about
// itself. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otlp_charts"

// Metrics groups the collectors.
type Metrics struct {
	registry *prometheus.Registry

	ChartUpdates      *prometheus.CounterVec
	ChartUpdateTime   prometheus.Histogram
	ExemplarsResolved *prometheus.CounterVec
	ActiveViews       prometheus.Gauge

	WaitSessions       *prometheus.CounterVec
	WaitPolls          prometheus.Counter
	ActiveWaitSessions prometheus.Gauge

	IngestedSpans   prometheus.Counter
	IngestedMetrics prometheus.Counter
}

// New creates and registers all collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ChartUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chart_updates_total",
			Help:      "Chart update cycles by kind (full or tick).",
		}, []string{"kind"}),
		ChartUpdateTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chart_update_duration_seconds",
			Help:      "Time spent building and delivering one chart update.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		ExemplarsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exemplars_total",
			Help:      "Exemplars delivered to charts by whether their span was found.",
		}, []string{"resolved"}),
		ActiveViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_views",
			Help:      "Charts currently being streamed.",
		}),
		WaitSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "span_wait_sessions_total",
			Help:      "Span wait sessions by outcome.",
		}, []string{"outcome"}),
		WaitPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "span_wait_polls_total",
			Help:      "Span lookups performed by wait sessions.",
		}),
		ActiveWaitSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "span_wait_sessions_active",
			Help:      "Span wait sessions still waiting.",
		}),
		IngestedSpans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_spans_total",
			Help:      "Spans received over OTLP or from files.",
		}),
		IngestedMetrics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_metrics_total",
			Help:      "Metrics received over OTLP or from files.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChartUpdates,
		m.ChartUpdateTime,
		m.ExemplarsResolved,
		m.ActiveViews,
		m.WaitSessions,
		m.WaitPolls,
		m.ActiveWaitSessions,
		m.IngestedSpans,
		m.IngestedMetrics,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveChartUpdate records one update cycle.
func (m *Metrics) ObserveChartUpdate(full bool, seconds float64) {
	if m == nil {
		return
	}
	kind := "tick"
	if full {
		kind = "full"
	}
	m.ChartUpdates.WithLabelValues(kind).Inc()
	m.ChartUpdateTime.Observe(seconds)
}

// ObserveExemplars records how many exemplars of a payload had their span.
func (m *Metrics) ObserveExemplars(resolved, unresolved int) {
	if m == nil {
		return
	}
	m.ExemplarsResolved.WithLabelValues("true").Add(float64(resolved))
	m.ExemplarsResolved.WithLabelValues("false").Add(float64(unresolved))
}

// ViewOpened and ViewClosed track streamed charts.
func (m *Metrics) ViewOpened() {
	if m != nil {
		m.ActiveViews.Inc()
	}
}

func (m *Metrics) ViewClosed() {
	if m != nil {
		m.ActiveViews.Dec()
	}
}

// WaitStarted records a session entering the waiting state.
func (m *Metrics) WaitStarted() {
	if m != nil {
		m.ActiveWaitSessions.Inc()
	}
}

// WaitFinished records a concluded session. waited reports whether the
// session had been counted by WaitStarted.
func (m *Metrics) WaitFinished(outcome string, waited bool) {
	if m == nil {
		return
	}
	m.WaitSessions.WithLabelValues(outcome).Inc()
	if waited {
		m.ActiveWaitSessions.Dec()
	}
}

// WaitPolled records one poll lookup.
func (m *Metrics) WaitPolled() {
	if m != nil {
		m.WaitPolls.Inc()
	}
}

// SpansIngested adds n received spans.
func (m *Metrics) SpansIngested(n int) {
	if m != nil {
		m.IngestedSpans.Add(float64(n))
	}
}

// MetricsIngested adds n received metrics.
func (m *Metrics) MetricsIngested(n int) {
	if m != nil {
		m.IngestedMetrics.Add(float64(n))
	}
}
