// Package chart turns a rolling window of metric samples and exemplars into
// renderable chart payloads. It has no knowledge of storage or transport:
// spans come in through SpanLookup and payloads leave through Sink.
package chart

import (
	"context"
	"time"
)

// Kind selects how a series is encoded for plotting.
type Kind int

const (
	// KindGauge plots raw values.
	KindGauge Kind = iota
	// KindCounter plots the change between consecutive buckets.
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	default:
		return "gauge"
	}
}

// SampleBucket is one x-axis slot. A nil Value is a gap; gaps are never
// represented by omitting the slot.
type SampleBucket struct {
	Timestamp time.Time
	Value     *float64
}

// SeriesInput is one named series over the shared x-axis.
type SeriesInput struct {
	Name       string
	Percentile *int // Set for histogram percentile series
	Buckets    []SampleBucket
}

// ChartSeries is a built series ready for the sink. Values, DiffValues and
// Tooltips all have the x-axis length.
type ChartSeries struct {
	Name       string
	Percentile *int
	Timestamps []time.Time
	Values     []*float64
	DiffValues []*float64
	Tooltips   []string // Empty where the plotted value is absent
}

// ExemplarPoint is an exemplar as collected from metric data. Empty ids mean
// the exemplar carries no trace context.
type ExemplarPoint struct {
	Timestamp time.Time
	Value     float64
	TraceID   string
	SpanID    string
}

// Span is the subset of a stored span the chart needs.
type Span struct {
	TraceID      string    `json:"trace_id"`
	SpanID       string    `json:"span_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	Name         string    `json:"name"`
	ServiceName  string    `json:"service_name"`
	InstanceID   string    `json:"instance_id,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	StatusCode   string    `json:"status_code"`
}

// Application identifies a resource that produced telemetry.
type Application struct {
	Name       string
	InstanceID string
}

// Instrument describes the metric being charted.
type Instrument struct {
	Name        string
	Description string
	Unit        string
	Kind        Kind
}

// ResolvedExemplar is an exemplar ready for display. Span is nil when the
// trace has not been ingested yet.
type ResolvedExemplar struct {
	Timestamp time.Time
	Value     float64
	TraceID   string
	SpanID    string
	Title     string
	Tooltip   string
	Span      *Span
}

// SpanLookup finds a span by trace and span id. Implementations must be safe
// for concurrent use; a miss is not an error.
type SpanLookup interface {
	GetSpan(traceID, spanID string) (*Span, bool)
}

// ClickHandler receives "view span" requests from a rendered chart.
type ClickHandler interface {
	ViewSpan(ctx context.Context, traceID, spanID string)
}

// ClickHandle is a ClickHandler owned by one chart initialization. Close
// cancels anything it still has outstanding.
type ClickHandle interface {
	ClickHandler
	Close()
}

// Sink renders payloads. Initialize is a full redraw and hands the sink the
// handler for exemplar clicks; Update is an incremental tick.
type Sink interface {
	Initialize(ctx context.Context, p Payload, clicks ClickHandler) error
	Update(ctx context.Context, p Payload) error
}

// LocaleHints tells the renderer how to format axis times.
type LocaleHints struct {
	Periods    [2]string `json:"periods"`
	TimeFormat string    `json:"time_format"`
}

// ExemplarSeries is the exemplar overlay in plotting order.
type ExemplarSeries struct {
	Timestamps []time.Time `json:"x"`
	Values     []float64   `json:"y"`
	Tooltips   []string    `json:"tooltips"`
	Titles     []string    `json:"titles"`
	TraceIDs   []string    `json:"trace_ids"`
	SpanIDs    []string    `json:"span_ids"`
}

// PayloadSeries is one series as sent to the renderer. Values are the
// plotted (difference encoded) values.
type PayloadSeries struct {
	Name       string      `json:"name"`
	Percentile *int        `json:"percentile,omitempty"`
	Timestamps []time.Time `json:"x"`
	Values     []*float64  `json:"y"`
	Tooltips   []string    `json:"tooltips"`
}

// Payload is what the sink receives every cycle.
type Payload struct {
	Instrument  string             `json:"instrument"`
	Unit        string             `json:"unit,omitempty"`
	Series      []PayloadSeries    `json:"series"`
	Exemplars   ExemplarSeries     `json:"exemplars"`
	InProgress  time.Time          `json:"in_progress"`
	WindowStart time.Time          `json:"window_start"`
	Locale      *LocaleHints       `json:"locale,omitempty"`
	Resolved    []ResolvedExemplar `json:"-"`
}
