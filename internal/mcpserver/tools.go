package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/storage"
	"github.com/tobert/otlp-charts/internal/viz"
)

// ═══════════════════════════════════════════════════════════════════════════
// CHART TOOLS
//
// 1. get_otlp_endpoint - Where to send traces and metrics
// 2. list_instruments  - Metric instruments seen so far
// 3. get_chart         - One rendered chart window, as text and data
// 4. list_exemplars    - Exemplars in the window with their span titles
// 5. get_span          - The span an exemplar points at, once ingested
// 6. clear_data        - Wipe stored telemetry
// ═══════════════════════════════════════════════════════════════════════════

const maxSpanAttributes = 20

// Limits on get_chart and list_exemplars overrides. Each view allocates one
// slot per bucket on every refresh.
const (
	minBuckets  = 2
	maxBuckets  = 1000
	maxDuration = 24 * time.Hour
)

// Tool 1: get_otlp_endpoint

type GetOTLPEndpointInput struct{}

type GetOTLPEndpointOutput struct {
	Endpoint        string            `json:"endpoint" jsonschema:"OTLP gRPC endpoint address (accepts traces and metrics)"`
	Protocol        string            `json:"protocol" jsonschema:"Protocol type (grpc)"`
	EnvironmentVars map[string]string `json:"environment_vars" jsonschema:"Suggested environment variables for configuring applications"`
}

func (s *Server) handleGetOTLPEndpoint(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetOTLPEndpointInput,
) (*mcp.CallToolResult, GetOTLPEndpointOutput, error) {
	endpoint := s.endpoint.Endpoint()
	return &mcp.CallToolResult{}, GetOTLPEndpointOutput{
		Endpoint:        endpoint,
		Protocol:        "grpc",
		EnvironmentVars: endpointEnv(endpoint),
	}, nil
}

func endpointEnv(endpoint string) map[string]string {
	return map[string]string{
		"OTEL_EXPORTER_OTLP_ENDPOINT":  "http://" + endpoint,
		"OTEL_EXPORTER_OTLP_PROTOCOL":  "grpc",
		"OTEL_METRICS_EXEMPLAR_FILTER": "trace_based",
	}
}

// Tool 2: list_instruments

type ListInstrumentsInput struct{}

type ListInstrumentsOutput struct {
	Instruments []InstrumentSummary `json:"instruments" jsonschema:"Instruments sorted by name"`
}

type InstrumentSummary struct {
	Name        string   `json:"name" jsonschema:"Instrument name"`
	Description string   `json:"description,omitempty" jsonschema:"Instrument description"`
	Unit        string   `json:"unit,omitempty" jsonschema:"OTel unit, e.g. ms or {request}"`
	Type        string   `json:"type" jsonschema:"OTLP metric type (Gauge, Sum, Histogram, ExponentialHistogram, Summary)"`
	Chart       string   `json:"chart" jsonschema:"How the chart plots it: gauge (raw values) or counter (change per bucket)"`
	Services    []string `json:"services" jsonschema:"Services reporting the instrument"`
}

func (s *Server) handleListInstruments(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListInstrumentsInput,
) (*mcp.CallToolResult, ListInstrumentsOutput, error) {
	infos := s.store.Metrics().Instruments()
	out := make([]InstrumentSummary, len(infos))
	for i, info := range infos {
		out[i] = InstrumentSummary{
			Name:        info.Name,
			Description: info.Description,
			Unit:        info.Unit,
			Type:        info.TypeName,
			Chart:       dashboard.KindOf(info).String(),
			Services:    info.Services,
		}
	}
	return &mcp.CallToolResult{}, ListInstrumentsOutput{Instruments: out}, nil
}

// Tool 3: get_chart

type ChartInput struct {
	Instrument      string `json:"instrument" jsonschema:"Instrument name from list_instruments"`
	Service         string `json:"service,omitempty" jsonschema:"Only chart this service (empty = all services)"`
	DurationSeconds int    `json:"duration_seconds,omitempty" jsonschema:"Window length in seconds, at most 86400 (default from server config)"`
	Buckets         int    `json:"buckets,omitempty" jsonschema:"Number of buckets in the window, 2 to 1000 (default from server config)"`
}

type GetChartOutput struct {
	Instrument  string          `json:"instrument" jsonschema:"Instrument name"`
	Unit        string          `json:"unit,omitempty" jsonschema:"OTel unit"`
	Chart       string          `json:"chart" jsonschema:"gauge or counter"`
	WindowStart string          `json:"window_start" jsonschema:"Window start (RFC3339)"`
	InProgress  string          `json:"in_progress" jsonschema:"Start of the bucket still filling (RFC3339)"`
	Rendered    string          `json:"rendered" jsonschema:"Text rendering with one sparkline per series"`
	Series      []SeriesSummary `json:"series" jsonschema:"Plotted values per series; counters are per-bucket differences"`
	Exemplars   int             `json:"exemplars" jsonschema:"Exemplars in the window"`
	Resolved    int             `json:"resolved_exemplars" jsonschema:"Exemplars whose span has been ingested"`
}

type SeriesSummary struct {
	Name       string     `json:"name" jsonschema:"Series name"`
	Percentile *int       `json:"percentile,omitempty" jsonschema:"Histogram percentile, if any"`
	Values     []*float64 `json:"values" jsonschema:"One value per bucket, null for gaps"`
}

func (s *Server) handleGetChart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ChartInput,
) (*mcp.CallToolResult, GetChartOutput, error) {
	snap, err := s.snapshot(ctx, input)
	if err != nil {
		return nil, GetChartOutput{}, err
	}
	p := snap.payload

	series := make([]SeriesSummary, len(p.Series))
	vizSeries := make([]viz.Series, len(p.Series))
	for i, ps := range p.Series {
		series[i] = SeriesSummary{Name: ps.Name, Percentile: ps.Percentile, Values: ps.Values}
		vizSeries[i] = viz.Series{Name: ps.Name, Values: ps.Values}
	}

	resolved := 0
	for _, r := range p.Resolved {
		if r.Span != nil {
			resolved++
		}
	}

	kind := dashboard.KindOf(snap.info).String()
	rendered := viz.Chart(viz.ChartInfo{
		Title:             p.Instrument,
		Unit:              chart.DisplayUnit(p.Unit, 2),
		Kind:              kind,
		Start:             snap.formatter.Time(p.WindowStart),
		End:               snap.formatter.Time(p.InProgress),
		Series:            vizSeries,
		Exemplars:         len(p.Resolved),
		ResolvedExemplars: resolved,
		FormatValue:       snap.formatter.Value,
	}, 0)

	return &mcp.CallToolResult{}, GetChartOutput{
		Instrument:  p.Instrument,
		Unit:        p.Unit,
		Chart:       kind,
		WindowStart: p.WindowStart.Format(time.RFC3339),
		InProgress:  p.InProgress.Format(time.RFC3339),
		Rendered:    rendered,
		Series:      series,
		Exemplars:   len(p.Resolved),
		Resolved:    resolved,
	}, nil
}

// Tool 4: list_exemplars

type ListExemplarsOutput struct {
	Instrument string            `json:"instrument" jsonschema:"Instrument name"`
	Exemplars  []ExemplarSummary `json:"exemplars" jsonschema:"Exemplars in the window, newest first"`
	Rendered   string            `json:"rendered,omitempty" jsonschema:"Text table of the exemplars"`
}

type ExemplarSummary struct {
	Time    string `json:"time" jsonschema:"Exemplar time (RFC3339)"`
	Value   string `json:"value" jsonschema:"Formatted value with unit"`
	Title   string `json:"title" jsonschema:"'resource: span' once the span is ingested, otherwise 'Trace: <short id>'"`
	TraceID string `json:"trace_id" jsonschema:"Trace ID (hex)"`
	SpanID  string `json:"span_id" jsonschema:"Span ID (hex)"`
	Loaded  bool   `json:"loaded" jsonschema:"Whether get_span will find the span now"`
}

func (s *Server) handleListExemplars(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ChartInput,
) (*mcp.CallToolResult, ListExemplarsOutput, error) {
	snap, err := s.snapshot(ctx, input)
	if err != nil {
		return nil, ListExemplarsOutput{}, err
	}

	rows := chart.ExemplarTable(snap.payload.Resolved, snap.formatter)
	out := make([]ExemplarSummary, len(rows))
	table := make([]viz.ExemplarInfo, len(rows))
	for i, r := range rows {
		out[i] = ExemplarSummary{
			Time:    r.Timestamp.Format(time.RFC3339Nano),
			Value:   r.Value,
			Title:   r.Title,
			TraceID: r.TraceID,
			SpanID:  r.SpanID,
			Loaded:  r.Loaded,
		}
		table[i] = viz.ExemplarInfo{
			Time:    r.Time,
			Value:   r.Value,
			Title:   r.Title,
			TraceID: r.TraceID,
			SpanID:  r.SpanID,
			Loaded:  r.Loaded,
		}
	}

	return &mcp.CallToolResult{}, ListExemplarsOutput{
		Instrument: snap.payload.Instrument,
		Exemplars:  out,
		Rendered:   viz.ExemplarTable(table),
	}, nil
}

// Tool 5: get_span

type GetSpanInput struct {
	TraceID string `json:"trace_id" jsonschema:"Trace ID (hex) from an exemplar"`
	SpanID  string `json:"span_id" jsonschema:"Span ID (hex) from an exemplar"`
}

type GetSpanOutput struct {
	Title      string         `json:"title" jsonschema:"'resource: span' display title"`
	Span       SpanSummary    `json:"span" jsonschema:"The span"`
	Attributes map[string]any `json:"attributes,omitempty" jsonschema:"Span attributes (first 20)"`
	TraceSpans int            `json:"trace_spans" jsonschema:"Spans of the same trace currently stored"`
}

type SpanSummary struct {
	TraceID      string  `json:"trace_id" jsonschema:"Trace ID (hex)"`
	SpanID       string  `json:"span_id" jsonschema:"Span ID (hex)"`
	ParentSpanID string  `json:"parent_span_id,omitempty" jsonschema:"Parent span ID (hex), empty for roots"`
	Name         string  `json:"name" jsonschema:"Span operation name"`
	ServiceName  string  `json:"service_name" jsonschema:"Service name"`
	InstanceID   string  `json:"instance_id,omitempty" jsonschema:"service.instance.id"`
	StartTime    string  `json:"start_time" jsonschema:"Start time (RFC3339)"`
	DurationMs   float64 `json:"duration_ms" jsonschema:"Span duration in milliseconds"`
	Status       string  `json:"status" jsonschema:"OK, ERROR or UNSET"`
}

func (s *Server) handleGetSpan(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetSpanInput,
) (*mcp.CallToolResult, GetSpanOutput, error) {
	if input.TraceID == "" || input.SpanID == "" {
		return nil, GetSpanOutput{}, errors.New("trace_id and span_id are required")
	}

	traces := s.store.Traces()
	stored, ok := traces.GetSpan(input.TraceID, input.SpanID)
	if !ok {
		return nil, GetSpanOutput{}, fmt.Errorf("%w: trace %s span %s (it may not have been exported yet)",
			storage.ErrSpanNotFound, input.TraceID, input.SpanID)
	}

	span := dashboard.ChartSpan(stored)
	attrs := make(map[string]any)
	for i, attr := range stored.Span.GetAttributes() {
		if i >= maxSpanAttributes {
			break
		}
		attrs[attr.Key] = formatAttributeValue(attr.Value)
	}

	return &mcp.CallToolResult{}, GetSpanOutput{
		Title: chart.SpanTitle(span, dashboard.Applications(traces)),
		Span: SpanSummary{
			TraceID:      span.TraceID,
			SpanID:       span.SpanID,
			ParentSpanID: span.ParentSpanID,
			Name:         span.Name,
			ServiceName:  span.ServiceName,
			InstanceID:   span.InstanceID,
			StartTime:    span.Start.Format(time.RFC3339Nano),
			DurationMs:   float64(span.End.Sub(span.Start)) / float64(time.Millisecond),
			Status:       span.StatusCode,
		},
		Attributes: attrs,
		TraceSpans: len(traces.GetSpansByTraceID(input.TraceID)),
	}, nil
}

// Tool 6: clear_data

type ClearDataInput struct{}

type ClearDataOutput struct {
	Message string `json:"message" jsonschema:"Confirmation message"`
}

func (s *Server) handleClearData(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ClearDataInput,
) (*mcp.CallToolResult, ClearDataOutput, error) {
	s.store.Clear()
	return &mcp.CallToolResult{}, ClearDataOutput{
		Message: "Cleared all stored spans and metrics",
	}, nil
}

// Register all tools

func (s *Server) registerTools() error {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_otlp_endpoint",
		Description: "🚀 START HERE: Get the OTLP gRPC endpoint address. Set OTEL_EXPORTER_OTLP_ENDPOINT to it when running programs; one port accepts traces and metrics. Enable exemplars (OTEL_METRICS_EXEMPLAR_FILTER=trace_based) so chart points link to traces.",
	}, s.handleGetOTLPEndpoint)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_instruments",
		Description: "List every metric instrument received so far with its unit, OTLP type, chart kind (gauge or counter) and reporting services. Use the names with get_chart and list_exemplars.",
	}, s.handleListInstruments)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_chart",
		Description: "Render one window of an instrument the way the live dashboard does: bucketed series (counters as change per bucket, histograms as p50/p90/p99), as sparklines plus the raw plotted values. Answers 'what did this metric do over the last few minutes?'.",
	}, s.handleGetChart)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_exemplars",
		Description: "List the exemplars of an instrument in the chart window, newest first, each titled with the span it points at. Exemplars whose trace has not arrived yet are titled 'Trace: <short id>' and marked loaded=false.",
	}, s.handleListExemplars)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_span",
		Description: "Fetch the span an exemplar points at by trace_id and span_id. Fails with 'span not found' until the span has been exported; traces often arrive a few seconds after the metric, so retry shortly.",
	}, s.handleGetSpan)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "clear_data",
		Description: "Wipe all stored spans and metrics. Known instruments disappear until they are reported again.",
	}, s.handleClearData)

	return nil
}

// chartSnapshot is one full redraw captured off the pipeline.
type chartSnapshot struct {
	info      storage.InstrumentInfo
	payload   chart.Payload
	formatter chart.Formatter
}

// snapshot draws the requested window once through a dashboard view.
func (s *Server) snapshot(ctx context.Context, input ChartInput) (chartSnapshot, error) {
	if input.Instrument == "" {
		return chartSnapshot{}, errors.New("instrument is required")
	}

	if input.DurationSeconds < 0 || time.Duration(input.DurationSeconds) > maxDuration/time.Second {
		return chartSnapshot{}, fmt.Errorf("duration_seconds must be between 1 and %d", int(maxDuration/time.Second))
	}
	if input.Buckets != 0 && (input.Buckets < minBuckets || input.Buckets > maxBuckets) {
		return chartSnapshot{}, fmt.Errorf("buckets must be between %d and %d", minBuckets, maxBuckets)
	}

	opts := s.view
	opts.Instrument = input.Instrument
	opts.Service = input.Service
	if input.DurationSeconds > 0 {
		opts.Duration = time.Duration(input.DurationSeconds) * time.Second
	}
	if input.Buckets > 0 {
		opts.BucketCount = input.Buckets
	}

	sink := &captureSink{}
	view, err := dashboard.NewView(s.store, sink, opts)
	if err != nil {
		return chartSnapshot{}, err
	}
	defer view.Close()

	if err := view.Refresh(ctx, false); err != nil {
		return chartSnapshot{}, fmt.Errorf("failed to draw chart: %w", err)
	}

	info := view.Instrument()
	f := opts.Formatter
	f.Unit = info.Unit
	return chartSnapshot{info: info, payload: sink.payload, formatter: f}, nil
}

// captureSink keeps the last payload it was handed.
type captureSink struct {
	payload chart.Payload
}

func (c *captureSink) Initialize(_ context.Context, p chart.Payload, _ chart.ClickHandler) error {
	c.payload = p
	return nil
}

func (c *captureSink) Update(_ context.Context, p chart.Payload) error {
	c.payload = p
	return nil
}

// formatAttributeValue converts an OTLP attribute value to a Go any type.
func formatAttributeValue(value *commonpb.AnyValue) any {
	if value == nil {
		return nil
	}

	switch v := value.Value.(type) {
	case *commonpb.AnyValue_StringValue:
		return v.StringValue
	case *commonpb.AnyValue_IntValue:
		return v.IntValue
	case *commonpb.AnyValue_DoubleValue:
		return v.DoubleValue
	case *commonpb.AnyValue_BoolValue:
		return v.BoolValue
	case *commonpb.AnyValue_BytesValue:
		return fmt.Sprintf("%x", v.BytesValue)
	case *commonpb.AnyValue_ArrayValue:
		result := make([]any, len(v.ArrayValue.Values))
		for i, val := range v.ArrayValue.Values {
			result[i] = formatAttributeValue(val)
		}
		return result
	case *commonpb.AnyValue_KvlistValue:
		result := make(map[string]any)
		for _, kv := range v.KvlistValue.Values {
			result[kv.Key] = formatAttributeValue(kv.Value)
		}
		return result
	default:
		return nil
	}
}
