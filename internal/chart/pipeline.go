package chart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/telemetry"
)

const tracerName = "github.com/tobert/otlp-charts/internal/chart"

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Instrument Instrument
	Duration   time.Duration // Visible window length
	Formatter  Formatter

	// NewClickHandle creates the click handler passed to Sink.Initialize.
	// The previous handle is closed on every full redraw. Nil means clicks
	// are ignored.
	NewClickHandle func() ClickHandle

	Tracer trace.Tracer
	Logger *zap.SugaredLogger
}

// Frame is the input of one update cycle.
type Frame struct {
	Series       []SeriesInput
	Exemplars    []ExemplarPoint
	Applications []Application
	TickUpdate   bool      // false forces a full redraw
	InProgress   time.Time // Start of the bucket still being filled
}

// Pipeline turns frames into payloads for a single chart and owns the span
// cache carried between cycles.
type Pipeline struct {
	cfg    PipelineConfig
	sink   Sink
	lookup SpanLookup
	tracer trace.Tracer
	logger *zap.SugaredLogger

	mu          sync.Mutex
	cache       SpanCache
	clicks      ClickHandle
	initialized bool
	closed      bool
}

// NewPipeline creates a pipeline delivering to sink.
func NewPipeline(sink Sink, lookup SpanLookup, cfg PipelineConfig) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if lookup == nil {
		return nil, errors.New("span lookup cannot be nil")
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", cfg.Duration)
	}

	p := &Pipeline{
		cfg:    cfg,
		sink:   sink,
		lookup: lookup,
		tracer: cfg.Tracer,
		logger: cfg.Logger,
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	return p, nil
}

// Update runs one cycle. The first call after construction is always a full
// redraw, whatever fr.TickUpdate says. Updates after Close are ignored.
func (p *Pipeline) Update(ctx context.Context, fr Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	full := !fr.TickUpdate || !p.initialized
	ctx, span := p.tracer.Start(ctx, "chart.update", trace.WithAttributes(
		attribute.String("chart.instrument", p.cfg.Instrument.Name),
		attribute.Bool("chart.full_redraw", full),
		attribute.Int("chart.series", len(fr.Series)),
		attribute.Int("chart.exemplars", len(fr.Exemplars)),
	))
	defer span.End()

	f := p.cfg.Formatter
	series := BuildSeries(fr.Series, p.cfg.Instrument.Kind, f)
	resolved, next := Correlate(fr.Exemplars, p.cache, p.lookup, fr.Applications, f)
	p.cache = next

	span.SetAttributes(attribute.Int("chart.cached_spans", next.Len()))

	payload := p.payload(series, resolved, fr.InProgress)

	if !full {
		if err := p.sink.Update(ctx, payload); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to update chart: %w", err)
		}
		return nil
	}

	hints := f.Hints()
	payload.Locale = &hints

	if p.clicks != nil {
		p.clicks.Close()
		p.clicks = nil
	}
	var handler ClickHandler = ignoreClicks{}
	if p.cfg.NewClickHandle != nil {
		p.clicks = p.cfg.NewClickHandle()
		handler = p.clicks
	}

	if err := p.sink.Initialize(ctx, payload, handler); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to initialize chart: %w", err)
	}
	p.initialized = true
	p.logger.Debugw("chart initialized",
		"instrument", p.cfg.Instrument.Name,
		"series", len(series),
		"exemplars", len(resolved),
		"trace.id", telemetry.TraceIDFromContext(ctx))
	return nil
}

// Cache returns the span cache published by the last cycle.
func (p *Pipeline) Cache() SpanCache {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache
}

// Close releases the current click handle. Close is idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	if p.clicks != nil {
		p.clicks.Close()
		p.clicks = nil
	}
}

func (p *Pipeline) payload(series []ChartSeries, resolved []ResolvedExemplar, inProgress time.Time) Payload {
	f := p.cfg.Formatter
	pl := Payload{
		Instrument:  p.cfg.Instrument.Name,
		Unit:        p.cfg.Instrument.Unit,
		Series:      make([]PayloadSeries, 0, len(series)),
		InProgress:  f.Localize(inProgress),
		WindowStart: f.Localize(inProgress.Add(-p.cfg.Duration)),
		Resolved:    resolved,
	}

	for _, s := range series {
		ts := make([]time.Time, len(s.Timestamps))
		for i, t := range s.Timestamps {
			ts[i] = f.Localize(t)
		}
		pl.Series = append(pl.Series, PayloadSeries{
			Name:       s.Name,
			Percentile: s.Percentile,
			Timestamps: ts,
			Values:     s.DiffValues,
			Tooltips:   s.Tooltips,
		})
	}

	ex := ExemplarSeries{
		Timestamps: make([]time.Time, 0, len(resolved)),
		Values:     make([]float64, 0, len(resolved)),
		Tooltips:   make([]string, 0, len(resolved)),
		Titles:     make([]string, 0, len(resolved)),
		TraceIDs:   make([]string, 0, len(resolved)),
		SpanIDs:    make([]string, 0, len(resolved)),
	}
	for _, r := range resolved {
		ex.Timestamps = append(ex.Timestamps, f.Localize(r.Timestamp))
		ex.Values = append(ex.Values, r.Value)
		ex.Tooltips = append(ex.Tooltips, r.Tooltip)
		ex.Titles = append(ex.Titles, r.Title)
		ex.TraceIDs = append(ex.TraceIDs, r.TraceID)
		ex.SpanIDs = append(ex.SpanIDs, r.SpanID)
	}
	pl.Exemplars = ex
	return pl
}

type ignoreClicks struct{}

func (ignoreClicks) ViewSpan(context.Context, string, string) {}
