// Package dashboard owns live charts: it reads a window of metric data from
// storage, feeds it through a chart.Pipeline and keeps the chart ticking as
// telemetry arrives.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/metrics"
	"github.com/tobert/otlp-charts/internal/storage"
)

// ErrUnknownInstrument is returned when no metric with the requested name
// has been received.
var ErrUnknownInstrument = errors.New("unknown instrument")

const (
	DefaultDuration     = 5 * time.Minute
	DefaultBucketCount  = 60
	DefaultTickInterval = time.Second
)

// Options configures a View.
type Options struct {
	Instrument   string
	Service      string // Empty charts every service
	Duration     time.Duration
	BucketCount  int
	TickInterval time.Duration
	Percentiles  []int
	Formatter    chart.Formatter

	// NewClickHandle is handed to the pipeline; see chart.PipelineConfig.
	NewClickHandle func() chart.ClickHandle

	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *zap.SugaredLogger

	// Now overrides the clock.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Duration <= 0 {
		o.Duration = DefaultDuration
	}
	if o.BucketCount <= 0 {
		o.BucketCount = DefaultBucketCount
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if len(o.Percentiles) == 0 {
		o.Percentiles = storage.DefaultPercentiles
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// View is one live chart of one instrument.
type View struct {
	store    *storage.Store
	opts     Options
	info     storage.InstrumentInfo
	pipeline *chart.Pipeline
	logger   *zap.SugaredLogger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.Mutex
	buckets int // Current bucket count, fitted to the export interval
}

// NewView creates a view of opts.Instrument rendering into sink. It fails
// with ErrUnknownInstrument if the instrument has not been seen.
func NewView(store *storage.Store, sink chart.Sink, opts Options) (*View, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	opts.applyDefaults()

	info, ok := store.Metrics().Instrument(opts.Instrument)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstrument, opts.Instrument)
	}

	f := opts.Formatter
	f.Unit = info.Unit

	logger := opts.Logger.With("instrument", info.Name)
	pipeline, err := chart.NewPipeline(&observedSink{sink: sink, metrics: opts.Metrics}, NewLookup(store.Traces()), chart.PipelineConfig{
		Instrument: chart.Instrument{
			Name:        info.Name,
			Description: info.Description,
			Unit:        info.Unit,
			Kind:        KindOf(info),
		},
		Duration:       opts.Duration,
		Formatter:      f,
		NewClickHandle: opts.NewClickHandle,
		Tracer:         opts.Tracer,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		store:    store,
		opts:     opts,
		info:     info,
		pipeline: pipeline,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		buckets:  opts.BucketCount,
	}
	opts.Metrics.ViewOpened()
	return v, nil
}

// Instrument returns the charted instrument.
func (v *View) Instrument() storage.InstrumentInfo {
	return v.info
}

// Frame reads the current window from storage. When the instrument reports
// too rarely for the configured bucket count the window is redrawn with
// wider buckets, so the returned frame is then a full redraw.
func (v *View) Frame(tick bool) chart.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.opts.Now()
	w := NewWindow(now, v.opts.Duration, v.buckets)
	points := v.store.Metrics().Points(v.info.Name, v.opts.Service, w.Start, w.End())

	interval := ExportInterval(points)
	if fit := FitBucketCount(v.opts.Duration, v.opts.BucketCount, interval); fit != v.buckets {
		v.logger.Debugw("fitting buckets to export interval",
			"interval", interval.String(), "from", v.buckets, "to", fit)
		v.buckets = fit
		w = NewWindow(now, v.opts.Duration, fit)
		points = v.store.Metrics().Points(v.info.Name, v.opts.Service, w.Start, w.End())
		tick = false
	}

	return chart.Frame{
		Series:       BuildInputs(w, v.info, points, v.opts.Percentiles),
		Exemplars:    CollectExemplars(w, points),
		Applications: Applications(v.store.Traces()),
		TickUpdate:   tick,
		InProgress:   w.InProgress,
	}
}

// Refresh runs one update cycle. tick=false forces a full redraw.
func (v *View) Refresh(ctx context.Context, tick bool) error {
	start := time.Now()
	frame := v.Frame(tick)
	err := v.pipeline.Update(ctx, frame)
	v.opts.Metrics.ObserveChartUpdate(!frame.TickUpdate, time.Since(start).Seconds())
	return err
}

// Run draws the chart and then ticks whenever telemetry arrives or the tick
// interval elapses, until ctx is done or the view is closed. Sink errors
// end the loop.
func (v *View) Run(ctx context.Context) error {
	notify, unsubscribe := v.store.Notifier().Subscribe()
	defer unsubscribe()

	if err := v.Refresh(ctx, false); err != nil {
		return err
	}

	ticker := time.NewTicker(v.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.ctx.Done():
			return nil
		case <-notify:
		case <-ticker.C:
		}

		if err := v.Refresh(ctx, true); err != nil {
			v.logger.Debugw("chart update failed", "error", err)
			return err
		}
	}
}

// Cache returns the span cache of the last cycle.
func (v *View) Cache() chart.SpanCache {
	return v.pipeline.Cache()
}

// Close stops Run and tears down the pipeline, cancelling any outstanding
// span wait. Close is idempotent.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		v.pipeline.Close()
		v.opts.Metrics.ViewClosed()
	})
}

// observedSink counts exemplar resolution on the way to the real sink.
type observedSink struct {
	sink    chart.Sink
	metrics *metrics.Metrics
}

func (s *observedSink) Initialize(ctx context.Context, p chart.Payload, clicks chart.ClickHandler) error {
	s.observe(p)
	return s.sink.Initialize(ctx, p, clicks)
}

func (s *observedSink) Update(ctx context.Context, p chart.Payload) error {
	s.observe(p)
	return s.sink.Update(ctx, p)
}

func (s *observedSink) observe(p chart.Payload) {
	resolved := 0
	for _, r := range p.Resolved {
		if r.Span != nil {
			resolved++
		}
	}
	s.metrics.ObserveExemplars(resolved, len(p.Resolved)-resolved)
}
