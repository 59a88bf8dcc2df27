// Package spanwait navigates to a span from a chart click, waiting for the
// span to be ingested when it is not there yet.
//
// A click opens a session. If the span is already known the coordinator
// navigates immediately. Otherwise it shows a cancellable prompt and polls
// the lookup until the span shows up, the user cancels, or the session is
// superseded by a newer click or by Close. There is no timeout.
package spanwait

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/metrics"
	"github.com/tobert/otlp-charts/internal/telemetry"
)

// DefaultPollInterval is how often a waiting session retries the lookup.
const DefaultPollInterval = 500 * time.Millisecond

// Navigator opens the trace detail view for a span.
type Navigator interface {
	GoTo(ctx context.Context, traceID, spanID string) error
}

// Config configures a Coordinator.
type Config struct {
	PollInterval time.Duration
	Logger       *zap.SugaredLogger
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
}

// Coordinator runs span wait sessions for one chart. It has at most one
// outstanding session; a new click supersedes the previous one.
type Coordinator struct {
	lookup   chart.SpanLookup
	prompter Prompter
	nav      Navigator
	interval time.Duration
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Session
	closed  bool
}

// New creates a coordinator.
func New(lookup chart.SpanLookup, prompter Prompter, nav Navigator, cfg Config) (*Coordinator, error) {
	if lookup == nil {
		return nil, errors.New("span lookup cannot be nil")
	}
	if prompter == nil {
		return nil, errors.New("prompter cannot be nil")
	}
	if nav == nil {
		return nil, errors.New("navigator cannot be nil")
	}

	c := &Coordinator{
		lookup:   lookup,
		prompter: prompter,
		nav:      nav,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.logger == nil {
		c.logger = zap.NewNop().Sugar()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/tobert/otlp-charts/internal/spanwait")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// ViewSpan starts Resolve in the background. It satisfies chart.ClickHandler.
func (c *Coordinator) ViewSpan(ctx context.Context, traceID, spanID string) {
	go c.Resolve(ctx, traceID, spanID)
}

// Resolve navigates to the span, waiting for it if needed, and returns how
// the request ended. It returns StateSuperseded without doing anything once
// the coordinator is closed.
func (c *Coordinator) Resolve(ctx context.Context, traceID, spanID string) State {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return StateSuperseded
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, span := c.tracer.Start(ctx, "spanwait.resolve", trace.WithAttributes(
		attribute.String("trace.id", traceID),
		attribute.String("span.id", spanID),
	))
	defer span.End()

	if traceID == "" || spanID == "" {
		c.logger.Warnw("ignoring view span request without ids", "trace_id", traceID, "span_id", spanID)
		span.SetAttributes(attribute.String("spanwait.outcome", StateCancelled.String()))
		return StateCancelled
	}

	if _, ok := c.lookup.GetSpan(traceID, spanID); ok {
		c.navigate(ctx, traceID, spanID)
		c.metrics.WaitFinished(StateResolved.String(), false)
		span.SetAttributes(attribute.String("spanwait.outcome", StateResolved.String()))
		return StateResolved
	}

	s := c.begin(ctx, traceID, spanID)
	c.metrics.WaitStarted()
	c.logger.Debugw("waiting for span", "session", s.ID, "trace_id", traceID, "span_id", spanID,
		"trace.id", telemetry.TraceIDFromContext(ctx))

	outcome := c.wait(s)
	c.end(s)

	c.metrics.WaitFinished(outcome.String(), true)
	span.SetAttributes(
		attribute.String("spanwait.session", s.ID),
		attribute.String("spanwait.outcome", outcome.String()),
	)
	c.logger.Debugw("span wait finished", "session", s.ID, "outcome", outcome.String(),
		"waited", time.Since(s.Started).String(), "trace.id", telemetry.TraceIDFromContext(ctx))

	if outcome == StateResolved && c.ctx.Err() == nil {
		c.navigate(ctx, traceID, spanID)
	}
	return outcome
}

// wait shows the prompt and races the poll loop against the user, returning
// the decided outcome once the poll loop has exited.
func (c *Coordinator) wait(s *Session) State {
	prompt, err := c.prompter.Show(s.ctx, fmt.Sprintf("Waiting for trace %s to load...", chart.ShortenID(s.TraceID)))
	if err != nil {
		c.logger.Errorw("failed to show wait prompt", "session", s.ID, "error", err)
		s.decide(StateCancelled)
		s.cancel()
		return s.State()
	}

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		c.poll(s, prompt)
	}()

	// The prompt is the single decision point. Poll only dismisses it, so
	// whichever of the user and the poll loop closes it first decides.
	result, err := prompt.Wait(s.ctx)
	switch {
	case err != nil:
		s.decide(StateSuperseded)
	case result == PromptConfirmed:
		s.decide(StateResolved)
	default:
		s.decide(StateCancelled)
	}

	s.cancel()
	<-pollDone
	return s.State()
}

func (c *Coordinator) poll(s *Session, prompt Prompt) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		if s.ctx.Err() != nil {
			return
		}

		c.metrics.WaitPolled()
		if _, ok := c.lookup.GetSpan(s.TraceID, s.SpanID); ok {
			prompt.Dismiss(PromptConfirmed)
			return
		}
	}
}

func (c *Coordinator) navigate(ctx context.Context, traceID, spanID string) {
	if err := c.nav.GoTo(ctx, traceID, spanID); err != nil {
		c.logger.Warnw("failed to navigate to span", "trace_id", traceID, "span_id", spanID, "error", err)
	}
}

func (c *Coordinator) begin(parent context.Context, traceID, spanID string) *Session {
	ctx, cancel := context.WithCancel(c.ctx)
	stop := context.AfterFunc(parent, cancel)

	s := &Session{
		ID:      uuid.NewString(),
		TraceID: traceID,
		SpanID:  spanID,
		Started: time.Now(),
		ctx:     ctx,
		cancel: func() {
			stop()
			cancel()
		},
		state: StateWaiting,
	}

	c.mu.Lock()
	prev := c.current
	c.current = s
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return s
}

func (c *Coordinator) end(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}

// Current returns the outstanding session, or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close supersedes the outstanding session and waits until its poll loop
// has stopped. Later calls to Resolve do nothing. Close is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
