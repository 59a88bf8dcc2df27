package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/metrics"
	"github.com/tobert/otlp-charts/internal/spanwait"
)

var (
	traceA = []byte{0xab, 0xc0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	spanA  = []byte{1, 0, 0, 0, 0, 0, 0, 1}
)

const (
	traceAHex = "abc00000000000000000000000000001"
	spanAHex  = "0100000000000001"
)

func TestNewViewUnknownInstrument(t *testing.T) {
	_, err := NewView(newTestStore(), newRecordingSink(), testOptions("missing"))
	assert.True(t, errors.Is(err, ErrUnknownInstrument))

	_, err = NewView(nil, newRecordingSink(), testOptions("missing"))
	assert.Error(t, err)
}

func TestCounterDifferences(t *testing.T) {
	st := newTestStore()
	receive(t, st, counter("api", "http.requests", at(1), 1))
	receive(t, st, counter("api", "http.requests", at(12), 3))
	receive(t, st, counter("api", "http.requests", at(30.2), 7))

	sink := newRecordingSink()
	v, err := NewView(st, sink, testOptions("http.requests"))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Refresh(context.Background(), true))

	c := sink.last(t)
	assert.True(t, c.full, "first update is a full redraw")
	require.Len(t, c.payload.Series, 1)

	s := c.payload.Series[0]
	assert.Equal(t, "http.requests", s.Name)
	require.Len(t, s.Values, 4)
	assert.Nil(t, s.Values[0])
	require.NotNil(t, s.Values[1])
	assert.Equal(t, 2.0, *s.Values[1])
	assert.Nil(t, s.Values[2])
	assert.Nil(t, s.Values[3])

	assert.Equal(t, at(30), c.payload.InProgress)
	assert.Equal(t, at(-10), c.payload.WindowStart)
	assert.Equal(t, "{request}", c.payload.Unit)
	require.NotNil(t, c.payload.Locale)
	assert.Equal(t, "%H:%M:%S", c.payload.Locale.TimeFormat)
}

func TestSparseCounterWidensBuckets(t *testing.T) {
	st := newTestStore()
	for i, sec := range []float64{60.5, 120.5, 180.5, 240.5, 300.2} {
		receive(t, st, counter("api", "http.requests", at(sec), int64(10*(i+1))))
	}

	opts := testOptions("http.requests")
	opts.Duration = 5 * time.Minute
	opts.BucketCount = 60
	opts.Now = func() time.Time { return at(300.5) }

	sink := newRecordingSink()
	v, err := NewView(st, sink, opts)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Refresh(context.Background(), true))
	c := sink.last(t)
	assert.True(t, c.full, "a change of bucket width redraws the chart")
	require.Len(t, c.payload.Series, 1)

	s := c.payload.Series[0]
	require.Len(t, s.Values, 5, "one-minute exports get one-minute buckets")
	assert.Nil(t, s.Values[0])
	for i := 1; i < len(s.Values); i++ {
		require.NotNil(t, s.Values[i], "slot %d", i)
		assert.Equal(t, 10.0, *s.Values[i])
	}
	assert.Equal(t, at(300), c.payload.InProgress)

	require.NoError(t, v.Refresh(context.Background(), true))
	c = sink.last(t)
	assert.False(t, c.full, "a steady bucket width keeps ticking")
	assert.Len(t, c.payload.Series[0].Values, 5)
}

func TestGaugeTooltips(t *testing.T) {
	st := newTestStore()
	receive(t, st, gauge("api", "latency", at(2), 1500))

	sink := newRecordingSink()
	v, err := NewView(st, sink, testOptions("latency"))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Refresh(context.Background(), false))

	s := sink.last(t).payload.Series[0]
	require.NotNil(t, s.Values[0])
	assert.Equal(t, 1500.0, *s.Values[0])
	assert.Equal(t, "<b>latency</b><br />Value: 1,500 milliseconds<br />Time: 10:00:00", s.Tooltips[0])
	assert.Equal(t, "", s.Tooltips[1])
}

func TestHistogramPercentileSeries(t *testing.T) {
	st := newTestStore()
	receive(t, st, histogram("api", "http.duration", at(3)))

	sink := newRecordingSink()
	v, err := NewView(st, sink, testOptions("http.duration"))
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Refresh(context.Background(), false))

	series := sink.last(t).payload.Series
	require.Len(t, series, 3)
	for i, p := range []int{50, 90, 99} {
		require.NotNil(t, series[i].Percentile)
		assert.Equal(t, p, *series[i].Percentile)
		require.NotNil(t, series[i].Values[0], "p%d", p)
	}
	assert.Equal(t, "http.duration p50", series[0].Name)
	assert.LessOrEqual(t, *series[0].Values[0], *series[2].Values[0])
}

func TestExemplarsResolveAsSpansArrive(t *testing.T) {
	st := newTestStore()
	receive(t, st, counter("api", "http.requests", at(5), 1, exemplar(at(5), 1, traceA, spanA)))

	m := metrics.New()
	opts := testOptions("http.requests")
	opts.Metrics = m

	sink := newRecordingSink()
	v, err := NewView(st, sink, opts)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Refresh(context.Background(), false))
	ex := sink.last(t).payload.Exemplars
	require.Len(t, ex.Titles, 1)
	assert.Equal(t, "Trace: abc0000…", ex.Titles[0])
	assert.Equal(t, traceAHex, ex.TraceIDs[0])
	assert.Equal(t, spanAHex, ex.SpanIDs[0])
	assert.Equal(t, 0, v.Cache().Len(), "misses are not cached")

	receiveSpans(t, st, span("api", traceA, spanA, "GET /users"))

	require.NoError(t, v.Refresh(context.Background(), true))
	c := sink.last(t)
	assert.False(t, c.full)
	assert.Equal(t, "api: GET /users", c.payload.Exemplars.Titles[0])
	assert.Equal(t, 1, v.Cache().Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExemplarsResolved.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExemplarsResolved.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChartUpdates.WithLabelValues("full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveViews))
}

func TestRunTicksOnIngest(t *testing.T) {
	st := newTestStore()
	receive(t, st, gauge("api", "latency", at(2), 1))

	sink := newRecordingSink()
	v, err := NewView(st, sink, testOptions("latency"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- v.Run(context.Background()) }()

	first := sink.next(t)
	assert.True(t, first.full)

	receive(t, st, gauge("api", "latency", at(12), 2))
	tick := sink.next(t)
	assert.False(t, tick.full)
	require.NotNil(t, tick.payload.Series[0].Values[1])
	assert.Equal(t, 2.0, *tick.payload.Series[0].Values[1])

	v.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	// Close is idempotent.
	v.Close()
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := newTestStore()
	receive(t, st, gauge("api", "latency", at(2), 1))

	v, err := NewView(st, newRecordingSink(), testOptions("latency"))
	require.NoError(t, err)
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// blockingPrompter shows prompts that only close when dismissed.
type blockingPrompter struct {
	shown chan struct{}
}

func (p *blockingPrompter) Show(context.Context, string) (spanwait.Prompt, error) {
	p.shown <- struct{}{}
	return spanwait.NewPending(nil), nil
}

type navigations struct {
	mu    sync.Mutex
	calls [][2]string
}

func (n *navigations) GoTo(_ context.Context, traceID, spanID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, [2]string{traceID, spanID})
	return nil
}

func (n *navigations) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func clickableView(t *testing.T, nav *navigations, prompter *blockingPrompter) (*View, *recordingSink, chan *spanwait.Coordinator) {
	t.Helper()

	st := newTestStore()
	receive(t, st, counter("api", "http.requests", at(5), 1, exemplar(at(5), 1, traceA, spanA)))

	coordinators := make(chan *spanwait.Coordinator, 4)
	opts := testOptions("http.requests")
	opts.NewClickHandle = func() chart.ClickHandle {
		c, err := spanwait.New(NewLookup(st.Traces()), prompter, nav, spanwait.Config{PollInterval: 10 * time.Millisecond})
		require.NoError(t, err)
		coordinators <- c
		return c
	}

	sink := newRecordingSink()
	v, err := NewView(st, sink, opts)
	require.NoError(t, err)
	require.NoError(t, v.Refresh(context.Background(), false))
	return v, sink, coordinators
}

func TestClickWaitsForLateSpan(t *testing.T) {
	nav := &navigations{}
	prompter := &blockingPrompter{shown: make(chan struct{}, 1)}
	v, sink, coordinators := clickableView(t, nav, prompter)
	defer v.Close()

	c := <-coordinators
	clicks := sink.last(t).clicks
	ex := sink.last(t).payload.Exemplars
	clicks.ViewSpan(context.Background(), ex.TraceIDs[0], ex.SpanIDs[0])

	select {
	case <-prompter.shown:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt was not shown")
	}
	require.NotNil(t, c.Current())

	receiveSpans(t, v.store, span("api", traceA, spanA, "GET /users"))

	require.Eventually(t, func() bool { return nav.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	nav.mu.Lock()
	assert.Equal(t, [2]string{traceAHex, spanAHex}, nav.calls[0])
	nav.mu.Unlock()
}

func TestCloseCancelsWaitingSession(t *testing.T) {
	nav := &navigations{}
	prompter := &blockingPrompter{shown: make(chan struct{}, 1)}
	v, sink, coordinators := clickableView(t, nav, prompter)

	c := <-coordinators
	assert.Same(t, c, sink.last(t).clicks)

	resolved := make(chan spanwait.State, 1)
	go func() {
		resolved <- c.Resolve(context.Background(), traceAHex, spanAHex)
	}()
	<-prompter.shown

	v.Close()

	select {
	case state := <-resolved:
		assert.Equal(t, spanwait.StateSuperseded, state)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on Close")
	}

	receiveSpans(t, v.store, span("api", traceA, spanA, "GET /users"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, nav.count())
}
