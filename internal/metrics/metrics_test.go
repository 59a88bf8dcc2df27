package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveChartUpdate(true, 0.1)
	m.ObserveExemplars(1, 2)
	m.ViewOpened()
	m.ViewClosed()
	m.WaitStarted()
	m.WaitFinished("resolved", true)
	m.WaitPolled()
	m.SpansIngested(3)
	m.MetricsIngested(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestWaitSessionCounters(t *testing.T) {
	m := New()

	m.WaitStarted()
	m.WaitStarted()
	m.WaitFinished("cancelled", true)
	m.WaitFinished("resolved", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWaitSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitSessions.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitSessions.WithLabelValues("resolved")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveChartUpdate(false, 0.002)
	m.ObserveExemplars(2, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `otlp_charts_chart_updates_total{kind="tick"} 1`), body)
	assert.True(t, strings.Contains(body, `otlp_charts_exemplars_total{resolved="true"} 2`), body)
}
