package dashboard

import (
	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/storage"
)

// Lookup adapts trace storage to chart.SpanLookup.
type Lookup struct {
	traces *storage.TraceStorage
}

// NewLookup creates a span lookup over traces.
func NewLookup(traces *storage.TraceStorage) *Lookup {
	return &Lookup{traces: traces}
}

// GetSpan implements chart.SpanLookup.
func (l *Lookup) GetSpan(traceID, spanID string) (*chart.Span, bool) {
	s, ok := l.traces.GetSpan(traceID, spanID)
	if !ok {
		return nil, false
	}
	return ChartSpan(s), true
}

// ChartSpan converts a stored span.
func ChartSpan(s *storage.StoredSpan) *chart.Span {
	return &chart.Span{
		TraceID:      s.TraceID,
		SpanID:       s.SpanID,
		ParentSpanID: s.ParentSpanID,
		Name:         s.SpanName,
		ServiceName:  s.ServiceName,
		InstanceID:   s.InstanceID,
		Start:        s.Start(),
		End:          s.End(),
		StatusCode:   s.StatusCode(),
	}
}

// Applications returns the applications known to trace storage.
func Applications(traces *storage.TraceStorage) []chart.Application {
	apps := traces.Applications()
	out := make([]chart.Application, len(apps))
	for i, a := range apps {
		out[i] = chart.Application{Name: a.Name, InstanceID: a.InstanceID}
	}
	return out
}
