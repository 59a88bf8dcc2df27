package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// ErrSpanNotFound is returned when a span is not (or no longer) stored.
var ErrSpanNotFound = errors.New("span not found")

// StoredSpan wraps a protobuf span with indexed fields for efficient querying.
// It preserves the full OTLP hierarchy: ResourceSpans -> ScopeSpans -> Span.
type StoredSpan struct {
	ResourceSpan *tracepb.ResourceSpans
	ScopeSpan    *tracepb.ScopeSpans
	Span         *tracepb.Span

	// Indexed fields for fast lookup
	TraceID      string
	SpanID       string
	ParentSpanID string
	ServiceName  string
	InstanceID   string
	SpanName     string
}

// Start returns the span start time.
func (s *StoredSpan) Start() time.Time {
	return nanosToTime(s.Span.GetStartTimeUnixNano())
}

// End returns the span end time.
func (s *StoredSpan) End() time.Time {
	return nanosToTime(s.Span.GetEndTimeUnixNano())
}

// StatusCode returns the short status name: OK, ERROR or UNSET.
func (s *StoredSpan) StatusCode() string {
	switch s.Span.GetStatus().GetCode() {
	case tracepb.Status_STATUS_CODE_OK:
		return "OK"
	case tracepb.Status_STATUS_CODE_ERROR:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// spanKey indexes stored spans.
type spanKey struct {
	TraceID string
	SpanID  string
}

// Application is a distinct (service.name, service.instance.id) pair seen
// in trace data.
type Application struct {
	Name       string `json:"name"`
	InstanceID string `json:"instance_id,omitempty"`
}

// TraceStorage stores and indexes OTLP trace spans. Spans evicted from the
// ring buffer are removed from the indexes, so lookups only ever return
// spans that are still stored.
type TraceStorage struct {
	spans      *RingBuffer[*StoredSpan]
	mu         sync.RWMutex // protects the indexes
	traceIndex map[string][]*StoredSpan
	spanIndex  map[spanKey]*StoredSpan
	apps       map[Application]struct{}
}

// NewTraceStorage creates a new trace storage with the specified capacity.
func NewTraceStorage(capacity int) *TraceStorage {
	return &TraceStorage{
		spans:      NewRingBuffer[*StoredSpan](capacity),
		traceIndex: make(map[string][]*StoredSpan),
		spanIndex:  make(map[spanKey]*StoredSpan),
		apps:       make(map[Application]struct{}),
	}
}

// ReceiveSpans stores received spans and updates the indexes. It returns
// the number of spans stored.
func (ts *TraceStorage) ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) (int, error) {
	n := 0
	for _, rs := range resourceSpans {
		serviceName := extractServiceName(rs.Resource)
		instanceID := extractResourceAttr(rs.Resource, "service.instance.id")

		for _, ss := range rs.ScopeSpans {
			for _, span := range ss.Spans {
				ts.addSpan(&StoredSpan{
					ResourceSpan: rs,
					ScopeSpan:    ss,
					Span:         span,
					TraceID:      idToString(span.TraceId),
					SpanID:       idToString(span.SpanId),
					ParentSpanID: idToString(span.ParentSpanId),
					ServiceName:  serviceName,
					InstanceID:   instanceID,
					SpanName:     span.Name,
				})
				n++
			}
		}
	}

	return n, nil
}

func (ts *TraceStorage) addSpan(span *StoredSpan) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if evicted, ok := ts.spans.Add(span); ok {
		ts.unindex(evicted)
	}

	ts.traceIndex[span.TraceID] = append(ts.traceIndex[span.TraceID], span)
	ts.spanIndex[spanKey{TraceID: span.TraceID, SpanID: span.SpanID}] = span
	ts.apps[Application{Name: span.ServiceName, InstanceID: span.InstanceID}] = struct{}{}
}

// unindex removes an evicted span. Caller holds ts.mu.
func (ts *TraceStorage) unindex(span *StoredSpan) {
	key := spanKey{TraceID: span.TraceID, SpanID: span.SpanID}
	if ts.spanIndex[key] == span {
		delete(ts.spanIndex, key)
	}

	spans := ts.traceIndex[span.TraceID]
	for i, s := range spans {
		if s == span {
			spans = append(spans[:i:i], spans[i+1:]...)
			break
		}
	}
	if len(spans) == 0 {
		delete(ts.traceIndex, span.TraceID)
	} else {
		ts.traceIndex[span.TraceID] = spans
	}
}

// GetSpan returns the span with the given ids.
func (ts *TraceStorage) GetSpan(traceID, spanID string) (*StoredSpan, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	s, ok := ts.spanIndex[spanKey{TraceID: traceID, SpanID: spanID}]
	return s, ok
}

// GetSpansByTraceID returns all spans for a given trace ID.
// Returns nil if no spans are found for the trace ID.
func (ts *TraceStorage) GetSpansByTraceID(traceID string) []*StoredSpan {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	spans := ts.traceIndex[traceID]
	if len(spans) == 0 {
		return nil
	}

	result := make([]*StoredSpan, len(spans))
	copy(result, spans)
	return result
}

// Applications returns every application seen so far, sorted by name and
// instance id.
func (ts *TraceStorage) Applications() []Application {
	ts.mu.RLock()
	apps := make([]Application, 0, len(ts.apps))
	for a := range ts.apps {
		apps = append(apps, a)
	}
	ts.mu.RUnlock()

	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Name != apps[j].Name {
			return apps[i].Name < apps[j].Name
		}
		return apps[i].InstanceID < apps[j].InstanceID
	})
	return apps
}

// Stats returns current storage statistics.
func (ts *TraceStorage) Stats() TraceStorageStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return TraceStorageStats{
		SpanCount:  ts.spans.Size(),
		Capacity:   ts.spans.Capacity(),
		TraceCount: len(ts.traceIndex),
		Received:   ts.spans.Total(),
	}
}

// Clear removes all stored spans and resets indexes. Known applications are
// kept.
func (ts *TraceStorage) Clear() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.spans.Clear()
	ts.traceIndex = make(map[string][]*StoredSpan)
	ts.spanIndex = make(map[spanKey]*StoredSpan)
}

// TraceStorageStats contains statistics about trace storage.
type TraceStorageStats struct {
	SpanCount  int    `json:"span_count"`
	Capacity   int    `json:"capacity"`
	TraceCount int    `json:"trace_count"`
	Received   uint64 `json:"received"`
}

// extractServiceName extracts the service.name attribute from an OTLP resource.
// Returns "unknown" if the service name is not found.
func extractServiceName(resource *resourcepb.Resource) string {
	if name := extractResourceAttr(resource, "service.name"); name != "" {
		return name
	}
	return "unknown"
}

func extractResourceAttr(resource *resourcepb.Resource, key string) string {
	if resource == nil {
		return ""
	}
	return stringAttr(resource.Attributes, key)
}

func stringAttr(attrs []*commonpb.KeyValue, key string) string {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value.GetStringValue()
		}
	}
	return ""
}

// idToString converts a trace or span id to lowercase hex. Empty ids stay
// empty.
func idToString(id []byte) string {
	return hex.EncodeToString(id)
}

func nanosToTime(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns))
}
