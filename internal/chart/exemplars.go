package chart

// SpanKey identifies a span across traces.
type SpanKey struct {
	TraceID string
	SpanID  string
}

// SpanCache is an immutable set of spans found during one update cycle.
// The zero value is an empty cache.
type SpanCache struct {
	spans map[SpanKey]*Span
}

// NewSpanCache builds a cache from found spans. The map is copied.
func NewSpanCache(spans map[SpanKey]*Span) SpanCache {
	m := make(map[SpanKey]*Span, len(spans))
	for k, v := range spans {
		m[k] = v
	}
	return SpanCache{spans: m}
}

// Lookup returns the cached span for key.
func (c SpanCache) Lookup(key SpanKey) (*Span, bool) {
	s, ok := c.spans[key]
	return s, ok
}

// Len returns the number of cached spans.
func (c SpanCache) Len() int {
	return len(c.spans)
}

// Correlate resolves exemplar points against trace data. Points without a
// trace or span id are dropped. Each remaining point is looked up in prev
// first and then through lookup; only found spans go into the returned
// cache, so missing spans are asked for again next cycle. Output order
// follows input order.
func Correlate(points []ExemplarPoint, prev SpanCache, lookup SpanLookup, apps []Application, f Formatter) ([]ResolvedExemplar, SpanCache) {
	out := make([]ResolvedExemplar, 0, len(points))
	found := make(map[SpanKey]*Span)

	for _, p := range points {
		if p.TraceID == "" || p.SpanID == "" {
			continue
		}

		key := SpanKey{TraceID: p.TraceID, SpanID: p.SpanID}
		span, ok := prev.Lookup(key)
		if !ok && lookup != nil {
			span, ok = lookup.GetSpan(p.TraceID, p.SpanID)
		}

		var title string
		if ok && span != nil {
			found[key] = span
			title = SpanTitle(span, apps)
		} else {
			span = nil
			title = "Trace: " + ShortenID(p.TraceID)
		}

		out = append(out, ResolvedExemplar{
			Timestamp: p.Timestamp,
			Value:     p.Value,
			TraceID:   p.TraceID,
			SpanID:    p.SpanID,
			Title:     title,
			Tooltip:   f.Tooltip(title, p.Value, p.Timestamp),
			Span:      span,
		})
	}

	return out, SpanCache{spans: found}
}

// SpanTitle names a span as "<resource>: <span name>".
func SpanTitle(span *Span, apps []Application) string {
	return ResourceName(span.ServiceName, span.InstanceID, apps) + ": " + span.Name
}

// ResourceName returns the application name, qualified with a shortened
// instance id when more than one instance of the application is known.
func ResourceName(name, instanceID string, apps []Application) string {
	if instanceID == "" {
		return name
	}
	replicas := 0
	for _, a := range apps {
		if a.Name == name {
			replicas++
		}
	}
	if replicas > 1 {
		return name + "-" + ShortenID(instanceID)
	}
	return name
}
