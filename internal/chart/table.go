package chart

import (
	"sort"
	"time"
)

// ExemplarRow is one entry of the exemplar list shown for an instrument.
type ExemplarRow struct {
	Timestamp time.Time `json:"timestamp"`
	Time      string    `json:"time"`
	Value     string    `json:"value"`
	Title     string    `json:"title"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	Loaded    bool      `json:"loaded"` // Whether the span has been ingested
}

// ExemplarTable lists resolved exemplars newest first.
func ExemplarTable(resolved []ResolvedExemplar, f Formatter) []ExemplarRow {
	rows := make([]ExemplarRow, 0, len(resolved))
	for _, r := range resolved {
		rows = append(rows, ExemplarRow{
			Timestamp: r.Timestamp,
			Time:      f.Time(r.Timestamp),
			Value:     f.ValueWithUnit(r.Value),
			Title:     r.Title,
			TraceID:   r.TraceID,
			SpanID:    r.SpanID,
			Loaded:    r.Span != nil,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
	return rows
}
