// Package viz renders chart data as plain text for terminals and agents.
// It knows nothing about storage or the chart pipeline; callers convert
// into the types below.
package viz

// Series is one named line of a chart. A nil value is a gap.
type Series struct {
	Name   string
	Values []*float64
}

// ChartInfo is the input for Chart.
type ChartInfo struct {
	Title string
	Unit  string // Display unit, e.g. "milliseconds"; empty for none
	Kind  string // "gauge" or "counter"
	Start string // Preformatted window start
	End   string // Preformatted in-progress bucket time

	Series []Series

	Exemplars         int
	ResolvedExemplars int

	// FormatValue renders min/max/last. Nil uses %g.
	FormatValue func(float64) string
}

// ExemplarInfo is one row of the exemplar table.
type ExemplarInfo struct {
	Time    string
	Value   string
	Title   string
	TraceID string
	SpanID  string
	Loaded  bool // Whether the span has been ingested
}

// BufferStats describes buffer fill levels for the stats overview.
type BufferStats struct {
	SpanCount      int
	SpanCapacity   int
	MetricCount    int
	MetricCapacity int
	Instruments    int
	LiveCharts     int
}
