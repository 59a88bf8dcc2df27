package viz

import (
	"fmt"
	"strings"
)

// StatsOverview renders buffer fill-level bars.
func StatsOverview(stats BufferStats) string {
	var b strings.Builder

	b.WriteString("Buffer Health\n")
	writeBar(&b, "Spans", stats.SpanCount, stats.SpanCapacity)
	writeBar(&b, "Metrics", stats.MetricCount, stats.MetricCapacity)
	fmt.Fprintf(&b, "  Instruments: %s\n", formatCount(stats.Instruments))
	fmt.Fprintf(&b, "  Live charts: %d\n", stats.LiveCharts)

	return b.String()
}

func writeBar(b *strings.Builder, label string, count, capacity int) {
	const barWidth = 20
	filled := 0
	if capacity > 0 {
		filled = min(count*barWidth/capacity, barWidth)
	}

	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)
	fmt.Fprintf(b, "  %-8s [%s]  %s / %s\n", label, bar, formatCount(count), formatCount(capacity))
}

func formatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1_000_000, (n%1_000_000)/1000, n%1000)
}
