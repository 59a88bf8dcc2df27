package viz

import (
	"fmt"
	"math"
	"strings"
)

const (
	defaultChartWidth = 60
	maxNameWidth      = 32
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Chart renders each series as a sparkline with min, max and last values.
// Width caps the sparkline length; longer series keep their most recent
// values. 0 uses a sensible default (60).
func Chart(info ChartInfo, width int) string {
	if width <= 0 {
		width = defaultChartWidth
	}
	format := info.FormatValue
	if format == nil {
		format = func(v float64) string { return fmt.Sprintf("%g", v) }
	}

	var b strings.Builder
	b.WriteString(info.Title)
	if info.Unit != "" {
		fmt.Fprintf(&b, " (%s)", info.Unit)
	}
	if info.Kind != "" {
		fmt.Fprintf(&b, " [%s]", info.Kind)
	}
	b.WriteByte('\n')
	if info.Start != "" || info.End != "" {
		fmt.Fprintf(&b, "  %s → %s\n", info.Start, info.End)
	}

	if len(info.Series) == 0 {
		b.WriteString("  (no data in window)\n")
	}

	nameWidth := 0
	for _, s := range info.Series {
		nameWidth = max(nameWidth, len([]rune(s.Name)))
	}
	nameWidth = min(nameWidth, maxNameWidth)

	for _, s := range info.Series {
		values := s.Values
		if len(values) > width {
			values = values[len(values)-width:]
		}

		fmt.Fprintf(&b, "  %-*s  %s", nameWidth, truncate(s.Name, nameWidth), Sparkline(values))

		lo, hi, last, ok := summarize(values)
		if ok {
			fmt.Fprintf(&b, "  min %s  max %s  last %s", format(lo), format(hi), format(last))
		} else {
			b.WriteString("  no values")
		}
		b.WriteByte('\n')
	}

	if info.Exemplars > 0 {
		fmt.Fprintf(&b, "  Exemplars: %d (%d with spans)\n", info.Exemplars, info.ResolvedExemplars)
	}

	return b.String()
}

// Sparkline maps values onto eight block heights. Gaps render as spaces.
func Sparkline(values []*float64) string {
	lo, hi, _, ok := summarize(values)
	if !ok {
		return strings.Repeat(" ", len(values))
	}

	var b strings.Builder
	for _, v := range values {
		if v == nil || math.IsNaN(*v) {
			b.WriteByte(' ')
			continue
		}
		idx := 0
		if hi > lo {
			idx = int((*v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		idx = max(0, min(idx, len(sparkBlocks)-1))
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

// summarize returns the min, max and last present value.
func summarize(values []*float64) (lo, hi, last float64, ok bool) {
	for _, v := range values {
		if v == nil || math.IsNaN(*v) {
			continue
		}
		if !ok {
			lo, hi = *v, *v
			ok = true
		}
		lo = math.Min(lo, *v)
		hi = math.Max(hi, *v)
		last = *v
	}
	return lo, hi, last, ok
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n || n < 1 {
		return s
	}
	return string(r[:n-1]) + "…"
}
