package viz

import (
	"fmt"
	"strings"
)

const maxExemplarRows = 50

// ExemplarTable renders a compact table of exemplars, newest first as
// given. Rows beyond 50 are summarized.
func ExemplarTable(rows []ExemplarInfo) string {
	if len(rows) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Exemplars (%d)\n", len(rows))

	overflow := 0
	if len(rows) > maxExemplarRows {
		overflow = len(rows) - maxExemplarRows
		rows = rows[:maxExemplarRows]
	}

	for _, r := range rows {
		title := truncate(r.Title, 40)
		fmt.Fprintf(&b, "  %s %-12s %14s  %-40s  %s\n", loadedIcon(r.Loaded), r.Time, r.Value, title, r.SpanID)
	}

	if overflow > 0 {
		fmt.Fprintf(&b, "  ... +%d more\n", overflow)
	}
	return b.String()
}

func loadedIcon(loaded bool) string {
	if loaded {
		return "✓"
	}
	return "·"
}
