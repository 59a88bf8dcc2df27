package chart

import "time"

// BuildSeries converts bucketed inputs into plottable series. Counter series
// are difference encoded: the first slot and any slot next to a gap have no
// plotted value. Gauge series plot their raw values.
func BuildSeries(inputs []SeriesInput, kind Kind, f Formatter) []ChartSeries {
	out := make([]ChartSeries, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, buildOne(in, kind, f))
	}
	return out
}

func buildOne(in SeriesInput, kind Kind, f Formatter) ChartSeries {
	n := len(in.Buckets)
	s := ChartSeries{
		Name:       in.Name,
		Percentile: in.Percentile,
		Timestamps: make([]time.Time, n),
		Values:     make([]*float64, n),
		DiffValues: make([]*float64, n),
		Tooltips:   make([]string, n),
	}

	for i, b := range in.Buckets {
		s.Timestamps[i] = b.Timestamp
		s.Values[i] = b.Value
	}

	switch kind {
	case KindCounter:
		for i := 1; i < n; i++ {
			prev, cur := s.Values[i-1], s.Values[i]
			if prev == nil || cur == nil {
				continue
			}
			d := *cur - *prev
			s.DiffValues[i] = &d
		}
	default:
		copy(s.DiffValues, s.Values)
	}

	for i, v := range s.DiffValues {
		if v == nil {
			continue
		}
		s.Tooltips[i] = f.Tooltip(in.Name, *v, s.Timestamps[i])
	}
	return s
}
