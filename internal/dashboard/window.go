package dashboard

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/storage"
)

// Window is the bucketed x-axis of a chart. Slot i starts at
// Start + i*Step; the last slot starts at InProgress and is still filling.
type Window struct {
	Start      time.Time
	InProgress time.Time
	Step       time.Duration
	Count      int
}

// NewWindow aligns count slots of duration/count each so that the last one
// contains now.
func NewWindow(now time.Time, duration time.Duration, count int) Window {
	if count < 1 {
		count = 1
	}
	step := duration / time.Duration(count)
	if step <= 0 {
		step = time.Second
	}
	inProgress := now.Truncate(step)
	return Window{
		Start:      inProgress.Add(-time.Duration(count-1) * step),
		InProgress: inProgress,
		Step:       step,
		Count:      count,
	}
}

// End is the exclusive end of the in-progress slot.
func (w Window) End() time.Time {
	return w.InProgress.Add(w.Step)
}

// Slot returns the index of the slot containing t, or -1.
func (w Window) Slot(t time.Time) int {
	if t.Before(w.Start) || !t.Before(w.End()) {
		return -1
	}
	return int(t.Sub(w.Start) / w.Step)
}

// ExportInterval estimates how often series report: the lower median gap
// between consecutive points of the same series. points must be ordered by
// time. It returns 0 when no series has two points.
func ExportInterval(points []storage.DataPoint) time.Duration {
	last := make(map[seriesKey]time.Time)
	var gaps []time.Duration
	for _, dp := range points {
		k := seriesKey{service: dp.ServiceName, attrs: dp.Series}
		if prev, ok := last[k]; ok {
			if gap := dp.Timestamp.Sub(prev); gap > 0 {
				gaps = append(gaps, gap)
			}
		}
		last[k] = dp.Timestamp
	}
	if len(gaps) == 0 {
		return 0
	}
	slices.Sort(gaps)
	return gaps[(len(gaps)-1)/2]
}

// FitBucketCount widens the slots of a window when series report less often
// than every other slot, so consecutive reports land in adjacent slots and
// counter differences are not all gaps. It never returns more than count.
func FitBucketCount(duration time.Duration, count int, interval time.Duration) int {
	if count <= 2 || interval <= 2*(duration/time.Duration(count)) {
		return count
	}
	return min(count, max(2, int(duration/interval)))
}

// Timestamps returns the start of every slot.
func (w Window) Timestamps() []time.Time {
	ts := make([]time.Time, w.Count)
	for i := range ts {
		ts[i] = w.Start.Add(time.Duration(i) * w.Step)
	}
	return ts
}

// Buckets places each (timestamp, value) into its slot. A slot takes the
// latest value that falls into it; slots without values stay nil.
func (w Window) Buckets(times []time.Time, values []float64) []chart.SampleBucket {
	out := make([]chart.SampleBucket, w.Count)
	latest := make([]time.Time, w.Count)
	for i, ts := range w.Timestamps() {
		out[i].Timestamp = ts
	}

	for i, t := range times {
		slot := w.Slot(t)
		if slot < 0 {
			continue
		}
		if out[slot].Value != nil && t.Before(latest[slot]) {
			continue
		}
		v := values[i]
		out[slot].Value = &v
		latest[slot] = t
	}
	return out
}

// KindOf picks the plotting kind of an instrument. Only monotonic
// cumulative sums are plotted as differences.
func KindOf(info storage.InstrumentInfo) chart.Kind {
	if info.Type == storage.MetricTypeSum && info.Monotonic && info.Cumulative {
		return chart.KindCounter
	}
	return chart.KindGauge
}

type seriesKey struct {
	service string
	attrs   string
}

type samples struct {
	times  []time.Time
	values []float64
}

// BuildInputs groups data points into named series over w. Histogram
// instruments produce one series per percentile. Series are ordered by
// name, then percentile.
func BuildInputs(w Window, info storage.InstrumentInfo, points []storage.DataPoint, percentiles []int) []chart.SeriesInput {
	services := make(map[string]struct{})
	for _, dp := range points {
		services[dp.ServiceName] = struct{}{}
	}
	multiService := len(services) > 1

	histogram := info.Type == storage.MetricTypeHistogram || info.Type == storage.MetricTypeExponentialHistogram

	type group struct {
		name       string
		percentile *int
		samples    samples
	}
	groups := make(map[string]*group)
	add := func(key string, name string, percentile *int, t time.Time, v float64) {
		g, ok := groups[key]
		if !ok {
			g = &group{name: name, percentile: percentile}
			groups[key] = g
		}
		g.samples.times = append(g.samples.times, t)
		g.samples.values = append(g.samples.values, v)
	}

	for _, dp := range points {
		k := seriesKey{service: dp.ServiceName, attrs: dp.Series}
		name := seriesName(info.Name, k, multiService)

		if !histogram {
			if dp.Value != nil {
				add(name, name, nil, dp.Timestamp, *dp.Value)
			}
			continue
		}

		var values map[int]float64
		if dp.Histogram != nil {
			values = storage.HistogramPercentiles(dp.Histogram, percentiles)
		} else {
			values = storage.ExponentialHistogramPercentiles(dp.ExpHist, percentiles)
		}
		for _, p := range percentiles {
			v, ok := values[p]
			if !ok {
				continue
			}
			add(fmt.Sprintf("%s\x00%03d", name, p), fmt.Sprintf("%s p%d", name, p), &p, dp.Timestamp, v)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inputs := make([]chart.SeriesInput, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		inputs = append(inputs, chart.SeriesInput{
			Name:       g.name,
			Percentile: g.percentile,
			Buckets:    w.Buckets(g.samples.times, g.samples.values),
		})
	}
	return inputs
}

func seriesName(instrument string, k seriesKey, multiService bool) string {
	switch {
	case multiService && k.attrs != "":
		return k.service + " {" + k.attrs + "}"
	case multiService:
		return k.service
	case k.attrs != "":
		return k.attrs
	default:
		return instrument
	}
}

// CollectExemplars returns the exemplars of points that fall inside w,
// oldest first. Exemplars without a timestamp take their data point's.
func CollectExemplars(w Window, points []storage.DataPoint) []chart.ExemplarPoint {
	var out []chart.ExemplarPoint
	for _, dp := range points {
		for _, e := range dp.Exemplars {
			ts := e.Timestamp
			if ts.IsZero() {
				ts = dp.Timestamp
			}
			if w.Slot(ts) < 0 {
				continue
			}
			out = append(out, chart.ExemplarPoint{
				Timestamp: ts,
				Value:     e.Value,
				TraceID:   e.TraceID,
				SpanID:    e.SpanID,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
