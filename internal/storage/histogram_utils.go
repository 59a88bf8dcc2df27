package storage

import (
	"math"
	"sort"

	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

// DefaultPercentiles are the percentile series charted for histograms.
var DefaultPercentiles = []int{50, 90, 99}

// HistogramPercentiles estimates the requested percentiles (0-100) from
// OTLP histogram bucket data, interpolating linearly within buckets like
// Prometheus histogram_quantile. Returns nil if the histogram is empty.
func HistogramPercentiles(dp *metricspb.HistogramDataPoint, percentiles []int) map[int]float64 {
	if dp == nil {
		return nil
	}

	bounds := dp.GetExplicitBounds()
	counts := dp.GetBucketCounts()
	total := dp.GetCount()

	if len(counts) == 0 || total == 0 {
		return nil
	}

	out := make(map[int]float64, len(percentiles))
	for _, p := range percentiles {
		if v := estimatePercentile(bounds, counts, total, float64(p)/100); !math.IsNaN(v) {
			out[p] = v
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// estimatePercentile finds the bucket holding the target rank and
// interpolates inside it.
//
// Bucket layout in OTLP, for n bounds there are n+1 buckets:
//   - bucket 0: (-Inf, bounds[0]]
//   - bucket i: (bounds[i-1], bounds[i]]
//   - bucket n: (bounds[n-1], +Inf)
func estimatePercentile(bounds []float64, counts []uint64, total uint64, target float64) float64 {
	targetCount := float64(total) * target
	cumulative := uint64(0)

	for i, count := range counts {
		cumulative += count
		if float64(cumulative) < targetCount || count == 0 {
			continue
		}

		var lower, upper float64
		switch {
		case len(bounds) == 0:
			return math.NaN()
		case i == 0:
			// Latencies and sizes are non-negative, so 0 is the usual floor.
			lower, upper = 0, bounds[0]
		case i < len(bounds):
			lower, upper = bounds[i-1], bounds[i]
		default:
			// Overflow bucket has no upper bound to interpolate towards.
			return bounds[len(bounds)-1]
		}

		fraction := (targetCount - float64(cumulative-count)) / float64(count)
		return lower + fraction*(upper-lower)
	}

	if len(bounds) > 0 {
		return bounds[len(bounds)-1]
	}
	return math.NaN()
}

// ExponentialHistogramPercentiles estimates percentiles from an exponential
// histogram, whose bucket i spans (base^i, base^(i+1)] with
// base = 2^(2^-scale).
func ExponentialHistogramPercentiles(dp *metricspb.ExponentialHistogramDataPoint, percentiles []int) map[int]float64 {
	if dp == nil || dp.Count == 0 {
		return nil
	}

	base := math.Pow(2, math.Pow(2, float64(-dp.Scale)))

	type bucket struct {
		lower, upper float64
		count        uint64
	}
	var buckets []bucket

	if dp.ZeroCount > 0 {
		threshold := dp.ZeroThreshold
		if threshold == 0 {
			threshold = math.SmallestNonzeroFloat64
		}
		buckets = append(buckets, bucket{-threshold, threshold, dp.ZeroCount})
	}
	if dp.Negative != nil {
		for i, count := range dp.Negative.BucketCounts {
			if count == 0 {
				continue
			}
			idx := float64(dp.Negative.Offset + int32(i))
			buckets = append(buckets, bucket{-math.Pow(base, idx+1), -math.Pow(base, idx), count})
		}
	}
	if dp.Positive != nil {
		for i, count := range dp.Positive.BucketCounts {
			if count == 0 {
				continue
			}
			idx := float64(dp.Positive.Offset + int32(i))
			buckets = append(buckets, bucket{math.Pow(base, idx), math.Pow(base, idx+1), count})
		}
	}
	if len(buckets) == 0 {
		return nil
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].lower < buckets[j].lower })

	out := make(map[int]float64, len(percentiles))
	for _, p := range percentiles {
		targetCount := float64(dp.Count) * float64(p) / 100
		cumulative := uint64(0)

		for _, b := range buckets {
			cumulative += b.count
			if float64(cumulative) < targetCount {
				continue
			}
			fraction := (targetCount - float64(cumulative-b.count)) / float64(b.count)
			if v := b.lower + fraction*(b.upper-b.lower); !math.IsNaN(v) && !math.IsInf(v, 0) {
				out[p] = v
			}
			break
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
