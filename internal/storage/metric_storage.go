package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
)

// MetricType represents the type of metric.
type MetricType int

const (
	MetricTypeUnknown MetricType = iota
	MetricTypeGauge
	MetricTypeSum
	MetricTypeHistogram
	MetricTypeExponentialHistogram
	MetricTypeSummary
)

func (mt MetricType) String() string {
	switch mt {
	case MetricTypeGauge:
		return "Gauge"
	case MetricTypeSum:
		return "Sum"
	case MetricTypeHistogram:
		return "Histogram"
	case MetricTypeExponentialHistogram:
		return "ExponentialHistogram"
	case MetricTypeSummary:
		return "Summary"
	default:
		return "Unknown"
	}
}

// StoredMetric wraps a protobuf metric with extracted fields for filtering.
type StoredMetric struct {
	ResourceMetric *metricspb.ResourceMetrics
	ScopeMetric    *metricspb.ScopeMetrics
	Metric         *metricspb.Metric

	MetricName     string
	ServiceName    string
	MetricType     MetricType
	DataPointCount int
}

// InstrumentInfo describes an instrument seen in metric data.
type InstrumentInfo struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	Type        MetricType `json:"-"`
	TypeName    string     `json:"type"`
	Monotonic   bool       `json:"monotonic,omitempty"`
	Cumulative  bool       `json:"cumulative,omitempty"`
	Services    []string   `json:"services"`
}

// Exemplar is an exemplar attached to a data point. Ids are lowercase hex
// and empty when the exemplar has no trace context.
type Exemplar struct {
	Timestamp time.Time
	Value     float64
	TraceID   string
	SpanID    string
}

// DataPoint is one flattened metric data point.
type DataPoint struct {
	Timestamp   time.Time
	ServiceName string
	Series      string // Canonical "k=v, k=v" attribute string, empty for no attributes
	Value       *float64
	Histogram   *metricspb.HistogramDataPoint
	ExpHist     *metricspb.ExponentialHistogramDataPoint
	Exemplars   []Exemplar
}

// MetricStorage stores OTLP metric data without content indexes.
// Queries scan the ring buffer.
type MetricStorage struct {
	metrics *RingBuffer[*StoredMetric]
}

// NewMetricStorage creates a new metric storage with the specified capacity.
func NewMetricStorage(capacity int) *MetricStorage {
	return &MetricStorage{
		metrics: NewRingBuffer[*StoredMetric](capacity),
	}
}

// ReceiveMetrics stores received metric data and returns how many metrics
// were stored.
func (ms *MetricStorage) ReceiveMetrics(ctx context.Context, resourceMetrics []*metricspb.ResourceMetrics) (int, error) {
	n := 0
	for _, rm := range resourceMetrics {
		serviceName := extractServiceName(rm.Resource)

		for _, sm := range rm.ScopeMetrics {
			for _, metric := range sm.Metrics {
				ms.metrics.Add(&StoredMetric{
					ResourceMetric: rm,
					ScopeMetric:    sm,
					Metric:         metric,
					MetricName:     metric.Name,
					ServiceName:    serviceName,
					MetricType:     determineMetricType(metric),
					DataPointCount: dataPointCount(metric),
				})
				n++
			}
		}
	}

	return n, nil
}

// GetMetricsByName returns all currently stored metrics with the given name.
func (ms *MetricStorage) GetMetricsByName(name string) []*StoredMetric {
	var result []*StoredMetric
	for _, metric := range ms.metrics.GetAll() {
		if metric.MetricName == name {
			result = append(result, metric)
		}
	}
	return result
}

// Instruments returns every instrument currently stored, sorted by name.
// Metadata comes from the most recent metric of each name.
func (ms *MetricStorage) Instruments() []InstrumentInfo {
	byName := make(map[string]*InstrumentInfo)
	services := make(map[string]map[string]struct{})

	for _, m := range ms.metrics.GetAll() {
		info := instrumentInfo(m.Metric)
		byName[m.MetricName] = &info
		if services[m.MetricName] == nil {
			services[m.MetricName] = make(map[string]struct{})
		}
		services[m.MetricName][m.ServiceName] = struct{}{}
	}

	out := make([]InstrumentInfo, 0, len(byName))
	for name, info := range byName {
		for svc := range services[name] {
			info.Services = append(info.Services, svc)
		}
		sort.Strings(info.Services)
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Instrument returns metadata for one instrument.
func (ms *MetricStorage) Instrument(name string) (InstrumentInfo, bool) {
	for _, info := range ms.Instruments() {
		if info.Name == name {
			return info, true
		}
	}
	return InstrumentInfo{}, false
}

// Points returns the data points of an instrument whose timestamps fall in
// [start, end], oldest first. An empty service matches every service.
func (ms *MetricStorage) Points(name, service string, start, end time.Time) []DataPoint {
	var out []DataPoint

	for _, m := range ms.metrics.GetAll() {
		if m.MetricName != name || (service != "" && m.ServiceName != service) {
			continue
		}
		for _, dp := range flatten(m) {
			if dp.Timestamp.Before(start) || dp.Timestamp.After(end) {
				continue
			}
			out = append(out, dp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Stats returns current storage statistics.
func (ms *MetricStorage) Stats() MetricStorageStats {
	nameSet := make(map[string]struct{})
	serviceSet := make(map[string]struct{})
	typeCounts := make(map[string]int)
	totalDataPoints := 0

	for _, metric := range ms.metrics.GetAll() {
		nameSet[metric.MetricName] = struct{}{}
		serviceSet[metric.ServiceName] = struct{}{}
		typeCounts[metric.MetricType.String()]++
		totalDataPoints += metric.DataPointCount
	}

	return MetricStorageStats{
		MetricCount:     ms.metrics.Size(),
		Capacity:        ms.metrics.Capacity(),
		UniqueNames:     len(nameSet),
		ServiceCount:    len(serviceSet),
		TypeCounts:      typeCounts,
		TotalDataPoints: totalDataPoints,
		Received:        ms.metrics.Total(),
	}
}

// Clear removes all metrics.
func (ms *MetricStorage) Clear() {
	ms.metrics.Clear()
}

// MetricStorageStats contains statistics about metric storage.
type MetricStorageStats struct {
	MetricCount     int            `json:"metric_count"`
	Capacity        int            `json:"capacity"`
	UniqueNames     int            `json:"unique_names"`
	ServiceCount    int            `json:"service_count"`
	TypeCounts      map[string]int `json:"type_counts"`
	TotalDataPoints int            `json:"total_data_points"`
	Received        uint64         `json:"received"`
}

// determineMetricType identifies the metric type from the proto message.
func determineMetricType(metric *metricspb.Metric) MetricType {
	switch metric.Data.(type) {
	case *metricspb.Metric_Gauge:
		return MetricTypeGauge
	case *metricspb.Metric_Sum:
		return MetricTypeSum
	case *metricspb.Metric_Histogram:
		return MetricTypeHistogram
	case *metricspb.Metric_ExponentialHistogram:
		return MetricTypeExponentialHistogram
	case *metricspb.Metric_Summary:
		return MetricTypeSummary
	default:
		return MetricTypeUnknown
	}
}

func instrumentInfo(m *metricspb.Metric) InstrumentInfo {
	info := InstrumentInfo{
		Name:        m.Name,
		Description: m.Description,
		Unit:        m.Unit,
		Type:        determineMetricType(m),
	}
	info.TypeName = info.Type.String()

	switch data := m.Data.(type) {
	case *metricspb.Metric_Sum:
		info.Monotonic = data.Sum.IsMonotonic
		info.Cumulative = data.Sum.AggregationTemporality == metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE
	case *metricspb.Metric_Histogram:
		info.Cumulative = data.Histogram.AggregationTemporality == metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE
	case *metricspb.Metric_ExponentialHistogram:
		info.Cumulative = data.ExponentialHistogram.AggregationTemporality == metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE
	}
	return info
}

func dataPointCount(m *metricspb.Metric) int {
	switch data := m.Data.(type) {
	case *metricspb.Metric_Gauge:
		return len(data.Gauge.DataPoints)
	case *metricspb.Metric_Sum:
		return len(data.Sum.DataPoints)
	case *metricspb.Metric_Histogram:
		return len(data.Histogram.DataPoints)
	case *metricspb.Metric_ExponentialHistogram:
		return len(data.ExponentialHistogram.DataPoints)
	case *metricspb.Metric_Summary:
		return len(data.Summary.DataPoints)
	}
	return 0
}

// flatten converts a stored metric into one DataPoint per OTLP data point.
// Summaries carry no exemplars and are charted by their sum.
func flatten(m *StoredMetric) []DataPoint {
	var out []DataPoint

	number := func(dps []*metricspb.NumberDataPoint) {
		for _, dp := range dps {
			v := numberValue(dp)
			out = append(out, DataPoint{
				Timestamp:   nanosToTime(dp.TimeUnixNano),
				ServiceName: m.ServiceName,
				Series:      SeriesKey(dp.Attributes),
				Value:       &v,
				Exemplars:   convertExemplars(dp.Exemplars),
			})
		}
	}

	switch data := m.Metric.Data.(type) {
	case *metricspb.Metric_Gauge:
		number(data.Gauge.DataPoints)
	case *metricspb.Metric_Sum:
		number(data.Sum.DataPoints)
	case *metricspb.Metric_Histogram:
		for _, dp := range data.Histogram.DataPoints {
			out = append(out, DataPoint{
				Timestamp:   nanosToTime(dp.TimeUnixNano),
				ServiceName: m.ServiceName,
				Series:      SeriesKey(dp.Attributes),
				Histogram:   dp,
				Exemplars:   convertExemplars(dp.Exemplars),
			})
		}
	case *metricspb.Metric_ExponentialHistogram:
		for _, dp := range data.ExponentialHistogram.DataPoints {
			out = append(out, DataPoint{
				Timestamp:   nanosToTime(dp.TimeUnixNano),
				ServiceName: m.ServiceName,
				Series:      SeriesKey(dp.Attributes),
				ExpHist:     dp,
				Exemplars:   convertExemplars(dp.Exemplars),
			})
		}
	case *metricspb.Metric_Summary:
		for _, dp := range data.Summary.DataPoints {
			v := dp.Sum
			out = append(out, DataPoint{
				Timestamp:   nanosToTime(dp.TimeUnixNano),
				ServiceName: m.ServiceName,
				Series:      SeriesKey(dp.Attributes),
				Value:       &v,
			})
		}
	}
	return out
}

func numberValue(dp *metricspb.NumberDataPoint) float64 {
	if v, ok := dp.Value.(*metricspb.NumberDataPoint_AsInt); ok {
		return float64(v.AsInt)
	}
	return dp.GetAsDouble()
}

func convertExemplars(in []*metricspb.Exemplar) []Exemplar {
	if len(in) == 0 {
		return nil
	}
	out := make([]Exemplar, 0, len(in))
	for _, e := range in {
		v := e.GetAsDouble()
		if iv, ok := e.Value.(*metricspb.Exemplar_AsInt); ok {
			v = float64(iv.AsInt)
		}
		out = append(out, Exemplar{
			Timestamp: nanosToTime(e.TimeUnixNano),
			Value:     v,
			TraceID:   idToString(e.TraceId),
			SpanID:    idToString(e.SpanId),
		})
	}
	return out
}

// SeriesKey renders data point attributes as a stable "k=v, k=v" string.
func SeriesKey(attrs []*commonpb.KeyValue) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, kv := range attrs {
		parts = append(parts, kv.Key+"="+anyValueString(kv.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func anyValueString(v *commonpb.AnyValue) string {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return x.StringValue
	case *commonpb.AnyValue_BoolValue:
		return fmt.Sprintf("%t", x.BoolValue)
	case *commonpb.AnyValue_IntValue:
		return fmt.Sprintf("%d", x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return fmt.Sprintf("%g", x.DoubleValue)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
