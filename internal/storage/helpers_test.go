package storage

import (
	"time"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func testResource(service, instance string) *resourcepb.Resource {
	attrs := []*commonpb.KeyValue{strAttr("service.name", service)}
	if instance != "" {
		attrs = append(attrs, strAttr("service.instance.id", instance))
	}
	return &resourcepb.Resource{Attributes: attrs}
}

// makeTestSpan creates a resource span holding one span.
func makeTestSpan(traceID, spanID []byte, serviceName, spanName string) *tracepb.ResourceSpans {
	now := uint64(time.Now().UnixNano())
	return &tracepb.ResourceSpans{
		Resource: testResource(serviceName, ""),
		ScopeSpans: []*tracepb.ScopeSpans{{
			Spans: []*tracepb.Span{{
				TraceId:           traceID,
				SpanId:            spanID,
				Name:              spanName,
				Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
				StartTimeUnixNano: now,
				EndTimeUnixNano:   now,
			}},
		}},
	}
}

func gaugeMetric(service, name string, ts time.Time, value float64) *metricspb.ResourceMetrics {
	return &metricspb.ResourceMetrics{
		Resource: testResource(service, ""),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name: name,
				Unit: "1",
				Data: &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{
					DataPoints: []*metricspb.NumberDataPoint{{
						TimeUnixNano: uint64(ts.UnixNano()),
						Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: value},
					}},
				}},
			}},
		}},
	}
}

func counterMetric(service, name string, ts time.Time, value int64, exemplars ...*metricspb.Exemplar) *metricspb.ResourceMetrics {
	return &metricspb.ResourceMetrics{
		Resource: testResource(service, ""),
		ScopeMetrics: []*metricspb.ScopeMetrics{{
			Metrics: []*metricspb.Metric{{
				Name:        name,
				Description: "requests served",
				Unit:        "{request}",
				Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
					IsMonotonic:            true,
					AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
					DataPoints: []*metricspb.NumberDataPoint{{
						TimeUnixNano: uint64(ts.UnixNano()),
						Attributes:   []*commonpb.KeyValue{strAttr("route", "/x")},
						Value:        &metricspb.NumberDataPoint_AsInt{AsInt: value},
						Exemplars:    exemplars,
					}},
				}},
			}},
		}},
	}
}
