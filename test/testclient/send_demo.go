package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Sends a request counter with exemplars once a second to a running OTLP
// server. Each exemplar's span is exported a few seconds after the metric,
// so clicking a fresh exemplar shows the "waiting for trace" prompt.
// Usage: go run send_demo.go <endpoint>
// Example: go run send_demo.go 127.0.0.1:38279
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <endpoint>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 127.0.0.1:38279\n", os.Args[0])
		os.Exit(1)
	}

	endpoint := os.Args[1]
	fmt.Printf("📡 Connecting to OTLP endpoint: %s\n", endpoint)

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create grpc client: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	metricsClient := collectormetrics.NewMetricsServiceClient(conn)
	traceClient := collectortrace.NewTraceServiceClient(conn)
	resource := &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
		strAttr("service.name", "demo-web-service"),
		strAttr("service.instance.id", "demo-1"),
	}}

	const spanDelay = 3 * time.Second
	var total int64
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Println("🚀 Sending http.server.requests every second (Ctrl-C to stop)")
	for now := range ticker.C {
		total += 1 + now.Unix()%5
		traceID, spanID := randomID(16), randomID(8)

		_, err := metricsClient.Export(context.Background(), &collectormetrics.ExportMetricsServiceRequest{
			ResourceMetrics: []*metricspb.ResourceMetrics{{
				Resource: resource,
				ScopeMetrics: []*metricspb.ScopeMetrics{{
					Metrics: []*metricspb.Metric{{
						Name:        "http.server.requests",
						Description: "Requests handled",
						Unit:        "{request}",
						Data: &metricspb.Metric_Sum{Sum: &metricspb.Sum{
							IsMonotonic:            true,
							AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
							DataPoints: []*metricspb.NumberDataPoint{{
								Attributes:   []*commonpb.KeyValue{strAttr("http.route", "/api/users")},
								TimeUnixNano: uint64(now.UnixNano()),
								Value:        &metricspb.NumberDataPoint_AsInt{AsInt: total},
								Exemplars: []*metricspb.Exemplar{{
									TimeUnixNano: uint64(now.UnixNano()),
									Value:        &metricspb.Exemplar_AsInt{AsInt: 1},
									TraceId:      traceID,
									SpanId:       spanID,
								}},
							}},
						}},
					}},
				}},
			}},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to export metrics: %v\n", err)
			os.Exit(1)
		}

		go func(start time.Time) {
			time.Sleep(spanDelay)
			_, err := traceClient.Export(context.Background(), &collectortrace.ExportTraceServiceRequest{
				ResourceSpans: []*tracepb.ResourceSpans{{
					Resource: resource,
					ScopeSpans: []*tracepb.ScopeSpans{{
						Spans: []*tracepb.Span{{
							TraceId:           traceID,
							SpanId:            spanID,
							Name:              "GET /api/users",
							Kind:              tracepb.Span_SPAN_KIND_SERVER,
							StartTimeUnixNano: uint64(start.Add(-40 * time.Millisecond).UnixNano()),
							EndTimeUnixNano:   uint64(start.UnixNano()),
							Attributes:        []*commonpb.KeyValue{strAttr("http.route", "/api/users")},
							Status:            &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK},
						}},
					}},
				}},
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "⚠️ Failed to export span: %v\n", err)
			}
		}(now)

		fmt.Printf("📊 total=%d exemplar trace=%x (span in %s)\n", total, traceID, spanDelay)
	}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{Key: key, Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}}}
}

func randomID(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
