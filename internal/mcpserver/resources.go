package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/viz"
)

// registerResources registers all MCP resources and resource templates.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "otlp://endpoint",
		Name:        "endpoint",
		Description: "OTLP gRPC endpoint address and environment variable suggestions.",
		MIMEType:    "text/plain",
	}, s.handleEndpointResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "otlp://stats",
		Name:        "stats",
		Description: "Ring buffer counts and capacities, instrument and live chart counts.",
		MIMEType:    "text/plain",
	}, s.handleStatsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "otlp://applications",
		Name:        "applications",
		Description: "Applications (service.name and service.instance.id) seen in trace data.",
		MIMEType:    "text/plain",
	}, s.handleApplicationsResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         "otlp://file-sources",
		Name:        "file-sources",
		Description: "Active filesystem directories being watched for OTLP JSONL.",
		MIMEType:    "text/plain",
	}, s.handleFileSourcesResource)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "otlp://charts/{instrument}",
		Name:        "chart",
		Description: "Text chart of an instrument over the default window, with its exemplars.",
		MIMEType:    "text/plain",
	}, s.handleChartResource)
}

// ─── Static resource handlers ───────────────────────────────────────────

func (s *Server) handleEndpointResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	endpoint := s.endpoint.Endpoint()
	env := endpointEnv(endpoint)

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OTLP Endpoint\n")
	b.WriteString("═════════════\n")
	fmt.Fprintf(&b, "  Address:   %s\n", endpoint)
	b.WriteString("  Protocol:  grpc\n")
	b.WriteString("  Signals:   traces, metrics (logs are accepted and dropped)\n")
	b.WriteString("\n  Environment Variables:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "    %s=%s\n", k, env[k])
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.store.Stats()

	var b strings.Builder
	b.WriteString(viz.StatsOverview(viz.BufferStats{
		SpanCount:      stats.Traces.SpanCount,
		SpanCapacity:   stats.Traces.Capacity,
		MetricCount:    stats.Metrics.MetricCount,
		MetricCapacity: stats.Metrics.Capacity,
		Instruments:    stats.Metrics.UniqueNames,
		LiveCharts:     s.store.Notifier().SubscriberCount(),
	}))

	fmt.Fprintf(&b, "\n  Traces:      %s distinct\n", fmtNum(stats.Traces.TraceCount))
	fmt.Fprintf(&b, "  Received:    %s spans, %s metrics\n",
		fmtNum(int(stats.Traces.Received)), fmtNum(int(stats.Metrics.Received)))
	fmt.Fprintf(&b, "  Data points: %s\n", fmtNum(stats.Metrics.TotalDataPoints))
	fmt.Fprintf(&b, "  Uptime:      %.0fs\n", stats.UptimeSeconds)

	if len(stats.Metrics.TypeCounts) > 0 {
		b.WriteString("\n  Metric Types:\n")
		typeKeys := make([]string, 0, len(stats.Metrics.TypeCounts))
		for k := range stats.Metrics.TypeCounts {
			typeKeys = append(typeKeys, k)
		}
		sort.Strings(typeKeys)
		for _, mt := range typeKeys {
			fmt.Fprintf(&b, "    %-20s %s\n", mt, fmtNum(stats.Metrics.TypeCounts[mt]))
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleApplicationsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	apps := s.store.Traces().Applications()

	var b strings.Builder
	fmt.Fprintf(&b, "Applications (%d)\n", len(apps))
	b.WriteString("════════════════\n")
	if len(apps) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, a := range apps {
		if a.InstanceID == "" {
			fmt.Fprintf(&b, "  • %s\n", a.Name)
		} else {
			fmt.Fprintf(&b, "  • %s (instance %s)\n", a.Name, a.InstanceID)
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

func (s *Server) handleFileSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats := s.FileSourceStats()

	var b strings.Builder
	fmt.Fprintf(&b, "File Sources (%d)\n", len(stats))
	b.WriteString("═════════════════\n")

	if len(stats) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, stat := range stats {
			fmt.Fprintf(&b, "  %s\n", stat.Directory)
			fmt.Fprintf(&b, "    Files tracked: %d\n", stat.FilesTracked)
			if len(stat.WatchedDirs) > 0 {
				b.WriteString("    Watching:\n")
				for _, dir := range stat.WatchedDirs {
					fmt.Fprintf(&b, "      • %s\n", dir)
				}
			}
		}
	}

	return textResult(req.Params.URI, b.String()), nil
}

// ─── Resource template handlers ─────────────────────────────────────────

func (s *Server) handleChartResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	name, err := extractURIParam(req.Params.URI, "otlp://charts/")
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	input := ChartInput{Instrument: name}
	_, chartOut, err := s.handleGetChart(ctx, nil, input)
	if errors.Is(err, dashboard.ErrUnknownInstrument) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, err
	}
	_, exemplars, err := s.handleListExemplars(ctx, nil, input)
	if err != nil {
		return nil, err
	}

	text := chartOut.Rendered
	if exemplars.Rendered != "" {
		text += "\n" + exemplars.Rendered
	}
	return textResult(req.Params.URI, text), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────

// extractURIParam returns the path-unescaped remainder of uri after prefix.
func extractURIParam(uri, prefix string) (string, error) {
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("invalid URI: %s", uri)
	}
	param := strings.TrimPrefix(uri, prefix)
	if param == "" {
		return "", fmt.Errorf("empty parameter in URI: %s", uri)
	}
	decoded, err := url.PathUnescape(param)
	if err != nil {
		return "", fmt.Errorf("invalid encoding in URI: %w", err)
	}
	return decoded, nil
}

// textResult wraps a string in a ReadResourceResult.
func textResult(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}
}

// fmtNum groups thousands: 10000 -> "10,000".
func fmtNum(n int) string {
	if n < 0 {
		return "-" + fmtNum(-n)
	}
	digits := strconv.Itoa(n)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}
