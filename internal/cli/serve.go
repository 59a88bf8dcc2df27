package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/logger"
	"github.com/tobert/otlp-charts/internal/mcpserver"
	"github.com/tobert/otlp-charts/internal/metrics"
	"github.com/tobert/otlp-charts/internal/otlpreceiver"
	"github.com/tobert/otlp-charts/internal/storage"
	"github.com/tobert/otlp-charts/internal/telemetry"
	"github.com/tobert/otlp-charts/internal/webui"
)

const instrumentationName = "github.com/tobert/otlp-charts"

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command starts the OTLP gRPC receiver, the web UI and the MCP server.
func ServeCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the OTLP receiver, chart web UI and MCP server",
		Description: `Starts an OTLP gRPC receiver on localhost:0 (ephemeral port), the chart
web UI on http://127.0.0.1:4380/ui/ and an MCP server on stdio.

Configuration is layered: defaults, ~/.config/otlp-charts/config.json,
.otlp-charts.json or .otlp-charts.yaml (searched up to the git root), the
--config file, then flags.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file (JSON or YAML); replaces the project config",
			},
			&cli.IntFlag{
				Name:  "trace-buffer-size",
				Usage: "Number of spans to buffer",
			},
			&cli.IntFlag{
				Name:  "metric-buffer-size",
				Usage: "Number of metrics to buffer",
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP server bind address",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP server port (0 for ephemeral)",
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "MCP transport: stdio, http (at /mcp) or none",
			},
			&cli.BoolFlag{
				Name:  "stateless",
				Usage: "Run the HTTP MCP transport without sessions",
			},
			&cli.StringFlag{
				Name:  "http-host",
				Usage: "Web UI and HTTP MCP bind address",
			},
			&cli.IntFlag{
				Name:  "http-port",
				Usage: "Web UI and HTTP MCP port",
			},
			&cli.DurationFlag{
				Name:  "chart-duration",
				Usage: "Length of the chart window",
			},
			&cli.DurationFlag{
				Name:  "tick-interval",
				Usage: "Chart refresh interval when no telemetry arrives",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often a clicked exemplar checks for its span",
			},
			&cli.IntFlag{
				Name:  "bucket-count",
				Usage: "Number of buckets in the chart window",
			},
			&cli.StringFlag{
				Name:  "percentiles",
				Usage: "Histogram percentiles to chart, e.g. 50,90,99",
			},
			&cli.BoolFlag{
				Name:  "24h",
				Usage: "Format times on a 24-hour clock",
			},
			&cli.StringFlag{
				Name:  "time-zone",
				Usage: "IANA time zone for chart times (default local)",
			},
			&cli.StringFlag{
				Name:  "locale",
				Usage: "BCP 47 language tag for number formatting, e.g. de-DE (default en)",
			},
			&cli.StringSliceFlag{
				Name:  "file-source",
				Usage: "Directory of OTLP JSONL files (traces/ and metrics/) to load and follow",
			},
			&cli.BoolFlag{
				Name:  "active-only",
				Usage: "Only read active JSONL files, skipping rotated archives",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "OpenTelemetry Collector config to discover file exporter directories",
			},
			&cli.StringFlag{
				Name:  "telemetry-endpoint",
				Usage: "OTLP gRPC endpoint for otlp-charts' own traces (empty disables)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn, error, critical or off",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json (ECS)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runServe(ctx, cmd, version)
		},
	}
}

// VersionCommand prints the version.
func VersionCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintf(cmd.Root().Writer, "otlp-charts %s\n", version)
			return err
		},
	}
}

// configFromCommand loads the layered config and applies explicitly set flags.
func configFromCommand(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	flags := &Config{}
	if cmd.IsSet("trace-buffer-size") {
		flags.TraceBufferSize = cmd.Int("trace-buffer-size")
	}
	if cmd.IsSet("metric-buffer-size") {
		flags.MetricBufferSize = cmd.Int("metric-buffer-size")
	}
	if cmd.IsSet("otlp-host") {
		flags.OTLPHost = cmd.String("otlp-host")
	}
	if cmd.IsSet("transport") {
		flags.Transport = cmd.String("transport")
	}
	flags.Stateless = cmd.Bool("stateless")
	if cmd.IsSet("http-host") {
		flags.HTTPHost = cmd.String("http-host")
	}
	if cmd.IsSet("http-port") {
		flags.HTTPPort = cmd.Int("http-port")
	}
	if cmd.IsSet("chart-duration") {
		flags.ChartDuration = cmd.Duration("chart-duration").String()
	}
	if cmd.IsSet("tick-interval") {
		flags.TickInterval = cmd.Duration("tick-interval").String()
	}
	if cmd.IsSet("poll-interval") {
		flags.PollInterval = cmd.Duration("poll-interval").String()
	}
	if cmd.IsSet("bucket-count") {
		flags.BucketCount = cmd.Int("bucket-count")
	}
	if cmd.IsSet("percentiles") {
		if flags.Percentiles, err = ParsePercentiles(cmd.String("percentiles")); err != nil {
			return nil, err
		}
	}
	flags.Use24Hour = cmd.Bool("24h")
	if cmd.IsSet("time-zone") {
		flags.TimeZone = cmd.String("time-zone")
	}
	if cmd.IsSet("locale") {
		flags.Locale = cmd.String("locale")
	}
	flags.FileSources = cmd.StringSlice("file-source")
	flags.ActiveOnly = cmd.Bool("active-only")
	if cmd.IsSet("otel-config") {
		flags.OtelConfig = cmd.String("otel-config")
	}
	if cmd.IsSet("telemetry-endpoint") {
		flags.TelemetryEndpoint = cmd.String("telemetry-endpoint")
	}
	if cmd.IsSet("log-level") {
		flags.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		flags.LogFormat = cmd.String("log-format")
	}
	flags.Verbose = cmd.Bool("verbose")

	cfg = MergeConfigs(cfg, flags)

	// Port 0 is meaningful for OTLP, so an explicit flag always wins.
	if cmd.IsSet("otlp-port") {
		cfg.OTLPPort = cmd.Int("otlp-port")
	}
	return cfg, nil
}

// runServe wires together all components: logging, self telemetry, storage,
// the OTLP receiver, file sources, the web UI and the MCP server.
func runServe(cliCtx context.Context, cmd *cli.Command, version string) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	settings, err := cfg.Validate()
	if err != nil {
		return err
	}

	level, err := logger.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		level = min(level, zap.DebugLevel)
	}
	log, err := logger.New(logger.WithLevel(level), logger.WithEncoding(cfg.LogFormat))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Debugw("🔧 configuration",
		"trace_buffer", cfg.TraceBufferSize,
		"metric_buffer", cfg.MetricBufferSize,
		"otlp", net.JoinHostPort(cfg.OTLPHost, strconv.Itoa(cfg.OTLPPort)),
		"transport", cfg.Transport,
		"chart_duration", settings.Duration,
		"buckets", cfg.BucketCount,
		"percentiles", cfg.Percentiles)

	// 1. Self telemetry and metrics
	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "otlp-charts",
		ServiceVersion: version,
		Endpoint:       cfg.TelemetryEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("telemetry shutdown failed", "error", err)
		}
	}()
	if tp.Enabled() {
		log.Infof("📡 Exporting own traces to %s", cfg.TelemetryEndpoint)
	}
	tracer := tp.Tracer(instrumentationName)
	m := metrics.New()

	// 2. Storage
	store := storage.NewStore(storage.Config{
		TraceCapacity:  cfg.TraceBufferSize,
		MetricCapacity: cfg.MetricBufferSize,
		Metrics:        m,
	})

	// 3. OTLP gRPC receiver
	otlpServer, err := otlpreceiver.NewServer(otlpreceiver.Config{
		Host:   cfg.OTLPHost,
		Port:   cfg.OTLPPort,
		Logger: log.Named("otlp"),
	}, store)
	if err != nil {
		return fmt.Errorf("failed to create OTLP server: %w", err)
	}
	otlpErr := make(chan error, 1)
	go func() { otlpErr <- otlpServer.Start(ctx) }()
	defer otlpServer.Stop()

	endpoint := otlpServer.Endpoint()
	log.Infof("🌐 OTLP gRPC server listening on %s", endpoint)
	log.Debugf("   Programs can send telemetry with: OTEL_EXPORTER_OTLP_ENDPOINT=http://%s", endpoint)

	view := dashboard.Options{
		Duration:     settings.Duration,
		BucketCount:  cfg.BucketCount,
		TickInterval: settings.TickInterval,
		Percentiles:  cfg.Percentiles,
		Formatter: chart.Formatter{
			Location:  settings.Location,
			Use24Hour: cfg.Use24Hour,
			Language:  settings.Language,
		},
		Metrics: m,
		Tracer:  tracer,
		Logger:  log.Named("dashboard"),
	}

	// 4. MCP server and file sources
	mcpServer, err := mcpserver.NewServer(mcpserver.Config{
		Store:    store,
		Endpoint: otlpServer,
		View:     view,
		Logger:   log.Named("mcp"),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpServer.Shutdown()

	dirs := cfg.FileSources
	if cfg.OtelConfig != "" {
		found, err := ParseOtelConfig(cfg.OtelConfig)
		if err != nil {
			return err
		}
		dirs = append(dirs, found...)
	}
	for _, dir := range dirs {
		if err := mcpServer.AddFileSource(ctx, dir, cfg.ActiveOnly); err != nil {
			log.Warnw("⚠️ skipping file source", "directory", dir, "error", err)
			continue
		}
		log.Infof("📂 Reading OTLP JSONL from %s", dir)
	}

	// 5. Web UI (and MCP over HTTP)
	ui, err := webui.New(webui.Config{
		Store:        store,
		Metrics:      m,
		Tracer:       tracer,
		Logger:       log.Named("webui"),
		View:         view,
		PollInterval: settings.PollInterval,
		Endpoint:     otlpServer.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to create web UI: %w", err)
	}

	mux := http.NewServeMux()
	ui.RegisterRoutes(mux)
	if cfg.Transport == "http" {
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer.MCPServer()
		}, &mcp.StreamableHTTPOptions{Stateless: cfg.Stateless}))
	}

	addr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
	httpErr := make(chan error, 1)
	go func() { httpErr <- webui.ListenAndServe(ctx, addr, mux) }()
	log.Infof("📈 Charts at http://%s/ui/", addr)

	// 6. Serve until stdin closes, a signal arrives or a server fails
	switch cfg.Transport {
	case "stdio":
		log.Info("🎯 MCP server ready on stdio")
		err = mcpServer.Run(ctx)
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	case "http":
		log.Infof("🎯 MCP server ready on http://%s/mcp", addr)
	}

	select {
	case <-ctx.Done():
		log.Info("👋 shutting down")
		return nil
	case err := <-httpErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case err := <-otlpErr:
		if err != nil {
			return fmt.Errorf("OTLP server error: %w", err)
		}
		return nil
	}
}
