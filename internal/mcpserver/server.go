// Package mcpserver exposes charts, exemplars and spans to agents over the
// Model Context Protocol.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/filereader"
	"github.com/tobert/otlp-charts/internal/storage"
)

// EndpointSource reports the address OTLP exporters should send to.
// *otlpreceiver.Server implements it.
type EndpointSource interface {
	Endpoint() string
}

// Config configures the MCP server.
type Config struct {
	Store    *storage.Store
	Endpoint EndpointSource

	// View is the template for one-shot charts. Instrument and Service are
	// filled in per call; NewClickHandle is ignored.
	View dashboard.Options

	Logger  *zap.SugaredLogger
	Version string
}

// Server wraps the MCP server with the telemetry store and OTLP receiver.
type Server struct {
	mcpServer *mcp.Server
	store     *storage.Store
	endpoint  EndpointSource
	view      dashboard.Options
	logger    *zap.SugaredLogger

	// File sources - directories being watched for OTLP JSONL files
	fileSourcesMu sync.RWMutex
	fileSources   map[string]*filereader.FileSource
}

// NewServer creates a new MCP server exposing chart tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Endpoint == nil {
		return nil, errors.New("OTLP endpoint source cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	view := cfg.View
	view.NewClickHandle = nil

	s := &Server{
		store:       cfg.Store,
		endpoint:    cfg.Endpoint,
		view:        view,
		logger:      logger,
		fileSources: make(map[string]*filereader.FileSource),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "otlp-charts",
		Title:   "Live OpenTelemetry Metric Charts",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: `OpenTelemetry metric charts with exemplar-to-trace correlation. Captures OTLP traces and metrics in memory.

Workflow: get_otlp_endpoint -> set OTEL_EXPORTER_OTLP_ENDPOINT -> run program -> list_instruments -> get_chart / list_exemplars -> get_span.

Exemplars whose span has not arrived yet are listed as "Trace: <id>…"; call get_span again once the trace has been exported.
Resources: otlp://endpoint, otlp://stats, otlp://applications, otlp://file-sources, otlp://charts/{instrument}.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllFileSources()
	return err
}

// MCPServer returns the underlying mcp.Server for use with alternative
// transports such as mcp.StreamableHTTPHandler.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown stops file sources when using non-stdio transports.
func (s *Server) Shutdown() {
	s.stopAllFileSources()
}

// AddFileSource starts reading OTLP JSONL from a directory into the store.
// When activeOnly is true, rotated archives are skipped.
// Returns an error if the directory is already being watched.
func (s *Server) AddFileSource(ctx context.Context, directory string, activeOnly bool) error {
	s.fileSourcesMu.Lock()
	defer s.fileSourcesMu.Unlock()

	if _, exists := s.fileSources[directory]; exists {
		return fmt.Errorf("directory %s is already being watched", directory)
	}

	fs, err := filereader.New(filereader.Config{
		Directory:  directory,
		Logger:     s.logger.Named("filereader"),
		ActiveOnly: activeOnly,
	}, s.store)
	if err != nil {
		return fmt.Errorf("failed to create file source: %w", err)
	}

	if err := fs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file source: %w", err)
	}

	s.fileSources[directory] = fs
	return nil
}

// RemoveFileSource stops and removes a file source. The source is stopped
// outside the lock so a slow Stop cannot block other operations.
func (s *Server) RemoveFileSource(directory string) error {
	s.fileSourcesMu.Lock()
	fs, exists := s.fileSources[directory]
	if !exists {
		s.fileSourcesMu.Unlock()
		return fmt.Errorf("directory %s is not being watched", directory)
	}
	delete(s.fileSources, directory)
	s.fileSourcesMu.Unlock()

	fs.Stop()
	return nil
}

// ListFileSources returns the watched directories, sorted.
func (s *Server) ListFileSources() []string {
	s.fileSourcesMu.RLock()
	dirs := make([]string, 0, len(s.fileSources))
	for dir := range s.fileSources {
		dirs = append(dirs, dir)
	}
	s.fileSourcesMu.RUnlock()

	sort.Strings(dirs)
	return dirs
}

// FileSourceStats returns stats for all file sources.
func (s *Server) FileSourceStats() []filereader.Stats {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	stats := make([]filereader.Stats, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		stats = append(stats, fs.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Directory < stats[j].Directory })
	return stats
}

func (s *Server) stopAllFileSources() {
	s.fileSourcesMu.Lock()
	sources := make([]*filereader.FileSource, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		sources = append(sources, fs)
	}
	clear(s.fileSources)
	s.fileSourcesMu.Unlock()

	for _, fs := range sources {
		fs.Stop()
	}
}
