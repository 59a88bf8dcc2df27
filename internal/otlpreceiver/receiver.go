package otlpreceiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	collectorlogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Receiver stores the telemetry the server accepts.
// Implementations must be safe for concurrent use since Export may be
// called from many gRPC streams at once.
type Receiver interface {
	ReceiveSpans(ctx context.Context, spans []*tracepb.ResourceSpans) error
	ReceiveMetrics(ctx context.Context, metrics []*metricspb.ResourceMetrics) error
}

// Config holds configuration for the OTLP receiver.
type Config struct {
	Host   string // e.g., "127.0.0.1"
	Port   int    // 0 for ephemeral port assignment
	Logger *zap.SugaredLogger
}

// Server is the OTLP gRPC server. It serves the trace and metric services
// into a Receiver. Logs are accepted so that SDKs exporting all signals to
// one endpoint do not see errors, but they are counted and dropped.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	receiver   Receiver
	logger     *zap.SugaredLogger
	logs       *logsService
	stopOnce   sync.Once
	stopChan   chan struct{}
	stopDone   chan struct{}
}

// NewServer creates an OTLP gRPC server bound to the configured host and
// port (use port 0 for ephemeral).
func NewServer(cfg Config, receiver Receiver) (*Server, error) {
	if receiver == nil {
		return nil, errors.New("receiver cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()

	server := &Server{
		listener:   listener,
		grpcServer: grpcServer,
		receiver:   receiver,
		logger:     logger,
		logs:       &logsService{logger: logger},
		stopChan:   make(chan struct{}),
		stopDone:   make(chan struct{}, 1),
	}

	collectortrace.RegisterTraceServiceServer(grpcServer, &traceService{receiver: receiver})
	collectormetrics.RegisterMetricsServiceServer(grpcServer, &metricsService{receiver: receiver})
	collectorlogs.RegisterLogsServiceServer(grpcServer, server.logs)

	return server, nil
}

// Start begins serving OTLP requests. It blocks until Stop is called or
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopChan:
		}
	}()

	s.logger.Infow("otlp receiver listening", "endpoint", s.Endpoint())
	err := s.grpcServer.Serve(s.listener)
	s.stopDone <- struct{}{}
	return err
}

// Stop initiates graceful shutdown of the server.
// Safe to call multiple times.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.grpcServer.GracefulStop()
		close(s.stopChan)
	})
}

// StopWait stops the server and waits for Start to return.
func (s *Server) StopWait() {
	s.Stop()
	<-s.stopDone
}

// Endpoint returns the actual listening address, e.g. "127.0.0.1:54321".
func (s *Server) Endpoint() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// DroppedLogRecords returns how many log records were accepted and
// discarded.
func (s *Server) DroppedLogRecords() uint64 {
	s.logs.mu.Lock()
	defer s.logs.mu.Unlock()
	return s.logs.dropped
}

type traceService struct {
	collectortrace.UnimplementedTraceServiceServer
	receiver Receiver
}

func (t *traceService) Export(ctx context.Context, req *collectortrace.ExportTraceServiceRequest) (*collectortrace.ExportTraceServiceResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if err := t.receiver.ReceiveSpans(ctx, req.ResourceSpans); err != nil {
		return nil, fmt.Errorf("failed to receive spans: %w", err)
	}
	return &collectortrace.ExportTraceServiceResponse{}, nil
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	receiver Receiver
}

func (m *metricsService) Export(ctx context.Context, req *collectormetrics.ExportMetricsServiceRequest) (*collectormetrics.ExportMetricsServiceResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	if err := m.receiver.ReceiveMetrics(ctx, req.ResourceMetrics); err != nil {
		return nil, fmt.Errorf("failed to receive metrics: %w", err)
	}
	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}

type logsService struct {
	collectorlogs.UnimplementedLogsServiceServer
	logger *zap.SugaredLogger

	mu      sync.Mutex
	dropped uint64
	warned  bool
}

func (l *logsService) Export(ctx context.Context, req *collectorlogs.ExportLogsServiceRequest) (*collectorlogs.ExportLogsServiceResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	n := 0
	for _, rl := range req.ResourceLogs {
		for _, sl := range rl.ScopeLogs {
			n += len(sl.LogRecords)
		}
	}

	l.mu.Lock()
	l.dropped += uint64(n)
	first := !l.warned && n > 0
	l.warned = l.warned || n > 0
	l.mu.Unlock()

	if first {
		l.logger.Infow("log records are not charted and will be dropped", "records", n)
	}
	return &collectorlogs.ExportLogsServiceResponse{}, nil
}
