// Package webui serves the browser dashboard: an embedded page, a JSON API
// over the store and a WebSocket per open chart.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/dashboard"
	"github.com/tobert/otlp-charts/internal/metrics"
	"github.com/tobert/otlp-charts/internal/spanwait"
	"github.com/tobert/otlp-charts/internal/storage"
)

//go:embed static/index.html
var staticFiles embed.FS

// Config configures the web UI server.
type Config struct {
	Store   *storage.Store
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Logger  *zap.SugaredLogger

	// View is the template for every chart opened over /ws. Instrument and
	// Service come from the request.
	View         dashboard.Options
	PollInterval time.Duration

	// Endpoint reports the OTLP listen address for /api/status.
	Endpoint func() string
}

// Server serves the embedded web UI and chart WebSockets.
type Server struct {
	cfg    Config
	store  *storage.Store
	lookup *dashboard.Lookup
	logger *zap.SugaredLogger
}

// New creates a new web UI server.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Server{
		cfg:    cfg,
		store:  cfg.Store,
		lookup: dashboard.NewLookup(cfg.Store.Traces()),
		logger: cfg.Logger,
	}, nil
}

// RegisterRoutes attaches web UI routes to an existing ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ui/", s.handleUI)
	mux.HandleFunc("GET /ui", s.handleUIRedirect)
	mux.HandleFunc("GET /api/instruments", s.handleInstruments)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/traces/{traceID}", s.handleTrace)
	mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

// Handler returns a mux with the web UI routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUIRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/ui/", http.StatusMovedPermanently)
}

// handleUI serves index.html for every page under /ui/; the page routes
// chart and trace views itself.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "UI not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Metrics().Instruments())
}

type statusResponse struct {
	Endpoint    string  `json:"otlp_endpoint,omitempty"`
	Generation  uint64  `json:"generation"`
	Spans       uint64  `json:"spans"`
	Metrics     uint64  `json:"metrics"`
	Uptime      float64 `json:"uptime_seconds"`
	Instruments int     `json:"instruments"`
	Subscribers int     `json:"subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	n := s.store.Notifier()
	resp := statusResponse{
		Generation:  n.Generation(),
		Spans:       n.SpansReceived(),
		Metrics:     n.MetricsReceived(),
		Uptime:      n.UptimeSeconds(),
		Instruments: len(s.store.Metrics().Instruments()),
		Subscribers: n.SubscriberCount(),
	}
	if s.cfg.Endpoint != nil {
		resp.Endpoint = s.cfg.Endpoint()
	}
	s.writeJSON(w, resp)
}

type traceResponse struct {
	TraceID string      `json:"trace_id"`
	Spans   []traceSpan `json:"spans"`
}

type traceSpan struct {
	*chart.Span
	Title      string  `json:"title"`
	DurationMs float64 `json:"duration_ms"`
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := strings.ToLower(r.PathValue("traceID"))
	stored := s.store.Traces().GetSpansByTraceID(traceID)
	if len(stored) == 0 {
		s.writeError(w, http.StatusNotFound, storage.ErrSpanNotFound)
		return
	}

	apps := dashboard.Applications(s.store.Traces())
	resp := traceResponse{TraceID: traceID, Spans: make([]traceSpan, 0, len(stored))}
	for _, st := range stored {
		sp := dashboard.ChartSpan(st)
		resp.Spans = append(resp.Spans, traceSpan{
			Span:       sp,
			Title:      chart.SpanTitle(sp, apps),
			DurationMs: float64(sp.End.Sub(sp.Start)) / float64(time.Millisecond),
		})
	}
	sort.SliceStable(resp.Spans, func(i, j int) bool {
		return resp.Spans[i].Start.Before(resp.Spans[j].Start)
	})
	s.writeJSON(w, resp)
}

// handleWebSocket streams one chart. The view lives as long as the
// connection; closing either tears down the other.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instrument := q.Get("instrument")
	info, ok := s.store.Metrics().Instrument(instrument)
	if !ok {
		s.writeError(w, http.StatusNotFound, dashboard.ErrUnknownInstrument)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := s.logger.With("instrument", instrument)
	f := s.cfg.View.Formatter
	f.Unit = info.Unit
	sess := newSession(conn, f, logger)

	opts := s.cfg.View
	opts.Instrument = instrument
	opts.Service = q.Get("service")
	opts.Metrics = s.cfg.Metrics
	opts.Tracer = s.cfg.Tracer
	opts.Logger = logger
	opts.NewClickHandle = func() chart.ClickHandle {
		return s.newCoordinator(sess, logger)
	}

	view, err := dashboard.NewView(s.store, sess, opts)
	if err != nil {
		_ = sess.send(ctx, msgError, errorMessage{Error: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "unknown instrument")
		return
	}
	defer view.Close()

	go func() {
		err := sess.readLoop(ctx)
		logger.Debugw("chart connection closed", "error", err)
		cancel()
	}()

	if err := view.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debugw("chart stream ended", "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) newCoordinator(sess *session, logger *zap.SugaredLogger) chart.ClickHandle {
	c, err := spanwait.New(s.lookup, sess, sess, spanwait.Config{
		PollInterval: s.cfg.PollInterval,
		Logger:       logger,
		Metrics:      s.cfg.Metrics,
		Tracer:       s.cfg.Tracer,
	})
	if err != nil {
		logger.Errorw("failed to create span wait coordinator", "error", err)
		return noClicks{}
	}
	return c
}

type noClicks struct{}

func (noClicks) ViewSpan(context.Context, string, string) {}
func (noClicks) Close()                                   {}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("failed to write JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorMessage{Error: err.Error()})
}
