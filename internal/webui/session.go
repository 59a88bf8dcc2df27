package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tobert/otlp-charts/internal/chart"
	"github.com/tobert/otlp-charts/internal/spanwait"
)

const writeTimeout = 5 * time.Second

// session is one browser chart connection. It is the chart's sink, the
// prompter that shows "waiting for trace" messages and the navigator that
// sends the browser to the trace view.
type session struct {
	conn      *websocket.Conn
	formatter chart.Formatter
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	clicks  chart.ClickHandler
	prompts map[string]*spanwait.Pending
}

func newSession(conn *websocket.Conn, f chart.Formatter, logger *zap.SugaredLogger) *session {
	return &session{
		conn:      conn,
		formatter: f,
		logger:    logger,
		prompts:   make(map[string]*spanwait.Pending),
	}
}

func (s *session) send(ctx context.Context, msgType string, data any) error {
	msg, err := encode(msgType, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// Initialize implements chart.Sink.
func (s *session) Initialize(ctx context.Context, p chart.Payload, clicks chart.ClickHandler) error {
	s.mu.Lock()
	s.clicks = clicks
	s.mu.Unlock()

	return s.send(ctx, msgInitialize, chartMessage{Payload: p, Exemplars: chart.ExemplarTable(p.Resolved, s.formatter)})
}

// Update implements chart.Sink.
func (s *session) Update(ctx context.Context, p chart.Payload) error {
	return s.send(ctx, msgUpdate, chartMessage{Payload: p, Exemplars: chart.ExemplarTable(p.Resolved, s.formatter)})
}

// Show implements spanwait.Prompter. The prompt is withdrawn from the
// browser when ctx ends before anyone closes it, as happens when a newer
// click supersedes the wait.
func (s *session) Show(ctx context.Context, message string) (spanwait.Prompt, error) {
	id := uuid.NewString()

	p := spanwait.NewPending(func(result spanwait.PromptResult) {
		if s.forget(id) {
			s.dismiss(id, result.String())
		}
	})

	s.mu.Lock()
	s.prompts[id] = p
	s.mu.Unlock()

	if err := s.send(ctx, msgPromptShow, promptShowMessage{ID: id, Message: message}); err != nil {
		s.forget(id)
		return nil, fmt.Errorf("failed to show prompt: %w", err)
	}

	context.AfterFunc(ctx, func() {
		if s.forget(id) {
			s.dismiss(id, dismissWithdrawn)
		}
	})
	return p, nil
}

// dismiss tells the browser to hide a prompt. The session context may
// already be cancelled, so the message gets its own deadline.
func (s *session) dismiss(id, result string) {
	if err := s.send(context.Background(), msgPromptDismiss, promptDismissMessage{ID: id, Result: result}); err != nil {
		s.logger.Debugw("failed to dismiss prompt", "prompt", id, "error", err)
	}
}

// GoTo implements spanwait.Navigator.
func (s *session) GoTo(ctx context.Context, traceID, spanID string) error {
	return s.send(ctx, msgNavigate, navigateMessage{
		URL:     TraceURL(traceID, spanID),
		TraceID: traceID,
		SpanID:  spanID,
	})
}

// TraceURL is the trace detail page for a span.
func TraceURL(traceID, spanID string) string {
	u := "/ui/traces/" + url.PathEscape(traceID)
	if spanID != "" {
		u += "?spanId=" + url.QueryEscape(spanID)
	}
	return u
}

// forget drops a prompt and reports whether it was still outstanding.
func (s *session) forget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompts[id]
	delete(s.prompts, id)
	return ok
}

// readLoop handles browser messages until the connection fails.
func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debugw("ignoring malformed message", "error", err)
			continue
		}

		switch env.Type {
		case msgViewSpan:
			var req viewSpanRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				s.logger.Debugw("ignoring malformed view_span", "error", err)
				continue
			}
			s.mu.Lock()
			clicks := s.clicks
			s.mu.Unlock()
			if clicks != nil {
				clicks.ViewSpan(ctx, req.TraceID, req.SpanID)
			}

		case msgPromptResult:
			var req promptResultRequest
			if err := json.Unmarshal(env.Data, &req); err != nil {
				s.logger.Debugw("ignoring malformed prompt_result", "error", err)
				continue
			}
			s.answer(req)

		default:
			s.logger.Debugw("ignoring unknown message", "type", env.Type)
		}
	}
}

func (s *session) answer(req promptResultRequest) {
	s.mu.Lock()
	p, ok := s.prompts[req.ID]
	delete(s.prompts, req.ID)
	s.mu.Unlock()
	if !ok {
		return
	}

	result := spanwait.PromptCancelled
	if req.Result == "confirm" {
		result = spanwait.PromptConfirmed
	}
	p.Answer(result)
}
