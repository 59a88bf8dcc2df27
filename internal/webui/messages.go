package webui

import (
	"encoding/json"

	"github.com/tobert/otlp-charts/internal/chart"
)

// Message types sent to the browser.
const (
	msgInitialize    = "initialize"
	msgUpdate        = "update"
	msgPromptShow    = "prompt_show"
	msgPromptDismiss = "prompt_dismiss"
	msgNavigate      = "navigate"
	msgError         = "error"
)

// Message types received from the browser.
const (
	msgViewSpan     = "view_span"
	msgPromptResult = "prompt_result"
)

// envelope frames every WebSocket message.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type chartMessage struct {
	Payload   chart.Payload       `json:"payload"`
	Exemplars []chart.ExemplarRow `json:"exemplar_table"`
}

type promptShowMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// dismissWithdrawn is the dismissal result of a prompt whose wait ended
// without an answer.
const dismissWithdrawn = "withdrawn"

type promptDismissMessage struct {
	ID     string `json:"id"`
	Result string `json:"result"`
}

type navigateMessage struct {
	URL     string `json:"url"`
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

type errorMessage struct {
	Error string `json:"error"`
}

type viewSpanRequest struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

type promptResultRequest struct {
	ID     string `json:"id"`
	Result string `json:"result"` // "cancel" or "confirm"
}

func encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: msgType, Data: raw})
}
