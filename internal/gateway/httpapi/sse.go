package httpapi

import (
	"strings"

	"github.com/jkaninda/okapi"

	"github.com/finsight-ai/finsight/internal/chart"
)

// SSEEvent represents a server-sent event for streaming responses.
type SSEEvent struct {
	Type    string            `json:"type"`              // "text", "chart", "done", "error"
	Content string            `json:"content,omitempty"` // Text content.
	Chart   *chart.Descriptor `json:"chart,omitempty"`   // Chart payload for chart events.
}

// handleMessageStream handles POST /v1/sessions/{id}/messages/stream with
// SSE responses. Runs the full chat turn and streams the result as
// server-sent events.
func (g *Gateway) handleMessageStream(c *okapi.Context) error {
	subject := c.GetString("subject")
	sessionID := c.Param("id")

	if g.limiter != nil {
		if err := g.limiter.Check(subject); err != nil {
			if g.config.Metrics != nil {
				g.config.Metrics.RateLimitRejectionsTotal.WithLabelValues(subject).Inc()
			}
			return c.AbortTooManyRequests(err.Error())
		}
	}

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.AbortBadRequest("message is required")
	}

	// Process the turn (buffered, full result streamed as events).
	result := g.processor.ProcessMessage(c.Context(), sessionID, req.Message, subject)
	if g.config.Metrics != nil {
		g.config.Metrics.RecordTurn(result)
	}

	if !result.Success {
		c.SSEvent("error", SSEEvent{Type: "error", Content: result.Response})
		return nil
	}

	if result.Response != "" {
		c.SSEvent("text", SSEEvent{Type: "text", Content: result.Response})
	}
	if result.Chart != nil {
		c.SSEvent("chart", SSEEvent{Type: "chart", Chart: result.Chart})
	}
	c.SSEvent("done", SSEEvent{Type: "done"})
	return nil
}
