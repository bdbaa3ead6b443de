package httpapi

import (
	"fmt"

	"github.com/jkaninda/fundi/internal/anthropic"
	"github.com/jkaninda/okapi"
)

// SSEEvent represents a server-sent event for streaming chat responses.
type SSEEvent struct {
	Content string `json:"content,omitempty"` // Text content.
	Tool    string `json:"tool,omitempty"`    // Tool name for tool events.
}

// handleChatStream handles POST /v1/chat/stream with SSE responses.
// Stream events from the exchange are forwarded to the client as they
// arrive: text deltas, tool lifecycle, rate-limit waits, then a terminal
// "done" or "error" event.
func (g *Gateway) handleChatStream(c *okapi.Context) error {
	userID := c.GetString("userID")

	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("message is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}

	if !g.chatMu.TryLock() {
		c.SSEvent("error", SSEEvent{Content: "a request is already in progress"})
		return nil
	}
	defer g.chatMu.Unlock()

	_, err := g.session.Ask(c.Context(), req.Message, func(ev anthropic.Event) {
		switch ev.Type {
		case anthropic.EventText:
			c.SSEvent("text", SSEEvent{Content: ev.Text})
		case anthropic.EventToolStart:
			c.SSEvent("tool_start", SSEEvent{Tool: ev.ToolName})
		case anthropic.EventToolComplete:
			c.SSEvent("tool_result", SSEEvent{Tool: ev.ToolName})
		case anthropic.EventRateLimitWait:
			c.SSEvent("waiting", SSEEvent{
				Content: fmt.Sprintf("rate limited, retrying in %ds", ev.RetryAfter),
			})
		}
	})
	if err != nil {
		c.SSEvent("error", SSEEvent{Content: err.Error()})
		return nil
	}

	c.SSEvent("done", SSEEvent{})
	return nil
}
