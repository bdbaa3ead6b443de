package anthropic

import (
	"errors"
	"fmt"
)

// EventType identifies a stream notification delivered to the caller.
type EventType string

const (
	// EventStarted fires once per dispatch, before any data arrives.
	EventStarted EventType = "started"
	// EventText carries one text increment (not the accumulated text).
	EventText EventType = "text"
	// EventToolStart announces a tool_use block opening.
	EventToolStart EventType = "tool_start"
	// EventToolInputDelta carries one raw partial-JSON fragment of the
	// tool input. Consumers must tolerate invalid intermediate JSON.
	EventToolInputDelta EventType = "tool_input"
	// EventToolComplete carries the fully parsed tool input.
	EventToolComplete EventType = "tool_complete"
	// EventRateLimitWait announces a scheduled retry after a 429.
	EventRateLimitWait EventType = "rate_limit_wait"
	// EventDone carries the final assembled message.
	EventDone EventType = "done"
	// EventError terminates the stream with a classified error.
	EventError EventType = "error"
)

// Event is a single notification on a streaming exchange. Events for one
// request are delivered in order on one channel; the channel is closed
// after EventDone, EventError, or cancellation.
type Event struct {
	Type EventType

	Text        string         // EventText increment
	ToolID      string         // tool_* events
	ToolName    string         // EventToolStart, EventToolComplete
	PartialJSON string         // EventToolInputDelta fragment
	Input       map[string]any // EventToolComplete parsed input
	Message     *Message       // EventDone
	RetryAfter  int            // EventRateLimitWait, seconds
	Err         error          // EventError
}

// Synchronous send failures.
var (
	ErrNotConfigured     = errors.New("api key not configured")
	ErrRequestInProgress = errors.New("request already in progress")
)

// ErrRateLimitExhausted classifies a 429 that outlived the retry budget.
var ErrRateLimitExhausted = errors.New("rate limited: retry budget exhausted")

// APIError is a provider-reported failure, from an error event or a
// non-2xx response body.
type APIError struct {
	StatusCode int    // 0 for stream error events
	Type       string // provider error type, e.g. "overloaded_error"
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return e.Message
}

// statusMessage maps an HTTP status to a fixed human-readable category,
// used when the response body carries no error message.
func statusMessage(code int) string {
	switch code {
	case 400:
		return "bad request - check your message format"
	case 401:
		return "invalid API key - please check your API key"
	case 403:
		return "access forbidden - your API key may not have permission"
	case 404:
		return "API endpoint not found"
	case 429:
		return "rate limited - too many requests"
	case 500:
		return "server error - try again later"
	case 529:
		return "API overloaded - try again later"
	default:
		return fmt.Sprintf("HTTP error %d", code)
	}
}
