// Package anthropic implements a streaming client for the Anthropic
// Messages API: SSE frame parsing, incremental message assembly with
// typed delta notifications, automatic rate-limit retries, and race-safe
// cancellation. The client owns at most one in-flight request.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 30 * time.Second

	readBufSize = 32 * 1024
)

// Client is a streaming Messages API client. Safe for use from one
// logical session: Send rejects a second request while one is in flight.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration

	mu       sync.Mutex
	inflight *inflight
}

// inflight is the state of the one live request. Every event emission
// checks that this handle is still the client's live one, so transport
// events queued before a cancellation never reach the caller after it.
type inflight struct {
	req     *Request
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan Event
	retries int
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries sets the rate-limit retry budget.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the fallback delay used when a 429 response has no
// usable retry-after header.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// NewClient creates a streaming client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConfigured reports whether an API credential is set.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

// Busy reports whether a request is in flight.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Send begins one streaming exchange. It fails synchronously when no
// credential is configured or a request is already in flight; otherwise
// it returns immediately and delivers all further activity as ordered
// events on the returned channel, which is closed when the exchange ends.
func (c *Client) Send(req *Request) (<-chan Event, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return nil, ErrRequestInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &inflight{
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
	}
	c.inflight = f
	c.mu.Unlock()

	go c.run(f)
	return f.events, nil
}

// Cancel aborts the in-flight request, if any, including a scheduled
// retry. Idempotent. Once Cancel returns, no further events for the
// cancelled request are delivered and the client accepts a new Send.
func (c *Client) Cancel() {
	c.mu.Lock()
	f := c.inflight
	c.inflight = nil
	c.mu.Unlock()

	if f == nil {
		return
	}
	f.cancel()

	// An emit that passed its liveness check before the handle was cleared
	// may still be blocked on its channel send, and the select over send
	// and ctx.Done picks arbitrarily once both are ready. Drain until the
	// worker closes the channel so such a delivery lands here, never at
	// the caller.
	for range f.events {
	}
}

// run drives one exchange to completion: dispatch, stream, retry on rate
// limiting, and emit the terminal event. It owns the event channel.
func (c *Client) run(f *inflight) {
	defer close(f.events)
	defer c.detach(f)

	c.emit(f, Event{Type: EventStarted})

	for {
		msg, retryAfter, err := c.attempt(f)
		if err == nil && retryAfter < 0 {
			c.logger.Debug("request completed",
				slog.String("model", f.req.Model),
				slog.String("stop_reason", msg.StopReason),
				slog.Int("input_tokens", msg.Usage.InputTokens),
				slog.Int("output_tokens", msg.Usage.OutputTokens),
			)
			c.emit(f, Event{Type: EventDone, Message: msg})
			return
		}

		if f.ctx.Err() != nil {
			// User cancellation is swallowed, never surfaced as an error.
			return
		}

		if retryAfter >= 0 {
			f.retries++
			if f.retries > c.maxRetries {
				c.emit(f, Event{Type: EventError,
					Err: fmt.Errorf("%w (%d attempts)", ErrRateLimitExhausted, f.retries)})
				return
			}
			c.logger.Info("rate limited, retrying",
				slog.Int("retry_after_s", retryAfter),
				slog.Int("attempt", f.retries),
			)
			c.emit(f, Event{Type: EventRateLimitWait, RetryAfter: retryAfter})

			timer := time.NewTimer(time.Duration(retryAfter) * time.Second)
			select {
			case <-f.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		c.emit(f, Event{Type: EventError, Err: err})
		return
	}
}

// attempt performs one HTTP dispatch and consumes its stream.
// Returns (message, -1, nil) on success, (nil, seconds, nil) when rate
// limited, and (nil, -1, err) on any other failure.
func (c *Client) attempt(f *inflight) (*Message, int, error) {
	body, err := json.Marshal(c.buildBody(f.req))
	if err != nil {
		return nil, -1, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(f.ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, -1, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	httpReq.Header.Set("Anthropic-Beta", cachingBeta)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, -1, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, retryAfterSeconds(resp, c.retryDelay), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, -1, c.httpError(resp)
	}

	parser := &sseParser{}
	asm := newAssembler(c.logger)
	buf := make([]byte, readBufSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := c.dispatch(f, asm, parser.feed(buf[:n])); err != nil {
				return nil, -1, err
			}
		}
		if readErr == io.EOF {
			if err := c.dispatch(f, asm, parser.flush()); err != nil {
				return nil, -1, err
			}
			return asm.finalize(), -1, nil
		}
		if readErr != nil {
			return nil, -1, fmt.Errorf("reading stream: %w", readErr)
		}
	}
}

// dispatch feeds frames through the assembler and emits its deltas.
func (c *Client) dispatch(f *inflight, asm *assembler, frames []sseFrame) error {
	for _, fr := range frames {
		events, err := asm.handle(fr.event, fr.data)
		if err != nil {
			return err
		}
		for _, ev := range events {
			c.emit(f, ev)
		}
	}
	return nil
}

// buildBody constructs the wire request, marking the system block and the
// last tool with cache_control for prompt caching.
func (c *Client) buildBody(req *Request) apiRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := apiRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Stream:    true,
		Messages:  req.Messages,
	}

	if req.SystemPrompt != "" {
		body.System = []SystemBlock{{
			Type:         "text",
			Text:         req.SystemPrompt,
			CacheControl: &CacheControl{Type: "ephemeral"},
		}}
	}

	if len(req.Tools) > 0 {
		tools := make([]Tool, len(req.Tools))
		copy(tools, req.Tools)
		tools[len(tools)-1].CacheControl = &CacheControl{Type: "ephemeral"}
		body.Tools = tools
	}

	return body
}

// httpError extracts {error:{type,message}} from a non-2xx body, falling
// back to a fixed category for the status code.
func (c *Client) httpError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var p struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &p); err == nil && p.Error.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Type: p.Error.Type, Message: p.Error.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: statusMessage(resp.StatusCode)}
}

// emit delivers an event unless the request has been cancelled or
// superseded. The liveness check alone is not enough: a send already in
// flight when Cancel clears the handle can still complete, which is why
// Cancel drains the channel before returning.
func (c *Client) emit(f *inflight, ev Event) bool {
	c.mu.Lock()
	live := c.inflight == f
	c.mu.Unlock()
	if !live {
		return false
	}

	select {
	case <-f.ctx.Done():
		return false
	case f.events <- ev:
		return true
	}
}

// detach clears the in-flight handle if this worker still owns it.
func (c *Client) detach(f *inflight) {
	c.mu.Lock()
	if c.inflight == f {
		c.inflight = nil
	}
	c.mu.Unlock()
	f.cancel()
}

// retryAfterSeconds reads a valid retry-after header, else the fallback.
func retryAfterSeconds(resp *http.Response, fallback time.Duration) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return secs
		}
	}
	return int(fallback / time.Second)
}
