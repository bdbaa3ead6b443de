// Package session drives one conversation: it appends the user's message
// to the turn log, streams a model response, executes requested tools, and
// keeps looping until the model stops asking for tools.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/fundi/internal/anthropic"
	"github.com/jkaninda/fundi/internal/history"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/tools"
)

// DefaultMaxIterations caps the tool loop so a model that keeps asking
// for tools cannot spin forever.
const DefaultMaxIterations = 25

// ErrTooManyIterations reports a tool loop that hit the iteration cap.
var ErrTooManyIterations = errors.New("tool loop exceeded iteration limit")

// UsageRecorder persists per-exchange token usage. Implemented by the
// SQLite usage store; nil disables accounting.
type UsageRecorder interface {
	RecordExchange(ctx context.Context, sessionID, model string, usage anthropic.Usage, stopReason string) error
}

// Config holds per-session conversation settings.
type Config struct {
	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int
}

// Session owns one conversation: a turn log, a streaming client, and the
// tool registry the model may call into. Not safe for concurrent Ask
// calls; the client enforces one in-flight request anyway.
type Session struct {
	id       string
	cfg      Config
	client   *anthropic.Client
	log      *history.Log
	registry *tools.Registry
	logger   *slog.Logger
	metrics  *observability.MetricsCollector
	tracer   trace.Tracer
	usage    UsageRecorder
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracer attaches an OTel tracer; each provider round-trip then runs
// inside its own span.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// WithUsageRecorder attaches a usage accounting store.
func WithUsageRecorder(u UsageRecorder) Option {
	return func(s *Session) { s.usage = u }
}

// New creates a session around an existing client, turn log, and registry.
func New(client *anthropic.Client, log *history.Log, registry *tools.Registry, cfg Config, logger *slog.Logger, opts ...Option) *Session {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		client:   client,
		log:      log,
		registry: registry,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// History returns the session's turn log.
func (s *Session) History() *history.Log { return s.log }

// Cancel aborts the in-flight exchange, if any.
func (s *Session) Cancel() { s.client.Cancel() }

// Busy reports whether an exchange is in flight.
func (s *Session) Busy() bool { return s.client.Busy() }

// Ask appends the user's message, then runs the exchange loop until the
// model produces a final answer or the iteration cap is hit. Every stream
// event is forwarded to onEvent (may be nil) as it arrives, so callers
// can render text deltas live. The accumulated assistant text is
// returned; cancellation returns whatever text arrived with a nil error.
func (s *Session) Ask(ctx context.Context, text string, onEvent func(anthropic.Event)) (string, error) {
	s.log.Append(history.UserTurn(text))

	var answers []string

	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		msg, cancelled, err := s.exchange(ctx, onEvent)
		if err != nil {
			return strings.Join(answers, "\n\n"), err
		}
		if cancelled {
			s.saveHistory()
			return strings.Join(answers, "\n\n"), nil
		}

		if msg.Text() != "" {
			answers = append(answers, msg.Text())
			s.log.Append(history.AssistantTurn(msg.Text(), msg.Model))
		}
		s.recordUsage(ctx, msg)

		uses := msg.ToolUses()
		if len(uses) == 0 {
			s.saveHistory()
			return strings.Join(answers, "\n\n"), nil
		}

		for _, use := range uses {
			s.log.Append(history.ToolUseTurn(use.ID, use.Name, use.Input))
		}
		for _, use := range uses {
			output, isErr := s.executeTool(ctx, use)
			s.log.Append(history.ToolResultTurn(use.ID, output, isErr))
		}
		s.saveHistory()
	}

	return strings.Join(answers, "\n\n"),
		fmt.Errorf("%w (%d iterations)", ErrTooManyIterations, s.cfg.MaxIterations)
}

// exchange performs one streamed request over the current turn log.
// Returns cancelled=true when the stream closed without a terminal event.
func (s *Session) exchange(ctx context.Context, onEvent func(anthropic.Event)) (*anthropic.Message, bool, error) {
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "anthropic.exchange",
			trace.WithAttributes(attribute.String("model", s.cfg.Model)))
		defer span.End()
	}

	req := &anthropic.Request{
		Model:        s.cfg.Model,
		Messages:     history.ToMessages(s.log.Turns()),
		Tools:        s.registry.Definitions(),
		SystemPrompt: s.cfg.SystemPrompt,
		MaxTokens:    s.cfg.MaxTokens,
	}

	start := time.Now()
	events, err := s.client.Send(req)
	if err != nil {
		return nil, false, fmt.Errorf("dispatching request: %w", err)
	}

	var final *anthropic.Message
	var streamErr error
	for {
		select {
		case <-ctx.Done():
			s.client.Cancel()
			s.traceExchange(span, nil, nil)
			return nil, true, nil

		case ev, ok := <-events:
			if !ok {
				s.observeExchange(final, streamErr, time.Since(start))
				s.traceExchange(span, final, streamErr)
				if streamErr != nil {
					return nil, false, streamErr
				}
				if final == nil {
					// Closed without done or error: user cancellation.
					return nil, true, nil
				}
				return final, false, nil
			}

			switch ev.Type {
			case anthropic.EventDone:
				final = ev.Message
			case anthropic.EventError:
				streamErr = ev.Err
			case anthropic.EventRateLimitWait:
				if s.metrics != nil {
					s.metrics.RateLimitRetries.WithLabelValues(s.cfg.Model).Inc()
				}
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

// executeTool runs one requested tool and shapes its outcome into the
// result text the model sees. Unknown tools and execution failures are
// reported back to the model as error results, not surfaced to the caller.
func (s *Session) executeTool(ctx context.Context, use anthropic.ContentBlock) (string, bool) {
	tool := s.registry.Get(use.Name)
	if tool == nil {
		s.logger.Warn("model requested unknown tool", slog.String("tool", use.Name))
		return fmt.Sprintf("unknown tool: %s", use.Name), true
	}

	start := time.Now()
	res, err := tool.Execute(ctx, use.Input)
	duration := time.Since(start)

	status := "success"
	output := ""
	isErr := false
	switch {
	case err != nil:
		status = "error"
		output = err.Error()
		isErr = true
	case res == nil:
		output = ""
	default:
		output = res.Output
		isErr = res.IsError
		if isErr {
			status = "error"
		}
	}

	if s.metrics != nil {
		s.metrics.ToolExecutionsTotal.WithLabelValues(use.Name, status).Inc()
		s.metrics.ToolExecutionDuration.WithLabelValues(use.Name).Observe(duration.Seconds())
	}
	s.logger.Debug("tool executed",
		slog.String("tool", use.Name),
		slog.String("status", status),
		slog.Duration("duration", duration),
	)

	return tools.TruncateOutput(output, tools.MaxOutputBytes), isErr
}

// observeExchange records metrics and usage for one completed dispatch.
func (s *Session) observeExchange(msg *anthropic.Message, streamErr error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if streamErr != nil {
		status = "error"
	} else if msg == nil {
		status = "cancelled"
	}
	s.metrics.RequestsTotal.WithLabelValues(s.cfg.Model, status).Inc()
	s.metrics.RequestDuration.WithLabelValues(s.cfg.Model).Observe(duration.Seconds())
	if msg != nil {
		s.metrics.TokensUsed.WithLabelValues(s.cfg.Model, "input").Add(float64(msg.Usage.InputTokens))
		s.metrics.TokensUsed.WithLabelValues(s.cfg.Model, "output").Add(float64(msg.Usage.OutputTokens))
	}
}

// traceExchange annotates the round-trip span with the outcome. span is
// nil when tracing is disabled.
func (s *Session) traceExchange(span trace.Span, msg *anthropic.Message, streamErr error) {
	if span == nil {
		return
	}
	switch {
	case streamErr != nil:
		span.RecordError(streamErr)
	case msg == nil:
		span.SetAttributes(attribute.Bool("cancelled", true))
	default:
		span.SetAttributes(
			attribute.String("stop_reason", msg.StopReason),
			attribute.Int("input_tokens", msg.Usage.InputTokens),
			attribute.Int("output_tokens", msg.Usage.OutputTokens),
		)
	}
}

func (s *Session) recordUsage(ctx context.Context, msg *anthropic.Message) {
	if s.usage == nil {
		return
	}
	if err := s.usage.RecordExchange(ctx, s.id, msg.Model, msg.Usage, msg.StopReason); err != nil {
		s.logger.Warn("recording usage", slog.String("error", err.Error()))
	}
}

func (s *Session) saveHistory() {
	if err := s.log.Save(); err != nil {
		s.logger.Warn("saving history", slog.String("error", err.Error()))
	}
}
