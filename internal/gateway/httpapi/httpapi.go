// Package httpapi exposes the chat session over HTTP.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-user rate limiting via token bucket
//   - All requests logged
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/fundi/internal/history"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/ratelimit"
	"github.com/jkaninda/fundi/internal/session"
	"github.com/jkaninda/okapi"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr string // e.g., ":8080"
	EnableDocs bool
	APIKeys    map[string]string // API key -> user ID mapping.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway serves the chat session over HTTP. The session holds a single
// conversation, so chat requests are serialized: a request that arrives
// while another exchange is running gets 409.
type Gateway struct {
	config  Config
	session *session.Session
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
	group   *okapi.Group

	chatMu sync.Mutex // held for the duration of one exchange
}

// NewGateway creates an HTTP gateway around an existing session.
func NewGateway(cfg Config, sess *session.Session, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		session: sess,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Fundi",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group, instrumented when observability is on.
	middlewares := []okapi.Middleware{g.authenticate}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{
			observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer),
		}, middlewares...)
	}
	g.group = g.okapi.Group("/v1", middlewares...)

	g.group.Post("/chat", g.handleChat,
		okapi.DocSummary("Send a message and wait for the full answer"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/chat/stream", g.handleChatStream,
		okapi.DocSummary("Send a message and stream the answer via SSE"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/history", g.handleHistoryGet,
		okapi.DocSummary("List the conversation turns"),
		okapi.DocTags("History"),
		okapi.DocResponse(HistoryResponse{}),
	)
	g.group.Delete("/history", g.handleHistoryClear,
		okapi.DocSummary("Clear the conversation"),
		okapi.DocTags("History"),
		okapi.DocResponse(map[string]string{}),
	)
	g.group.Get("/healthz", g.handleHealth,
		okapi.DocSummary("Authenticated health check"),
		okapi.DocTags("Health"),
		okapi.DocResponse(HealthResponse{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleHealth)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // streamed exchanges can run long
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ChatRequest is the JSON body for POST /v1/chat and /v1/chat/stream.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

func (g *Gateway) handleChat(c *okapi.Context) error {
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
		return c.JSON(http.StatusConflict, ErrorBody{Error: "a request is already in progress"})
	}
	defer g.chatMu.Unlock()

	g.logger.Info("http chat",
		slog.String("user_id", userID),
		slog.String("session_id", g.session.ID()),
	)

	answer, err := g.session.Ask(c.Context(), req.Message, nil)
	if err != nil {
		g.logger.Error("chat exchange failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("exchange failed")
	}

	return c.OK(ChatResponse{
		Answer:    answer,
		SessionID: g.session.ID(),
	})
}

// HistoryTurn is one conversation turn in GET /v1/history.
type HistoryTurn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HistoryResponse is the JSON response for GET /v1/history.
type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []HistoryTurn `json:"turns"`
}

func roleName(r history.Role) string {
	switch r {
	case history.RoleUser:
		return "user"
	case history.RoleAssistant:
		return "assistant"
	case history.RoleToolUse:
		return "tool_use"
	case history.RoleToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

func (g *Gateway) handleHistoryGet(c *okapi.Context) error {
	turns := g.session.History().Turns()
	resp := HistoryResponse{
		SessionID: g.session.ID(),
		Turns:     make([]HistoryTurn, len(turns)),
	}
	for i, t := range turns {
		resp.Turns[i] = HistoryTurn{
			Role:      roleName(t.Role),
			Content:   t.Content,
			Model:     t.Model,
			ToolName:  t.ToolName,
			IsError:   t.IsError,
			Timestamp: t.Timestamp.Format(time.RFC3339),
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleHistoryClear(c *okapi.Context) error {
	if !g.chatMu.TryLock() {
		return c.JSON(http.StatusConflict, ErrorBody{Error: "a request is already in progress"})
	}
	defer g.chatMu.Unlock()

	if err := g.session.History().Clear(); err != nil {
		g.logger.Error("clearing history", slog.String("error", err.Error()))
		return c.AbortInternalServerError("clearing history failed")
	}
	return c.OK(map[string]string{"status": "cleared"})
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// --- Authentication ---

// authenticate validates the Bearer API key and stores the mapped user ID
// on the request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}
