package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/fundi/internal/anthropic"
	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/history"
	"github.com/jkaninda/fundi/internal/observability"
	"github.com/jkaninda/fundi/internal/session"
	sqlitestore "github.com/jkaninda/fundi/internal/storage/sqlite"
	"github.com/jkaninda/fundi/internal/tools"
	mcptools "github.com/jkaninda/fundi/internal/tools/mcp"
	"github.com/jkaninda/fundi/internal/workspace"
)

const systemPrompt = `You are Fundi, an AI assistant embedded in a CAD and code editor.
You help users write, understand, and debug parametric models and source files.
Prefer small, reviewable edits and explain what a change does before suggesting it.
When a request requires inspecting or modifying the open document, use the
available tools; never guess at file contents you have not read.`

// SharedComponents holds the initialized subsystems that both chat and
// gateway modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace

	Obs      *observability.Observability
	Client   *anthropic.Client
	Registry *tools.Registry
	History  *history.Log
	Usage    *sqlitestore.Store
	Session  *session.Session

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs the common initialization shared between chat and
// gateway modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("creating workspace directories: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})

	// Streaming API client.
	var clientOpts []anthropic.Option
	if cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	if cfg.Anthropic.MaxRetries > 0 {
		clientOpts = append(clientOpts, anthropic.WithMaxRetries(cfg.Anthropic.MaxRetries))
	}
	sc.Client = anthropic.NewClient(cfg.Anthropic.APIKey, logger, clientOpts...)

	// Tool registry. The engine ships no built-in editor tools; everything
	// comes from the embedding host or external MCP servers.
	registry := tools.NewRegistry()
	if len(cfg.Tools.MCP) > 0 {
		mcpBridge := mcptools.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range cfg.Tools.MCP {
			mcpToolList, mcpErr := mcpBridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range mcpToolList {
				registry.Register(t)
			}
		}
		mcpCancel()
		sc.addCleanup(mcpBridge.Close)
		logger.Debug("tools registered", slog.Any("tools", registry.List()))
	}
	sc.Registry = registry

	// Conversation history.
	sc.History = history.NewLog(logger)

	// Usage accounting store.
	dbPath := ws.UsageDBPath()
	if cfg.Storage != nil && cfg.Storage.Path != "" {
		dbPath = cfg.Storage.Path
	}
	store, err := sqlitestore.Open(dbPath, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("opening usage store: %w", err)
	}
	sc.Usage = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing usage store", slog.String("error", err.Error()))
		}
	})

	// Session.
	prompt := cfg.Chat.SystemPrompt
	if prompt == "" {
		prompt = systemPrompt
	}
	sessionOpts := []session.Option{session.WithUsageRecorder(store)}
	if obs.MetricsOrNil() != nil {
		sessionOpts = append(sessionOpts, session.WithMetrics(obs.Metrics))
	}
	if ts := obs.TracerOrNil(); ts != nil {
		sessionOpts = append(sessionOpts, session.WithTracer(ts.Tracer()))
	}
	sc.Session = session.New(sc.Client, sc.History, registry, session.Config{
		Model:         cfg.Chat.Model,
		SystemPrompt:  prompt,
		MaxTokens:     cfg.Chat.MaxTokens,
		MaxIterations: cfg.Chat.MaxIterations,
	}, logger, sessionOpts...)

	logger.Debug("session initialized",
		slog.String("session_id", sc.Session.ID()),
		slog.String("model", cfg.Chat.Model),
	)

	return sc, nil
}

// initWorkspace creates the workspace, resolving the root from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}
