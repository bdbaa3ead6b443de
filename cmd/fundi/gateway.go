package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/gateway/httpapi"
	"github.com/jkaninda/fundi/internal/ratelimit"
)

var (
	gatewayConfigPath string
	gatewayPort       string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the chat session over HTTP",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	gatewayCmd.Flags().StringVar(&gatewayPort, "port", "", "override HTTP listen address (e.g. :8080)")
}

// runGateway starts Fundi in gateway mode (HTTP server with SSE streaming).
func runGateway(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FUNDI_CONFIG", gatewayConfigPath))
	if err != nil {
		return err
	}

	if cfg.Gateway == nil || !cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is not enabled in config (set gateway.enabled: true)")
	}
	if gatewayPort != "" {
		cfg.Gateway.ListenAddr = gatewayPort
	}

	logger.Info("starting in gateway mode", slog.String("config", gatewayConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Gateway sessions have no document to bind to; persist the history
	// under the workspace instead.
	sc.History.SetSource(sc.Workspace.HistoryFile(sc.Session.ID()))

	limiter := ratelimit.NewLimiter(cfg.Gateway.RateLimit)

	// API key -> user ID mapping from config + env override.
	apiKeys := cfg.Gateway.APIKeyUserMapping
	if apiKeys == nil {
		apiKeys = make(map[string]string)
	}
	if envKeys := os.Getenv("FUNDI_API_KEYS"); envKeys != "" {
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				apiKeys[parts[0]] = parts[1]
			}
		}
	}

	httpCfg := httpapi.Config{
		ListenAddr: cfg.Gateway.Addr(),
		EnableDocs: cfg.Gateway.EnableDocs,
		APIKeys:    apiKeys,
	}
	if sc.Obs != nil {
		httpCfg.Metrics = sc.Obs.Metrics
		if sc.Obs.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
		}
		if sc.Obs.Tracer != nil {
			httpCfg.Tracer = sc.Obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			httpCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}

	gw := httpapi.NewGateway(httpCfg, sc.Session, limiter, logger)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return nil
}
