package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/gateway"
	"github.com/finsight-ai/finsight/internal/gateway/httpapi"
	"github.com/finsight-ai/finsight/internal/gateway/ws"
	"github.com/finsight-ai/finsight/internal/session"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat service (HTTP API, WebSocket)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `finsight --config path` and `finsight serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts the chat service with all configured gateways.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("FINSIGHT_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting finsight", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session lifecycle sweeper (hourly expiry, daily purge).
	sweeperOpts := []session.SweeperOption{
		session.WithExpireSpec(cfg.Sessions.ExpireSpec),
		session.WithPurgeSpec(cfg.Sessions.PurgeSpec),
	}
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		expired := sc.Obs.Metrics.SessionsExpiredTotal
		sweeperOpts = append(sweeperOpts, session.WithOnExpired(func(count int64) {
			expired.Add(float64(count))
		}))
	}
	sweeper := session.NewSweeper(sc.Sessions, logger, sweeperOpts...)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("starting session sweeper: %w", err)
	}
	defer sweeper.Stop()

	// Build enabled gateways.
	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGateways creates all enabled gateways from config.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gws []gateway.Gateway
	gwCfg := cfg.Gateways

	// Build API key -> subject mapping from config + env override.
	apiKeys := apiKeySubjects(cfg)

	// WebSocket chat server (handler only, mounted below).
	var wsServer *ws.Server
	if gwCfg.WebSocket != nil && gwCfg.WebSocket.Enabled {
		wsServer = ws.NewServer(sc.Orchestrator, sc.Sessions, sc.Limiter, apiKeys, sc.Logger).
			WithMetrics(sc.Obs.MetricsOrNil())
		sc.Logger.Debug("websocket server initialized",
			slog.String("path", gwCfg.WebSocket.WSPath()),
		)
	}

	// HTTP API gateway.
	var httpGW *httpapi.Gateway
	if gwCfg.HTTP != nil && gwCfg.HTTP.Enabled {
		httpCfg := httpapi.Config{
			ListenAddr:     gwCfg.HTTP.Addr(),
			EnableDocs:     gwCfg.HTTP.EnableDocs,
			APIKeySubjects: apiKeys,
			MaxRequestSize: gwCfg.HTTP.MaxRequestSizeBytes,
		}
		if sc.Obs != nil {
			httpCfg.Metrics = sc.Obs.Metrics
			httpCfg.HealthChecker = sc.Obs.Health
			if sc.Obs.Metrics != nil {
				httpCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			}
			if sc.Obs.Tracer != nil {
				httpCfg.Tracer = sc.Obs.Tracer.Tracer()
			}
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				httpCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
		httpGW = httpapi.NewGateway(httpCfg, sc.Orchestrator, sc.Sessions, sc.Limiter, sc.Logger)
	}

	// Mount the WebSocket handler on the HTTP gateway if both are enabled.
	// Otherwise, start a standalone HTTP server for the WebSocket endpoint.
	if wsServer != nil {
		wsPath := gwCfg.WebSocket.WSPath()
		if httpGW != nil {
			httpGW.WithHandler(wsPath, wsServer.Handler())
			sc.Logger.Debug("websocket chat endpoint mounted on http gateway",
				slog.String("path", wsPath),
			)
		} else {
			gws = append(gws, newStandaloneWSGateway(wsServer, ":8081", wsPath, sc.Logger))
			sc.Logger.Debug("gateway enabled",
				slog.String("type", "websocket"),
				slog.String("path", wsPath),
			)
		}
	}

	if httpGW != nil {
		gws = append(gws, httpGW)
		sc.Logger.Debug("gateway enabled",
			slog.String("type", "http"),
			slog.String("addr", gwCfg.HTTP.Addr()),
			slog.Bool("websocket", wsServer != nil),
		)
	}

	return gws
}

// apiKeySubjects merges the configured API key mapping with the
// FINSIGHT_API_KEYS env override ("key1:subject1,key2:subject2").
func apiKeySubjects(cfg *config.Config) map[string]string {
	apiKeys := make(map[string]string)
	if cfg.Gateways.HTTP != nil {
		for key, subject := range cfg.Gateways.HTTP.APIKeySubjects {
			apiKeys[key] = subject
		}
	}
	if envKeys := os.Getenv("FINSIGHT_API_KEYS"); envKeys != "" {
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				apiKeys[parts[0]] = parts[1]
			}
		}
	}
	return apiKeys
}

// standaloneWSGateway wraps a ws.Server as a gateway.Gateway for cases
// where the HTTP gateway is not enabled and the WebSocket endpoint needs
// its own HTTP listener.
type standaloneWSGateway struct {
	wsServer   *ws.Server
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(wsServer *ws.Server, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		wsServer: wsServer,
		addr:     addr,
		path:     path,
		logger:   logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.wsServer.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
