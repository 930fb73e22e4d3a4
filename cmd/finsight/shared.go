package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/audit"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/llm/openai"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/ratelimit"
	"github.com/finsight-ai/finsight/internal/report"
	"github.com/finsight-ai/finsight/internal/session"
	"github.com/finsight-ai/finsight/internal/storage"
	pgstore "github.com/finsight-ai/finsight/internal/storage/postgres"
	sqlitestore "github.com/finsight-ai/finsight/internal/storage/sqlite"
	"github.com/finsight-ai/finsight/internal/tools"
	"github.com/finsight-ai/finsight/internal/tools/finance"
	mcptools "github.com/finsight-ai/finsight/internal/tools/mcp"
	reporttools "github.com/finsight-ai/finsight/internal/tools/reports"
)

// SharedComponents holds all initialized subsystems the serve command
// requires. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store // Unified store (SQLite or PostgreSQL).

	Obs          *observability.Observability
	Provider     llm.Provider
	Checker      *permission.Checker
	ToolReg      *tools.Registry
	Dispatcher   *tools.Dispatcher
	Sessions     *session.Manager
	Recorder     *audit.Recorder
	Limiter      *ratelimit.Limiter
	ReportExec   *report.SQLExecutor
	Orchestrator *agent.Orchestrator

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

// initShared performs all common initialization for the serve command.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

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
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized",
		slog.String("provider", provider.Name()),
		slog.String("model", provider.Model()),
	)

	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
	}
	sc.Provider = provider

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Permission checker.
	checker := permission.NewChecker(cfg.Permissions, logger)
	sc.Checker = checker
	logger.Debug("permission checker initialized",
		slog.Int("roles", len(cfg.Permissions.Roles)),
		slog.String("default_role", cfg.Permissions.DefaultRole),
	)

	// Session manager.
	sessions := session.NewManager(store.Sessions(), logger,
		session.WithSuperUser(cfg.Permissions.SuperUser),
		session.WithExpiry(cfg.Sessions.Expiry()),
		session.WithRetention(cfg.Sessions.Retention()),
	)
	sc.Sessions = sessions

	// Audit recorder.
	recorder := audit.NewRecorder(store.Audit(), logger)
	sc.Recorder = recorder

	// Report executor (read-only warehouse connection, opens lazily).
	reportExec := report.NewSQLExecutor(report.SQLConfig{
		DSN:            cfg.Reports.DSN,
		MaxRows:        cfg.Reports.MaxRows,
		TimeoutSeconds: cfg.Reports.TimeoutSeconds,
	}, logger)
	sc.ReportExec = reportExec
	sc.addCleanup(func() {
		if err := reportExec.Close(); err != nil {
			logger.Error("closing report executor", slog.String("error", err.Error()))
		}
	})

	// Tool registry.
	toolReg := tools.NewRegistry()
	finance.Register(toolReg, reportExec, checker, logger)
	reporttools.Register(toolReg, reportExec, checker, logger)
	logger.Debug("tools registered", slog.Any("tools", toolReg.List()))

	// MCP tool servers.
	if len(cfg.MCP) > 0 {
		mcpBridge := mcptools.NewBridge(logger)
		mcpCtx, mcpCancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, mcpCfg := range cfg.MCP {
			mcpToolList, mcpErr := mcpBridge.ConnectAndDiscover(mcpCtx, mcpCfg)
			if mcpErr != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", mcpCfg.Name),
					slog.String("error", mcpErr.Error()),
				)
				continue
			}
			for _, t := range mcpToolList {
				toolReg.Register(t)
			}
		}
		mcpCancel()
		sc.addCleanup(mcpBridge.Close)
		logger.Debug("tools registered (with MCP)", slog.Any("tools", toolReg.List()))
	}

	// Wrap every tool with metrics/tracing when enabled.
	if obs != nil && obs.Metrics != nil {
		wrapped := tools.NewRegistry()
		for _, t := range toolReg.All() {
			wrapped.Register(observability.NewInstrumentedTool(t, obs.Metrics, obs.TracerOrNil()))
		}
		toolReg = wrapped
	}
	sc.ToolReg = toolReg

	// Tool dispatcher (permission gate + audit trail).
	sc.Dispatcher = tools.NewDispatcher(toolReg, checker, recorder, logger)

	// Rate limiter.
	limiterOpts := make([]ratelimit.Option, 0, len(cfg.RateLimit.Exempt)+1)
	for _, subject := range cfg.RateLimit.Exempt {
		limiterOpts = append(limiterOpts, ratelimit.WithExempt(subject))
	}
	if cfg.Permissions.SuperUser != "" {
		limiterOpts = append(limiterOpts, ratelimit.WithExempt(cfg.Permissions.SuperUser))
	}
	sc.Limiter = ratelimit.New(cfg.RateLimit.Limit(), cfg.RateLimit.Window(), limiterOpts...)

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", observability.PingCheck(store))
		obs.Health.AddCheck("provider", observability.ProviderCheck(provider))
		if cfg.Reports.DSN != "" {
			obs.Health.AddCheck("warehouse", observability.PingCheck(reportExec))
		}
	}

	// Orchestrator.
	var agentOpts []agent.Option
	if cfg.Provider.MaxTokens > 0 {
		agentOpts = append(agentOpts, agent.WithMaxTokens(cfg.Provider.MaxTokens))
	}
	if cfg.Sessions.HistoryLimit > 0 {
		agentOpts = append(agentOpts, agent.WithHistoryLimit(cfg.Sessions.HistoryLimit))
	}
	sc.Orchestrator = agent.New(provider, toolReg, sc.Dispatcher, sessions, recorder, logger, agentOpts...)

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath := cfg.DatabasePath()
	journalMode := "wal"

	if cfg.Storage != nil && cfg.Storage.SQLite != nil {
		if cfg.Storage.SQLite.Path != "" {
			dbPath = cfg.Storage.SQLite.Path
		}
		if cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or FINSIGHT_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		pgCfg.MaxOpenConns = cfg.Storage.Postgres.MaxOpenConns
		pgCfg.MaxIdleConns = cfg.Storage.Postgres.MaxIdleConns
		pgCfg.ConnMaxLifetime = cfg.Storage.Postgres.ConnMaxLifetime()
	}

	return pgstore.Open(pgCfg, logger)
}

// newLLMProvider creates the LLM provider from config. Gemini (the default)
// is reached through its OpenAI-compatible endpoint.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name := cfg.Provider.ProviderName(); name {
	case "gemini":
		var opts []openai.Option
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Provider.BaseURL))
		}
		opts = append(opts, openai.WithName("gemini"))
		return openai.NewClient(cfg.Provider.APIKey, cfg.Provider.ModelName(), logger, opts...), nil
	case "openai":
		var opts []openai.Option
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Provider.BaseURL))
		} else {
			opts = append(opts, openai.WithBaseURL("https://api.openai.com/v1"))
		}
		return openai.NewClient(cfg.Provider.APIKey, cfg.Provider.ModelName(), logger, opts...), nil
	case "ollama":
		baseURL := cfg.Provider.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		return openai.NewClient("", cfg.Provider.ModelName(), logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
