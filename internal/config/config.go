// Package config handles loading and validating Finsight configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/finsight-ai/finsight/internal/permission"
	"github.com/finsight-ai/finsight/internal/tools/mcp"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Finsight.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.finsight/data. Override: FINSIGHT_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Provider      ProviderConfig       `json:"provider" yaml:"provider"`
	Permissions   permission.Config    `json:"permissions" yaml:"permissions"`
	RateLimit     RateLimitConfig      `json:"rate_limit" yaml:"rate_limit"`
	Sessions      SessionConfig        `json:"sessions" yaml:"sessions"`
	Reports       ReportConfig         `json:"reports" yaml:"reports"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	MCP           []mcp.ServerConfig   `json:"mcp,omitempty" yaml:"mcp,omitempty"`                     // External MCP tool servers.
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: FINSIGHT_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ConnMaxLifetime returns the connection lifetime with a default of 30m.
func (p *PostgresStorageConfig) ConnMaxLifetime() time.Duration {
	if p != nil && p.ConnMaxLifetimeS > 0 {
		return time.Duration(p.ConnMaxLifetimeS) * time.Second
	}
	return 30 * time.Minute
}

// ProviderConfig configures the LLM backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name"`         // "openai" or "gemini". Empty = "gemini".
	APIKey    string `json:"api_key" yaml:"api_key"`   // Override: OPENAI_API_KEY / GEMINI_API_KEY env var.
	Model     string `json:"model" yaml:"model"`       // Default: "gemini-2.0-flash".
	BaseURL   string `json:"base_url" yaml:"base_url"` // Optional OpenAI-compatible endpoint.
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"` // Per-call output cap. Default: 4096.
}

// ProviderName returns the configured provider, defaulting to "gemini".
func (p *ProviderConfig) ProviderName() string {
	if p.Name != "" {
		return p.Name
	}
	return "gemini"
}

// ModelName returns the model with a default of "gemini-2.0-flash".
func (p *ProviderConfig) ModelName() string {
	if p.Model != "" {
		return p.Model
	}
	return "gemini-2.0-flash"
}

// RateLimitConfig configures per-user query rate limiting.
type RateLimitConfig struct {
	Requests      int      `json:"requests" yaml:"requests"`             // Per window. Default: 20.
	WindowSeconds int      `json:"window_seconds" yaml:"window_seconds"` // Default: 60.
	Exempt        []string `json:"exempt,omitempty" yaml:"exempt,omitempty"`
}

// Window returns the rate limit window with a default of 60s.
func (r *RateLimitConfig) Window() time.Duration {
	if r != nil && r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return 60 * time.Second
}

// Limit returns the per-window request count with a default of 20.
func (r *RateLimitConfig) Limit() int {
	if r != nil && r.Requests > 0 {
		return r.Requests
	}
	return 20
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	ExpiryHours   int    `json:"expiry_hours" yaml:"expiry_hours"`     // Idle expiry. Default: 24.
	RetentionDays int    `json:"retention_days" yaml:"retention_days"` // Default: 90.
	HistoryLimit  int    `json:"history_limit" yaml:"history_limit"`   // Model context messages. Default: 20.
	ExpireSpec    string `json:"expire_spec" yaml:"expire_spec"`       // Cron spec for expiry sweeps. Default: "@hourly".
	PurgeSpec     string `json:"purge_spec" yaml:"purge_spec"`         // Cron spec for retention purges. Default: "@daily".
}

// Expiry returns the idle expiry window with a default of 24h.
func (s *SessionConfig) Expiry() time.Duration {
	if s != nil && s.ExpiryHours > 0 {
		return time.Duration(s.ExpiryHours) * time.Hour
	}
	return 24 * time.Hour
}

// Retention returns the retention window with a default of 90 days.
func (s *SessionConfig) Retention() time.Duration {
	if s != nil && s.RetentionDays > 0 {
		return time.Duration(s.RetentionDays) * 24 * time.Hour
	}
	return 90 * 24 * time.Hour
}

// ReportConfig configures the read-only report warehouse connection.
type ReportConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`                         // Override: FINSIGHT_REPORT_DSN env var.
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`               // Maximum rows per report. Default: 500.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query timeout. Default: 30.
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeySubjects      map[string]string `json:"api_key_subjects" yaml:"api_key_subjects"` // API key → subject.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the WebSocket chat endpoint.
type WebSocketGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/ws/chat".
}

// WSPath returns the WebSocket path with a default of "/ws/chat".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/chat"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "finsight"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.finsight/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/finsight.yaml"
	}
	return filepath.Join(home, ".finsight", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. API keys and DSNs can be set in the config file or overridden
// by environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".finsight", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" && c.Provider.ProviderName() == "openai" {
		c.Provider.APIKey = envKey
	}
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" && c.Provider.ProviderName() == "gemini" {
		c.Provider.APIKey = envKey
	}
	if envDSN := os.Getenv("FINSIGHT_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envDSN := os.Getenv("FINSIGHT_REPORT_DSN"); envDSN != "" {
		c.Reports.DSN = envDSN
	}
	if envDD := os.Getenv("FINSIGHT_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".finsight", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ResolvedDataDir(), "finsight.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch c.Provider.ProviderName() {
	case "openai", "gemini":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider.api_key is required (set OPENAI_API_KEY or GEMINI_API_KEY env var)")
		}
	case "ollama":
		// Local endpoint, no API key.
	default:
		return fmt.Errorf("provider.name %q is not supported (use openai, gemini, or ollama)", c.Provider.Name)
	}

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set FINSIGHT_DB_DSN env var)")
		}
	}

	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must not be negative")
	}
	if c.RateLimit.WindowSeconds < 0 {
		return fmt.Errorf("rate_limit.window_seconds must not be negative")
	}

	if c.Permissions.DefaultRole != "" {
		if _, ok := c.Permissions.Roles[c.Permissions.DefaultRole]; !ok {
			return fmt.Errorf("permissions.default_role %q not found in roles", c.Permissions.DefaultRole)
		}
	}

	mcpNames := make(map[string]bool, len(c.MCP))
	for i, srv := range c.MCP {
		if srv.Name == "" {
			return fmt.Errorf("mcp[%d].name is required", i)
		}
		if mcpNames[srv.Name] {
			return fmt.Errorf("mcp[%d]: duplicate server name %q", i, srv.Name)
		}
		mcpNames[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("mcp[%d] (%q): command is required for stdio transport", i, srv.Name)
			}
		case "sse", "streamable_http":
			if srv.URL == "" {
				return fmt.Errorf("mcp[%d] (%q): url is required for %s transport", i, srv.Name, srv.Transport)
			}
		default:
			return fmt.Errorf("mcp[%d] (%q): transport must be stdio, sse, or streamable_http", i, srv.Name)
		}
	}
	return nil
}
