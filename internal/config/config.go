// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Storage providers accepted by STORAGE_PROVIDER.
const (
	StorageProviderStage = "stage"
	StorageProviderS3    = "s3"
	StorageProviderGCS   = "gcs"
	StorageProviderAzure = "azure"
)

// SnowflakeConfig holds connection settings for the host account. Inside the
// container platform the host injects SNOWFLAKE_HOST and an OAuth token file;
// outside it the agent falls back to keypair auth.
type SnowflakeConfig struct {
	Host                 string // SNOWFLAKE_HOST (injected by the platform)
	Account              string // SNOWFLAKE_ACCOUNT
	Database             string // SNOWFLAKE_DATABASE (defaults to the app database)
	Warehouse            string // SNOWFLAKE_WAREHOUSE (defaults to <db>_wh)
	Role                 string // SNOWFLAKE_ROLE (keypair auth only)
	TokenFile            string // OAuth session token file (default /snowflake/session/token)
	User                 string // SNOWFLAKE_USER (keypair auth only)
	PrivateKeyPath       string // SNOWFLAKE_PRIVATE_KEY_PATH (keypair auth only)
	PrivateKeyPassphrase string // SNOWFLAKE_PRIVATE_KEY_PASSPHRASE
}

// KeypairConfigured returns true when enough is set for keypair auth.
func (s *SnowflakeConfig) KeypairConfigured() bool {
	return s.User != "" && s.PrivateKeyPath != ""
}

// Config holds the agent process configuration loaded from the environment.
// Tunables that may change at runtime live in the dynamic Manager instead.
type Config struct {
	AppDatabase string // application database the installer created (default "MCD_AGENT")
	AgentID     string // agent identifier reported to the orchestrator (default "snowflake")
	BackendURL  string // orchestrator base URL (BACKEND_SERVICE_URL)
	Env         string // environment: "local" enables development paths
	ListenHost  string // HTTP bind host (default "0.0.0.0")
	ListenPort  int    // HTTP bind port (default 8081)
	CredsFile   string // mounted secret holding the orchestrator credentials
	LedgerPath  string // path to the SQLite dispatch ledger
	LogLevel    string // log level: debug, info, warn, error (default "info")

	// EventsTransport selects how operations arrive: "sse" or "websocket".
	EventsTransport string

	// AgentToken guards the /api routes when set. Callers send it as a
	// bearer token; empty disables the check.
	AgentToken string

	// Result offload storage. "stage" uses the app's internal stage mounted
	// as a service volume; the cloud providers expect their SDK credential
	// chains in the environment.
	StorageProvider string // StorageProvider* constant (default stage)
	StorageBucket   string // bucket or container for cloud providers
	StorageAccount  string // storage account (azure only)
	StageMountPath  string // where the service spec mounts the stage volume

	// Dynamic configuration persistence.
	UseDBConfig bool   // persist tunables in the host account (default: true unless local)
	ConfigTable string // CONFIG_TABLE_NAME (default <DB>.CONFIG.APP_CONFIG)

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Snowflake SnowflakeConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsLocal returns true when the agent runs outside the container platform.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, "local")
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		AppDatabase:     os.Getenv("APP_DATABASE"),
		AgentID:         os.Getenv("AGENT_ID"),
		BackendURL:      strings.TrimRight(os.Getenv("BACKEND_SERVICE_URL"), "/"),
		Env:             os.Getenv("ENV"),
		ListenHost:      os.Getenv("SERVER_HOST"),
		CredsFile:       os.Getenv("CREDS_FILE"),
		LedgerPath:      os.Getenv("LEDGER_DB_PATH"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		EventsTransport: strings.ToLower(os.Getenv("EVENTS_TRANSPORT")),
		AgentToken:      os.Getenv("AGENT_TOKEN"),
		StorageProvider: strings.ToLower(os.Getenv("STORAGE_PROVIDER")),
		StorageBucket:   os.Getenv("STORAGE_BUCKET"),
		StorageAccount:  os.Getenv("STORAGE_ACCOUNT"),
		StageMountPath:  os.Getenv("STAGE_MOUNT_PATH"),
		ConfigTable:     os.Getenv("CONFIG_TABLE_NAME"),
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid SERVER_PORT %q", v)
		}
		cfg.ListenPort = port
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	cfg.Snowflake = SnowflakeConfig{
		Host:                 os.Getenv("SNOWFLAKE_HOST"),
		Account:              os.Getenv("SNOWFLAKE_ACCOUNT"),
		Database:             os.Getenv("SNOWFLAKE_DATABASE"),
		Warehouse:            os.Getenv("SNOWFLAKE_WAREHOUSE"),
		Role:                 os.Getenv("SNOWFLAKE_ROLE"),
		TokenFile:            os.Getenv("SNOWFLAKE_TOKEN_FILE"),
		User:                 os.Getenv("SNOWFLAKE_USER"),
		PrivateKeyPath:       os.Getenv("SNOWFLAKE_PRIVATE_KEY_PATH"),
		PrivateKeyPassphrase: os.Getenv("SNOWFLAKE_PRIVATE_KEY_PASSPHRASE"),
	}

	// Defaults
	if cfg.AppDatabase == "" {
		cfg.AppDatabase = "MCD_AGENT"
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "snowflake"
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8081
	}
	if cfg.CredsFile == "" {
		cfg.CredsFile = "/usr/local/creds/secret_string"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "/tmp/agent_ledger.sqlite"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StorageProvider == "" {
		cfg.StorageProvider = StorageProviderStage
	}
	if cfg.EventsTransport == "" {
		cfg.EventsTransport = "sse"
	}
	if cfg.StageMountPath == "" {
		cfg.StageMountPath = "/stage"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	names := DeriveNames(cfg.AppDatabase)
	if cfg.ConfigTable == "" {
		cfg.ConfigTable = names.ConfigTable
	}
	if cfg.Snowflake.Database == "" {
		cfg.Snowflake.Database = cfg.AppDatabase
	}
	if cfg.Snowflake.Warehouse == "" {
		cfg.Snowflake.Warehouse = names.Warehouse
	}
	if cfg.Snowflake.TokenFile == "" {
		cfg.Snowflake.TokenFile = "/snowflake/session/token"
	}

	cfg.UseDBConfig = parseBoolEnvDefault("USE_DB_CONFIG_PERSISTENCE", !cfg.IsLocal())

	switch cfg.StorageProvider {
	case StorageProviderStage, StorageProviderS3, StorageProviderGCS, StorageProviderAzure:
	default:
		return nil, fmt.Errorf("invalid STORAGE_PROVIDER %q (expected stage, s3, gcs, or azure)", cfg.StorageProvider)
	}
	switch cfg.EventsTransport {
	case "sse", "websocket":
	default:
		return nil, fmt.Errorf("invalid EVENTS_TRANSPORT %q (expected sse or websocket)", cfg.EventsTransport)
	}
	if cfg.StorageProvider == StorageProviderS3 || cfg.StorageProvider == StorageProviderGCS {
		if cfg.StorageBucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required when STORAGE_PROVIDER=%s", cfg.StorageProvider)
		}
	}
	if cfg.StorageProvider == StorageProviderAzure && (cfg.StorageBucket == "" || cfg.StorageAccount == "") {
		return nil, fmt.Errorf("STORAGE_BUCKET and STORAGE_ACCOUNT are required when STORAGE_PROVIDER=azure")
	}

	if cfg.BackendURL == "" {
		if cfg.IsLocal() {
			cfg.Warnings = append(cfg.Warnings, "BACKEND_SERVICE_URL not set; event stream and result pushes are disabled")
		} else {
			return nil, fmt.Errorf("BACKEND_SERVICE_URL must be set")
		}
	}
	if cfg.Snowflake.Host == "" {
		cfg.Warnings = append(cfg.Warnings, "SNOWFLAKE_HOST not set; host account queries will fail until it is")
	}
	if cfg.IsLocal() && !cfg.Snowflake.KeypairConfigured() {
		cfg.Warnings = append(cfg.Warnings, "keypair auth incomplete; set SNOWFLAKE_USER and SNOWFLAKE_PRIVATE_KEY_PATH for local runs")
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
