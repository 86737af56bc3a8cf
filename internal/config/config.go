// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/allisson/go-env"
	validation "github.com/jellydator/validation"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the local API binds to.
	ServerHost string
	// ServerPort is the port the local API listens on.
	ServerPort int

	// DBDriver is the local store driver ("sqlite", "postgres" or "mysql").
	DBDriver string
	// DBConnectionString is the data source name for the local store.
	DBConnectionString string
	// DBMaxOpenConnections is the maximum number of open connections. SQLite wants 1.
	DBMaxOpenConnections int
	// DBMaxIdleConnections is the maximum number of idle connections in the pool.
	DBMaxIdleConnections int
	// DBConnMaxLifetime is the maximum amount of time a connection may be reused.
	DBConnMaxLifetime time.Duration

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string
	// LogFile, when set, mirrors logs into a rotating file.
	LogFile string
	// LogFileMaxSizeMB is the size at which the log file is rotated.
	LogFileMaxSizeMB int
	// LogFileMaxBackups is how many rotated files are kept.
	LogFileMaxBackups int
	// LogFileMaxAgeDays is how long rotated files are kept.
	LogFileMaxAgeDays int

	// SyncControlRateLimitPerSec throttles trigger and retry calls per domain. Zero disables it.
	SyncControlRateLimitPerSec float64
	// SyncControlRateLimitBurst is the burst size for sync controls.
	SyncControlRateLimitBurst int

	// CORSEnabled indicates whether CORS is enabled on the local API.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int

	// RemoteBaseURL is the REST backend root, e.g. "https://api.example.com".
	RemoteBaseURL string
	// RemoteRequestTimeout bounds every push, pull and refresh call.
	RemoteRequestTimeout time.Duration
	// RemoteRateLimitRequestsPerSec throttles outgoing requests.
	RemoteRateLimitRequestsPerSec float64
	// RemoteRateLimitBurst is the burst size for outgoing requests.
	RemoteRateLimitBurst int

	// SyncDomains is a comma-separated list of enabled domains.
	SyncDomains string
	// SyncDomainsFile optionally points at a YAML domain registry.
	SyncDomainsFile string
	// SyncInterval is the period of the background cycle.
	SyncInterval time.Duration
	// SyncCycleTimeout aborts a cycle that runs longer than this.
	SyncCycleTimeout time.Duration
	// SyncPullLimit is the page size requested from the pull endpoint.
	SyncPullLimit int
	// SyncMaxBatchesPerCycle caps how many push batches a single cycle drains.
	SyncMaxBatchesPerCycle int

	// QueueBatchSize is the number of queue items pushed per request.
	QueueBatchSize int
	// QueueBackoffBase is the base delay for transient retry backoff.
	QueueBackoffBase time.Duration
	// QueueBackoffCap is the maximum delay for transient retry backoff.
	QueueBackoffCap time.Duration
	// QueueMaxRetries turns an item terminal after this many attempts. Zero retries forever.
	QueueMaxRetries int

	// LiveEnabled toggles the live-update channel.
	LiveEnabled bool
	// LiveBaseURL is the websocket root, e.g. "wss://api.example.com". Derived from RemoteBaseURL when empty.
	LiveBaseURL string
	// LiveReconnectDelay is the base reconnect delay.
	LiveReconnectDelay time.Duration
	// LiveMaxBackoff caps the escalating delay after authorization failures.
	LiveMaxBackoff time.Duration
	// LiveMaxAuthFailures stops reconnecting after this many consecutive authorization failures.
	LiveMaxAuthFailures int
	// LiveAuthCloseCode is the websocket close code the server uses for an expired token.
	LiveAuthCloseCode int
	// LiveHandshakeTimeout bounds the websocket dial.
	LiveHandshakeTimeout time.Duration
	// LivePingInterval is how often a ping frame is sent.
	LivePingInterval time.Duration
	// LiveHeartbeatTimeout drops a connection that stays silent for this long.
	LiveHeartbeatTimeout time.Duration

	// SecretsKeeperURI is the gocloud secrets URL used to encrypt stored tokens.
	SecretsKeeperURI string
	// SyncAccount names the credential row used by the remote client.
	SyncAccount string
	// OwnerID is stamped on records created through the local API.
	OwnerID string

	// ShutdownTimeout bounds how long the engine waits for workers to stop.
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Local API
		ServerHost: env.GetString("SERVER_HOST", "127.0.0.1"),
		ServerPort: env.GetInt("SERVER_PORT", 8080),

		// Database configuration
		DBDriver: env.GetString("DB_DRIVER", "sqlite"),
		DBConnectionString: env.GetString(
			"DB_CONNECTION_STRING",
			"file:offline-sync.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		),
		DBMaxOpenConnections: env.GetInt("DB_MAX_OPEN_CONNECTIONS", 1),
		DBMaxIdleConnections: env.GetInt("DB_MAX_IDLE_CONNECTIONS", 1),
		DBConnMaxLifetime:    env.GetDuration("DB_CONN_MAX_LIFETIME", 5, time.Minute),

		// Logging
		LogLevel:          env.GetString("LOG_LEVEL", "info"),
		LogFile:           env.GetString("LOG_FILE", ""),
		LogFileMaxSizeMB:  env.GetInt("LOG_FILE_MAX_SIZE_MB", 50),
		LogFileMaxBackups: env.GetInt("LOG_FILE_MAX_BACKUPS", 5),
		LogFileMaxAgeDays: env.GetInt("LOG_FILE_MAX_AGE_DAYS", 28),

		// Sync controls
		SyncControlRateLimitPerSec: env.GetFloat64("SYNC_CONTROL_RATE_LIMIT_PER_SEC", 1.0),
		SyncControlRateLimitBurst:  env.GetInt("SYNC_CONTROL_RATE_LIMIT_BURST", 5),

		// CORS
		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "offline_sync"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),

		// Remote backend
		RemoteBaseURL:                 env.GetString("REMOTE_BASE_URL", "http://localhost:8000"),
		RemoteRequestTimeout:          env.GetDuration("REMOTE_REQUEST_TIMEOUT_SECONDS", 15, time.Second),
		RemoteRateLimitRequestsPerSec: env.GetFloat64("REMOTE_RATE_LIMIT_REQUESTS_PER_SEC", 5.0),
		RemoteRateLimitBurst:          env.GetInt("REMOTE_RATE_LIMIT_BURST", 10),

		// Sync cycle
		SyncDomains:            env.GetString("SYNC_DOMAINS", "tasks,habits,pomodoro,alarms,mail,notes"),
		SyncDomainsFile:        env.GetString("SYNC_DOMAINS_FILE", ""),
		SyncInterval:           env.GetDuration("SYNC_INTERVAL_SECONDS", 30, time.Second),
		SyncCycleTimeout:       env.GetDuration("SYNC_CYCLE_TIMEOUT_SECONDS", 120, time.Second),
		SyncPullLimit:          env.GetInt("SYNC_PULL_LIMIT", 200),
		SyncMaxBatchesPerCycle: env.GetInt("SYNC_MAX_BATCHES_PER_CYCLE", 10),

		// Outbound queue
		QueueBatchSize:   env.GetInt("QUEUE_BATCH_SIZE", 50),
		QueueBackoffBase: env.GetDuration("QUEUE_BACKOFF_BASE_SECONDS", 5, time.Second),
		QueueBackoffCap:  env.GetDuration("QUEUE_BACKOFF_CAP_SECONDS", 3600, time.Second),
		QueueMaxRetries:  env.GetInt("QUEUE_MAX_RETRIES", 0),

		// Live-update channel
		LiveEnabled:          env.GetBool("LIVE_ENABLED", true),
		LiveBaseURL:          env.GetString("LIVE_BASE_URL", ""),
		LiveReconnectDelay:   env.GetDuration("LIVE_RECONNECT_DELAY_SECONDS", 3, time.Second),
		LiveMaxBackoff:       env.GetDuration("LIVE_MAX_BACKOFF_SECONDS", 30, time.Second),
		LiveMaxAuthFailures:  env.GetInt("LIVE_MAX_AUTH_FAILURES", 3),
		LiveAuthCloseCode:    env.GetInt("LIVE_AUTH_CLOSE_CODE", 4001),
		LiveHandshakeTimeout: env.GetDuration("LIVE_HANDSHAKE_TIMEOUT_SECONDS", 10, time.Second),
		LivePingInterval:     env.GetDuration("LIVE_PING_INTERVAL_SECONDS", 25, time.Second),
		LiveHeartbeatTimeout: env.GetDuration("LIVE_HEARTBEAT_TIMEOUT_SECONDS", 90, time.Second),

		// Credentials
		SecretsKeeperURI: env.GetString("SECRETS_KEEPER_URI", ""),
		SyncAccount:      env.GetString("SYNC_ACCOUNT", "default"),
		OwnerID:          env.GetString("OWNER_ID", ""),

		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT_SECONDS", 10, time.Second),
	}
}

// Validate checks that the configuration can start an engine.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite", "postgres", "mysql")),
		validation.Field(&c.DBConnectionString, validation.Required),
		validation.Field(&c.RemoteBaseURL, validation.Required),
		validation.Field(&c.SyncInterval, validation.Required),
		validation.Field(&c.SyncCycleTimeout, validation.Required),
		validation.Field(&c.SyncPullLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.QueueBatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.QueueBackoffBase, validation.Required),
		validation.Field(&c.QueueBackoffCap, validation.Required),
		validation.Field(&c.QueueMaxRetries, validation.Min(0)),
		validation.Field(&c.LiveMaxAuthFailures, validation.Required, validation.Min(1)),
		validation.Field(&c.SyncAccount, validation.Required),
	)
}

// Domains returns the enabled domain names, trimmed and without empties.
func (c *Config) Domains() []string {
	parts := strings.Split(c.SyncDomains, ",")
	domains := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			domains = append(domains, trimmed)
		}
	}
	return domains
}

// LiveURL returns the websocket root, deriving it from the REST root when not configured.
func (c *Config) LiveURL() string {
	if c.LiveBaseURL != "" {
		return c.LiveBaseURL
	}
	switch {
	case strings.HasPrefix(c.RemoteBaseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.RemoteBaseURL, "https://")
	case strings.HasPrefix(c.RemoteBaseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.RemoteBaseURL, "http://")
	default:
		return c.RemoteBaseURL
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	if c.LogLevel == "debug" {
		return "debug"
	}
	return "release"
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
