// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/allisson/offline-sync/internal/adapter"
	authService "github.com/allisson/offline-sync/internal/auth/service"
	"github.com/allisson/offline-sync/internal/config"
	"github.com/allisson/offline-sync/internal/database"
	"github.com/allisson/offline-sync/internal/http"
	"github.com/allisson/offline-sync/internal/metrics"
	outboxUsecase "github.com/allisson/offline-sync/internal/outbox/usecase"
	"github.com/allisson/offline-sync/internal/remote"
	recordHTTP "github.com/allisson/offline-sync/internal/record/http"
	recordUsecase "github.com/allisson/offline-sync/internal/record/usecase"
	syncHTTP "github.com/allisson/offline-sync/internal/sync/http"
	syncUsecase "github.com/allisson/offline-sync/internal/sync/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger    *slog.Logger
	logFile   *lumberjack.Logger
	db        *sql.DB
	dialect   database.Dialect
	txManager database.TxManager
	registry  *adapter.Registry

	// Metrics
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics
	syncMetrics     metrics.SyncMetrics

	// Credentials and transport
	keeper         authService.Keeper
	credentialRepo authService.CredentialRepository
	tokenVault     *authService.TokenVault
	remoteClient   *remote.Client

	// Sync
	queueUseCase outboxUsecase.UseCase
	cursorRepo   syncUsecase.CursorRepository
	stores       recordUsecase.Stores
	engine       *syncUsecase.Engine

	// Handlers and servers
	recordHandler *recordHTTP.RecordHandler
	syncHandler   *syncHTTP.SyncHandler
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	txManagerInit       sync.Once
	registryInit        sync.Once
	metricsProviderInit sync.Once
	businessMetricsInit sync.Once
	syncMetricsInit     sync.Once
	keeperInit          sync.Once
	credentialRepoInit  sync.Once
	tokenVaultInit      sync.Once
	remoteClientInit    sync.Once
	queueUseCaseInit    sync.Once
	cursorRepoInit      sync.Once
	storesInit          sync.Once
	engineInit          sync.Once
	recordHandlerInit   sync.Once
	syncHandlerInit     sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// DB returns the database connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// Dialect returns the SQL dialect of the configured driver.
func (c *Container) Dialect() (database.Dialect, error) {
	if _, err := c.DB(); err != nil {
		return "", err
	}
	return c.dialect, nil
}

// TxManager returns the transaction manager.
// It requires a database connection to be initialized first.
func (c *Container) TxManager() (database.TxManager, error) {
	var err error
	c.txManagerInit.Do(func() {
		c.txManager, err = c.initTxManager()
		if err != nil {
			c.initErrors["txManager"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["txManager"]; exists {
		return nil, storedErr
	}
	return c.txManager, nil
}

// Registry returns the enabled domain adapters.
func (c *Container) Registry() (*adapter.Registry, error) {
	var err error
	c.registryInit.Do(func() {
		c.registry, err = c.initRegistry()
		if err != nil {
			c.initErrors["registry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["registry"]; exists {
		return nil, storedErr
	}
	return c.registry, nil
}

// MetricsProvider returns the OpenTelemetry provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		c.metricsProvider, err = c.initMetricsProvider()
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the record operation metrics.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	var err error
	c.businessMetricsInit.Do(func() {
		c.businessMetrics, err = c.initBusinessMetrics()
		if err != nil {
			c.initErrors["businessMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["businessMetrics"]; exists {
		return nil, storedErr
	}
	return c.businessMetrics, nil
}

// SyncMetrics returns the sync cycle metrics.
func (c *Container) SyncMetrics() (metrics.SyncMetrics, error) {
	var err error
	c.syncMetricsInit.Do(func() {
		c.syncMetrics, err = c.initSyncMetrics()
		if err != nil {
			c.initErrors["syncMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["syncMetrics"]; exists {
		return nil, storedErr
	}
	return c.syncMetrics, nil
}

// Migrate applies the embedded migrations of the configured driver.
func (c *Container) Migrate() error {
	return database.Migrate(c.databaseConfig(), c.Logger())
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.engine != nil {
		if err := c.engine.Stop(c.config.ShutdownTimeout); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("sync engine stop: %w", err))
		}
	}

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.keeper != nil {
		if err := c.keeper.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("secrets keeper close: %w", err))
		}
	}

	// Close database connection if initialized
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("log file close: %w", err))
		}
	}

	// Return combined errors if any occurred
	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
// When LogFile is set, output is mirrored into a size-rotated file.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if c.config.LogFile != "" {
		c.logFile = &lumberjack.Logger{
			Filename:   c.config.LogFile,
			MaxSize:    c.config.LogFileMaxSizeMB,
			MaxBackups: c.config.LogFileMaxBackups,
			MaxAge:     c.config.LogFileMaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, c.logFile)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

func (c *Container) databaseConfig() database.Config {
	return database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	}
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	dialect, err := database.DialectFor(c.config.DBDriver)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(c.databaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.dialect = dialect
	return db, nil
}

// initTxManager creates the transaction manager using the database connection.
func (c *Container) initTxManager() (database.TxManager, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for tx manager: %w", err)
	}
	return database.NewTxManager(db), nil
}

// initRegistry loads domain definitions from SyncDomainsFile, or the built-ins, and
// keeps the enabled ones.
func (c *Container) initRegistry() (*adapter.Registry, error) {
	defs := adapter.Builtin()
	if c.config.SyncDomainsFile != "" {
		loaded, err := adapter.LoadFile(c.config.SyncDomainsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load domain definitions: %w", err)
		}
		defs = loaded
	}

	registry, err := adapter.Build(defs, c.config.Domains())
	if err != nil {
		return nil, fmt.Errorf("failed to build domain registry: %w", err)
	}
	return registry, nil
}

func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}
	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}
	return metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}

func (c *Container) initSyncMetrics() (metrics.SyncMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpSyncMetrics(), nil
	}
	return metrics.NewSyncMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}
