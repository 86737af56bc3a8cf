// Package http provides the local API server the UI talks to, plus the metrics server.
package http

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/config"
	"github.com/allisson/offline-sync/internal/metrics"
	recordHTTP "github.com/allisson/offline-sync/internal/record/http"
	syncHTTP "github.com/allisson/offline-sync/internal/sync/http"
)

const readinessTimeout = 2 * time.Second

// Server represents the local API server
type Server struct {
	db     *sql.DB
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new local API server
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: newHTTPServer(host, port),
	}
}

// SetupRouter registers middleware and routes. metricsProvider may be nil.
func (s *Server) SetupRouter(
	cfg *config.Config,
	recordHandler *recordHTTP.RecordHandler,
	syncHandler *syncHTTP.SyncHandler,
	metricsProvider *metrics.Provider,
	domains []string,
) {
	gin.SetMode(cfg.GetGinMode())

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	router.Use(CustomLoggerMiddleware(s.logger))
	if metricsProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(metricsProvider.MeterProvider(), cfg.MetricsNamespace, domains))
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	v1 := router.Group("/v1")

	records := v1.Group("/records/:domain")
	records.GET("", recordHandler.ListHandler)
	records.PUT("", recordHandler.SaveHandler)
	records.GET("/:id", recordHandler.GetHandler)
	records.DELETE("/:id", recordHandler.DeleteHandler)

	syncGroup := v1.Group("/sync")
	syncGroup.GET("/status", syncHandler.StatusHandler)
	syncGroup.GET("/:domain/failed", syncHandler.ListFailedHandler)

	controls := syncGroup.Group("/:domain")
	controls.Use(SyncControlRateLimitMiddleware(cfg.SyncControlRateLimitPerSec, cfg.SyncControlRateLimitBurst, s.logger))
	controls.POST("/trigger", syncHandler.TriggerHandler)
	controls.POST("/retry", syncHandler.RetryHandler)

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports ready once the local store answers. Sync state does not
// affect readiness: the store works offline.
func (s *Server) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if s.db == nil || s.db.PingContext(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "not_ready",
			"components": gin.H{"database": "error"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"components": gin.H{"database": "ok"},
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server.Handler = s.router
	return serve(s.server, "http server", s.logger)
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}
