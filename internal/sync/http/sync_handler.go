// Package http exposes sync health and controls to the local UI.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/offline-sync/internal/httputil"
	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
	"github.com/allisson/offline-sync/internal/sync/http/dto"
)

// Engine is the part of the sync engine the handlers drive.
type Engine interface {
	Status(ctx context.Context) ([]*syncDomain.DomainStatus, error)
	SyncNow(domainName string) error
	RetryFailed(ctx context.Context, domainName string) (int64, error)
	ListFailed(ctx context.Context, domainName string, limit int) ([]*outboxDomain.QueueItem, error)
}

// SyncHandler handles HTTP requests for sync status and controls.
type SyncHandler struct {
	engine Engine
	logger *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(engine Engine, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		engine: engine,
		logger: logger,
	}
}

// StatusHandler reports every domain's queue, last cycle and channel state.
// GET /v1/sync/status
func (h *SyncHandler) StatusHandler(c *gin.Context) {
	statuses, err := h.engine.Status(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapStatusesToResponse(statuses))
}

// TriggerHandler requests an immediate cycle. The cycle runs in the background.
// POST /v1/sync/:domain/trigger
func (h *SyncHandler) TriggerHandler(c *gin.Context) {
	domainName := c.Param("domain")
	if err := h.engine.SyncNow(domainName); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerResponse{Domain: domainName, Status: "scheduled"})
}

// ListFailedHandler lists items that will not be retried without user action.
// GET /v1/sync/:domain/failed?limit=50
func (h *SyncHandler) ListFailedHandler(c *gin.Context) {
	limit, err := httputil.ParseLimit(c, httputil.FailedItemsPage)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	items, err := h.engine.ListFailed(c.Request.Context(), c.Param("domain"), limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapQueueItemsToListResponse(items))
}

// RetryHandler moves failed items back to pending and schedules a cycle.
// POST /v1/sync/:domain/retry
func (h *SyncHandler) RetryHandler(c *gin.Context) {
	domainName := c.Param("domain")
	retried, err := h.engine.RetryFailed(c.Request.Context(), domainName)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.RetryResponse{Domain: domainName, Retried: retried})
}
