// Package http provides HTTP handlers for the Local Store. Every mutation goes through
// the same use case the sync engine observes, so UI writes are queued like any other.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/httputil"
	"github.com/allisson/offline-sync/internal/record/domain"
	"github.com/allisson/offline-sync/internal/record/http/dto"
	"github.com/allisson/offline-sync/internal/record/usecase"
	customValidation "github.com/allisson/offline-sync/internal/validation"
)

// RecordHandler handles HTTP requests for local records.
type RecordHandler struct {
	stores usecase.Stores
	logger *slog.Logger
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(stores usecase.Stores, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{
		stores: stores,
		logger: logger,
	}
}

func (h *RecordHandler) store(c *gin.Context) (usecase.UseCase, bool) {
	store, err := h.stores.Get(c.Param("domain"))
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return nil, false
	}
	return store, true
}

func (h *RecordHandler) localID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("invalid record id: %w", err), h.logger)
		return uuid.Nil, false
	}
	return id, true
}

// SaveHandler creates or updates a record.
// PUT /v1/records/:domain
func (h *RecordHandler) SaveHandler(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	var req dto.SaveRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	record, err := store.Save(c.Request.Context(), req.ToSaveInput())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRecordToResponse(record))
}

// GetHandler returns one record, tombstones included.
// GET /v1/records/:domain/:id
func (h *RecordHandler) GetHandler(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	id, ok := h.localID(c)
	if !ok {
		return
	}

	record, err := store.Get(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRecordToResponse(record))
}

// DeleteHandler tombstones a record.
// DELETE /v1/records/:domain/:id
func (h *RecordHandler) DeleteHandler(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}
	id, ok := h.localID(c)
	if !ok {
		return
	}

	if _, err := store.Delete(c.Request.Context(), id); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Data(http.StatusNoContent, "application/json", nil)
}

// ListHandler lists records.
// GET /v1/records/:domain?owner_id=&include_deleted=&only_unsynced=&offset=0&limit=50
func (h *RecordHandler) ListHandler(c *gin.Context) {
	store, ok := h.store(c)
	if !ok {
		return
	}

	offset, limit, err := httputil.ParsePagination(c, httputil.RecordPage)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	includeDeleted, err := parseBoolQuery(c, "include_deleted")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}
	onlyUnsynced, err := parseBoolQuery(c, "only_unsynced")
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	records, err := store.List(c.Request.Context(), domain.ListFilter{
		OwnerID:        c.Query("owner_id"),
		IncludeDeleted: includeDeleted,
		OnlyUnsynced:   onlyUnsynced,
		Offset:         offset,
		Limit:          limit,
	})
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapRecordsToListResponse(records))
}

func parseBoolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: must be a boolean", key)
	}
	return value, nil
}
