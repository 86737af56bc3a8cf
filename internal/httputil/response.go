// Package httputil provides HTTP utility functions for request and response handling.
package httputil

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/offline-sync/internal/errors"
)

// ErrorResponse is the JSON body of every failed local API request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// errorMapping ties a sentinel to its response. The first match wins, so more specific
// sentinels come before the ones they wrap.
type errorMapping struct {
	target      error
	status      int
	code        string
	message     string
	exposeCause bool
}

var errorMappings = []errorMapping{
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found", "The requested resource was not found", false},
	{apperrors.ErrVersionConflict, http.StatusConflict, "version_conflict", "The record changed on the sync server", false},
	{apperrors.ErrConflict, http.StatusConflict, "conflict", "A conflict occurred with existing data", false},
	{apperrors.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input", "", true},
	{apperrors.ErrValidationRejected, http.StatusUnprocessableEntity, "validation_rejected", "", true},
	{
		apperrors.ErrReauthenticate, http.StatusUnauthorized, "reauthentication_required",
		"Sign in again to resume syncing", false,
	},
	{apperrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Authentication is required", false},
	{
		apperrors.ErrTransientNetwork, http.StatusServiceUnavailable, "remote_unavailable",
		"The sync server is unreachable, changes stay queued locally", false,
	},
	{
		apperrors.ErrStorage, http.StatusInternalServerError, "storage_error",
		"The local store failed to complete the operation", false,
	},
}

// HandleErrorGin maps err onto the error taxonomy and writes the JSON response.
// Unknown errors become 500 without leaking details; the full chain is only logged.
func HandleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	statusCode := http.StatusInternalServerError
	response := ErrorResponse{Error: "internal_error", Message: "An internal error occurred"}
	for _, m := range errorMappings {
		if !apperrors.Is(err, m.target) {
			continue
		}
		statusCode = m.status
		response = ErrorResponse{Error: m.code, Message: m.message}
		if m.exposeCause {
			response.Message = err.Error()
		}
		break
	}

	if logger != nil {
		level := slog.LevelWarn
		if statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c, level, "request failed",
			slog.Int("status_code", statusCode),
			slog.String("error_code", response.Error),
			slog.Any("error", err),
		)
	}

	c.JSON(statusCode, response)
}

// HandleBadRequestGin writes a 400 response for malformed JSON or parameters.
func HandleBadRequestGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("bad request", slog.Any("error", err))
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
}

// HandleValidationErrorGin writes a 422 response for request validation errors.
func HandleValidationErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("validation failed", slog.Any("error", err))
	}
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_error", Message: err.Error()})
}
