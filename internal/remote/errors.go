package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/allisson/offline-sync/internal/errors"
)

// HTTPError is a non-2xx response. It unwraps to the sync taxonomy sentinel the
// status maps to, so callers branch with errors.Is.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the taxonomy sentinel.
func (e *HTTPError) Unwrap() error {
	return e.kind
}

// newHTTPError classifies a failed response.
func newHTTPError(statusCode int, body []byte) *HTTPError {
	var payload struct {
		Code    string `json:"code"`
		Error   string `json:"error"`
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	_ = json.Unmarshal(body, &payload)

	e := &HTTPError{StatusCode: statusCode, Code: payload.Code, Message: payload.Message}
	if e.Code == "" {
		e.Code = payload.Error
	}
	if e.Message == "" {
		e.Message = string(bytes.TrimSpace(body))
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		e.kind = apperrors.ErrAuthExpired
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		e.kind = apperrors.ErrTransientNetwork
	case statusCode == http.StatusConflict || payload.Status == "conflict":
		e.kind = apperrors.ErrVersionConflict
	default:
		e.kind = apperrors.ErrValidationRejected
	}
	return e
}

// classifyTransport maps a failed round trip. Cancellation of the caller's context is
// returned as is; everything else is transient.
func classifyTransport(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", apperrors.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransientNetwork, err)
}
