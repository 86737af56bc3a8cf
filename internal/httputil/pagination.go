package httputil

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// PageBounds sets the default and maximum page size of a list endpoint.
type PageBounds struct {
	DefaultLimit int
	MaxLimit     int
}

// RecordPage bounds record listings. Pages stay small since the UI renders them directly.
var RecordPage = PageBounds{DefaultLimit: 50, MaxLimit: 100}

// FailedItemsPage bounds failed queue item listings, which users review in bulk.
var FailedItemsPage = PageBounds{DefaultLimit: 50, MaxLimit: 500}

// ParsePagination parses the offset and limit query parameters.
// Offset defaults to 0 and limit to bounds.DefaultLimit.
func ParsePagination(c *gin.Context, bounds PageBounds) (offset, limit int, err error) {
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset parameter: must be a non-negative integer")
	}

	limit, err = ParseLimit(c, bounds)
	if err != nil {
		return 0, 0, err
	}
	return offset, limit, nil
}

// ParseLimit parses the limit query parameter on its own, for endpoints without offsets.
func ParseLimit(c *gin.Context, bounds PageBounds) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return bounds.DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > bounds.MaxLimit {
		return 0, fmt.Errorf("invalid limit parameter: must be between 1 and %d", bounds.MaxLimit)
	}
	return limit, nil
}
