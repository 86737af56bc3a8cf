package domain

import (
	"github.com/allisson/offline-sync/internal/errors"
)

// Record-specific error definitions.
var (
	// ErrRecordNotFound indicates no record exists for the given id.
	ErrRecordNotFound = errors.Wrap(errors.ErrNotFound, "record not found")

	// ErrRecordDeleted indicates a mutation targeted a tombstoned record.
	ErrRecordDeleted = errors.Wrap(errors.ErrConflict, "record is deleted")
)
