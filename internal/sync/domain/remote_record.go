package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RemoteRecord is a server-originated change returned by pull.
type RemoteRecord struct {
	RemoteID string
	// LocalID is echoed by servers that remember the originating client id.
	LocalID   *uuid.UUID
	Version   int64
	Payload   json.RawMessage
	Deleted   bool
	UpdatedAt time.Time
}

// Side returns the record's conflict-resolution state.
func (r *RemoteRecord) Side() Side {
	return Side{Version: r.Version, UpdatedAt: r.UpdatedAt}
}

// PullResult is one page of remote changes.
type PullResult struct {
	Records []*RemoteRecord
	// NextCursor is where the following pull should start; equal to the request cursor when empty.
	NextCursor string
}

// Cursor is the per-domain pull watermark.
type Cursor struct {
	Domain    string
	Value     string
	UpdatedAt time.Time
}
