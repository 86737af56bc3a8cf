// Package domain defines the syncable record held by the Local Store. A record pairs
// an opaque domain payload with the metadata the engine needs to reconcile it.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one domain entity instance plus its sync metadata.
type Record struct {
	// LocalID is generated on the client and never reused.
	LocalID uuid.UUID
	// EntityType names the domain table this record lives in.
	EntityType string
	// RemoteID is assigned by the server on first successful upload.
	RemoteID *string
	// OwnerID is the account that owns the record.
	OwnerID string
	// Version increments on every local mutation and is the optimistic-concurrency token.
	Version int64
	// Payload is the domain document, opaque to the engine.
	Payload json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	// DeletedAt is the soft tombstone.
	DeletedAt *time.Time
	// IsSynced is true only when the last known server state equals the local state.
	IsSynced bool
	SyncedAt *time.Time
}

// IsDeleted reports whether the record carries a tombstone.
func (r *Record) IsDeleted() bool {
	return r.DeletedAt != nil
}

// HasRemoteID reports whether the server has acknowledged the record at least once.
func (r *Record) HasRemoteID() bool {
	return r.RemoteID != nil && *r.RemoteID != ""
}

// SaveInput is what the mutation API accepts from callers.
type SaveInput struct {
	// LocalID selects an existing record; uuid.Nil creates a new one.
	LocalID uuid.UUID
	OwnerID string
	Payload json.RawMessage
}

// ListFilter narrows List queries.
type ListFilter struct {
	OwnerID        string
	IncludeDeleted bool
	OnlyUnsynced   bool
	Offset         int
	Limit          int
}

// MarkSyncedInput carries a server acknowledgment.
type MarkSyncedInput struct {
	LocalID  uuid.UUID
	RemoteID string
	Version  int64
	SyncedAt time.Time
}

// ApplyResult describes what ApplyRemote did with a server record.
type ApplyResult string

const (
	// ApplyInserted means the record was new locally.
	ApplyInserted ApplyResult = "inserted"
	// ApplyUpdated means the server state overwrote the local row.
	ApplyUpdated ApplyResult = "updated"
	// ApplyUnchanged means the local row already matched.
	ApplyUnchanged ApplyResult = "unchanged"
	// ApplyKeptLocal means a newer unsynced local change won and will be pushed.
	ApplyKeptLocal ApplyResult = "kept_local"
	// ApplySkipped means the record was ignored, e.g. a tombstone for an unknown row.
	ApplySkipped ApplyResult = "skipped"
)
