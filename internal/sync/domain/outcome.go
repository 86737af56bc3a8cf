package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutcomeStatus is the server's verdict on one pushed item.
type OutcomeStatus string

const (
	OutcomeAccepted  OutcomeStatus = "accepted"
	OutcomeConflict  OutcomeStatus = "conflict"
	OutcomeRejected  OutcomeStatus = "rejected"
	OutcomeTransient OutcomeStatus = "transient"
)

// Outcome pairs a queue item with its push result.
type Outcome struct {
	ItemID  uuid.UUID
	LocalID uuid.UUID
	Status  OutcomeStatus

	// Accepted
	RemoteID string
	Version  int64

	// Conflict
	ServerPayload   json.RawMessage
	ServerUpdatedAt time.Time
	ServerDeleted   bool

	// Rejected and transient
	Reason string
}

// ServerSide returns the server's conflict-resolution state.
func (o *Outcome) ServerSide() Side {
	return Side{Version: o.Version, UpdatedAt: o.ServerUpdatedAt}
}

// HasServerState reports whether a conflict outcome carries enough to resolve locally.
func (o *Outcome) HasServerState() bool {
	return len(o.ServerPayload) > 0
}
