// Package domain defines the outbound queue entities: one item per pending local
// mutation that still has to reach the server.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/offline-sync/internal/errors"
)

// ErrQueueItemNotFound is returned when an item id does not exist.
var ErrQueueItemNotFound = errors.Wrap(errors.ErrNotFound, "queue item not found")

// Action is the mutation kind carried by a queue item.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Status is the lifecycle state of a queue item. Acknowledged items are deleted,
// so there is no terminal success state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
)

// QueueItem is one pending mutation for one entity.
type QueueItem struct {
	ID         uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	Action     Action
	// Payload is a snapshot of the record at enqueue time. Deletes carry the tombstoned snapshot.
	Payload json.RawMessage
	// Version is the record version the payload belongs to.
	Version       int64
	Status        Status
	RetryCount    int
	LastError     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsCoalescable reports whether a newer mutation may overwrite this item in place.
// Only unsent items qualify. A failed item leaves that state through RetryFailed alone.
func (i *QueueItem) IsCoalescable() bool {
	return i.Status == StatusPending && i.Action != ActionDelete
}

// QueueStats counts queue items by state.
type QueueStats struct {
	Pending  int
	InFlight int
	Failed   int
}

// Total is the number of items that have not been acknowledged.
func (s QueueStats) Total() int {
	return s.Pending + s.InFlight + s.Failed
}

// EnqueueInput describes a local mutation to be queued.
type EnqueueInput struct {
	EntityType string
	EntityID   uuid.UUID
	Action     Action
	Payload    json.RawMessage
	Version    int64
}
