package live

import "encoding/json"

// Server event types.
const (
	EventRecordCreated  = "record_created"
	EventRecordUpdated  = "record_updated"
	EventRecordDeleted  = "record_deleted"
	EventResyncRequired = "resync_required"
	EventHeartbeat      = "heartbeat"
)

// Client control frame types.
const (
	ControlPing        = "ping"
	ControlUnsubscribe = "unsubscribe"
)

// Frame is the JSON envelope of every message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// triggersSync reports whether the event means server state changed.
func (f Frame) triggersSync() bool {
	switch f.Type {
	case EventRecordCreated, EventRecordUpdated, EventRecordDeleted, EventResyncRequired:
		return true
	}
	return false
}
