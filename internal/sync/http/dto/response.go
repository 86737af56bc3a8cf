// Package dto provides data transfer objects for the sync status API.
package dto

import (
	"fmt"
	"time"

	outboxDomain "github.com/allisson/offline-sync/internal/outbox/domain"
	syncDomain "github.com/allisson/offline-sync/internal/sync/domain"
)

// QueueResponse counts a domain's queue items by state.
type QueueResponse struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
}

// DomainStatusResponse is the health of one domain.
type DomainStatusResponse struct {
	Domain         string        `json:"domain"`
	Queue          QueueResponse `json:"queue"`
	Unsynced       int           `json:"unsynced"`
	LastCycleAt    *time.Time    `json:"last_cycle_at,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	ChannelState   string        `json:"channel_state"`
	ReauthRequired bool          `json:"reauth_required"`
	// Summary is the user-facing line, e.g. "2 items failed to sync".
	Summary string `json:"summary"`
}

// StatusResponse wraps every domain's status.
type StatusResponse struct {
	Data []DomainStatusResponse `json:"data"`
}

// QueueItemResponse is a queue item as shown to the user.
type QueueItemResponse struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Version    int64     `json:"version"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  *string   `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListQueueItemsResponse wraps a list of queue items.
type ListQueueItemsResponse struct {
	Data []QueueItemResponse `json:"data"`
}

// TriggerResponse acknowledges an asynchronous request.
type TriggerResponse struct {
	Domain string `json:"domain"`
	Status string `json:"status"`
}

// RetryResponse reports how many failed items were scheduled again.
type RetryResponse struct {
	Domain  string `json:"domain"`
	Retried int64  `json:"retried"`
}

// Summarize renders the one-line health message shown by the UI and the CLI.
func Summarize(status *syncDomain.DomainStatus) string {
	switch {
	case status.ReauthRequired:
		return "sign in again to resume syncing"
	case status.Queue.Failed == 1:
		return "1 item failed to sync"
	case status.Queue.Failed > 1:
		return fmt.Sprintf("%d items failed to sync", status.Queue.Failed)
	case status.Queue.Pending+status.Queue.InFlight > 0:
		return fmt.Sprintf("%d changes waiting to sync", status.Queue.Pending+status.Queue.InFlight)
	default:
		return "up to date"
	}
}

// MapDomainStatusToResponse converts a domain status to an API response.
func MapDomainStatusToResponse(status *syncDomain.DomainStatus) DomainStatusResponse {
	return DomainStatusResponse{
		Domain: status.Domain,
		Queue: QueueResponse{
			Pending:  status.Queue.Pending,
			InFlight: status.Queue.InFlight,
			Failed:   status.Queue.Failed,
		},
		Unsynced:       status.Unsynced,
		LastCycleAt:    status.LastCycleAt,
		LastError:      status.LastError,
		ChannelState:   status.ChannelState,
		ReauthRequired: status.ReauthRequired,
		Summary:        Summarize(status),
	}
}

// MapStatusesToResponse converts every domain status.
func MapStatusesToResponse(statuses []*syncDomain.DomainStatus) StatusResponse {
	data := make([]DomainStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		data = append(data, MapDomainStatusToResponse(status))
	}
	return StatusResponse{Data: data}
}

// MapQueueItemToResponse converts a queue item to an API response. Payloads are left out.
func MapQueueItemToResponse(item *outboxDomain.QueueItem) QueueItemResponse {
	return QueueItemResponse{
		ID:         item.ID.String(),
		EntityType: item.EntityType,
		EntityID:   item.EntityID.String(),
		Action:     string(item.Action),
		Version:    item.Version,
		Status:     string(item.Status),
		RetryCount: item.RetryCount,
		LastError:  item.LastError,
		CreatedAt:  item.CreatedAt,
		UpdatedAt:  item.UpdatedAt,
	}
}

// MapQueueItemsToListResponse converts queue items to a list response.
func MapQueueItemsToListResponse(items []*outboxDomain.QueueItem) ListQueueItemsResponse {
	data := make([]QueueItemResponse, 0, len(items))
	for _, item := range items {
		data = append(data, MapQueueItemToResponse(item))
	}
	return ListQueueItemsResponse{Data: data}
}
