package dto

import (
	"encoding/json"
	"time"

	"github.com/allisson/offline-sync/internal/record/domain"
)

// RecordResponse represents a record with its sync metadata.
type RecordResponse struct {
	LocalID    string          `json:"local_id"`
	EntityType string          `json:"entity_type"`
	RemoteID   *string         `json:"remote_id,omitempty"`
	OwnerID    string          `json:"owner_id"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty"`
	IsSynced   bool            `json:"is_synced"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// ListRecordsResponse represents a paginated list of records.
type ListRecordsResponse struct {
	Data []RecordResponse `json:"data"`
}

// MapRecordToResponse converts a domain record to an API response.
func MapRecordToResponse(record *domain.Record) RecordResponse {
	return RecordResponse{
		LocalID:    record.LocalID.String(),
		EntityType: record.EntityType,
		RemoteID:   record.RemoteID,
		OwnerID:    record.OwnerID,
		Version:    record.Version,
		Payload:    record.Payload,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		DeletedAt:  record.DeletedAt,
		IsSynced:   record.IsSynced,
		SyncedAt:   record.SyncedAt,
	}
}

// MapRecordsToListResponse converts domain records to a list response.
func MapRecordsToListResponse(records []*domain.Record) ListRecordsResponse {
	data := make([]RecordResponse, 0, len(records))
	for _, record := range records {
		data = append(data, MapRecordToResponse(record))
	}
	return ListRecordsResponse{Data: data}
}
