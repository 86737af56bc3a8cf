// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	"encoding/json"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	"github.com/allisson/offline-sync/internal/record/domain"
	customValidation "github.com/allisson/offline-sync/internal/validation"
)

// SaveRecordRequest creates a record, or updates it when local_id names an existing one.
type SaveRecordRequest struct {
	LocalID string          `json:"local_id,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks if the save record request is valid.
func (r *SaveRecordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.LocalID, customValidation.UUID),
		validation.Field(&r.OwnerID, validation.Length(0, 255), customValidation.NoWhitespace),
		validation.Field(&r.Payload, validation.Required, customValidation.JSONObject),
	)
}

// ToSaveInput converts a validated request to the use case input.
func (r *SaveRecordRequest) ToSaveInput() domain.SaveInput {
	input := domain.SaveInput{
		OwnerID: r.OwnerID,
		Payload: r.Payload,
	}
	if r.LocalID != "" {
		input.LocalID = uuid.MustParse(r.LocalID)
	}
	return input
}
