package remote

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// pushItem is one element of the push request body.
type pushItem struct {
	LocalID string          `json:"local_id"`
	Action  string          `json:"action"`
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

// pushResult is one element of the push response body.
type pushResult struct {
	LocalID       string          `json:"local_id"`
	Status        string          `json:"status"`
	RemoteID      string          `json:"remote_id,omitempty"`
	Version       int64           `json:"version,omitempty"`
	ServerPayload json.RawMessage `json:"server_payload,omitempty"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
	Deleted       bool            `json:"deleted,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// pullRecord is one element of the pull response body.
type pullRecord struct {
	RemoteID  string          `json:"remote_id"`
	LocalID   *uuid.UUID      `json:"local_id,omitempty"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	Deleted   bool            `json:"deleted"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
