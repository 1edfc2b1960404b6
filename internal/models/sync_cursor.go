package models

import (
	"time"

	"github.com/google/uuid"
)

const SyncStatusCompleted = "Completed"

// SyncCursor records the last version a device fully received. It is keyed
// by (AgentID, DeviceID) and is never replicated to clients.
type SyncCursor struct {
	ID              uuid.UUID `json:"id"`
	AgentID         uuid.UUID `json:"agentId"`
	DeviceID        string    `json:"deviceId"`
	LastSyncVersion int64     `json:"lastSyncVersion"`
	LastSyncAt      time.Time `json:"lastSyncAt"`
	SyncStatus      string    `json:"syncStatus"`
}
