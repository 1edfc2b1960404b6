package models

import (
	"time"

	"github.com/google/uuid"
)

type Presence struct {
	AgentID  uuid.UUID `json:"agentId"`
	DeviceID string    `json:"deviceId"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusSyncing PresenceStatus = "syncing"
)
