package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

// DeviceStatus is the sync state of one device of an agent.
type DeviceStatus struct {
	Cursor   *models.SyncCursor `json:"cursor"`
	Presence models.Presence    `json:"presence"`
}

type SyncStatus struct {
	AgentID uuid.UUID      `json:"agentId"`
	Devices []DeviceStatus `json:"devices"`
}

type StatusService struct {
	agents   repositories.AgentRepository
	cursors  repositories.CursorRegistry
	presence repositories.PresenceRepository
}

func NewStatusService(agents repositories.AgentRepository, cursors repositories.CursorRegistry, presence repositories.PresenceRepository) *StatusService {
	return &StatusService{agents: agents, cursors: cursors, presence: presence}
}

// AgentStatus lists every device that completed a round for the agent with
// its committed cursor and current presence.
func (s *StatusService) AgentStatus(ctx context.Context, agentID uuid.UUID) (*SyncStatus, error) {
	_, err := s.agents.GetByID(ctx, agentID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	cursors, err := s.cursors.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync cursors: %w", err)
	}

	deviceIDs := make([]string, len(cursors))
	for i, c := range cursors {
		deviceIDs[i] = c.DeviceID
	}
	presence, err := s.presence.GetBulkPresence(ctx, agentID, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	status := &SyncStatus{AgentID: agentID, Devices: make([]DeviceStatus, 0, len(cursors))}
	for _, c := range cursors {
		status.Devices = append(status.Devices, DeviceStatus{Cursor: c, Presence: presence[c.DeviceID]})
	}
	return status, nil
}
