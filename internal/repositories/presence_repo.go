package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	// A device counts as offline once it has not synced for this long.
	presenceTTL = 90 * time.Second
)

type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

// SetPresence records the device as seen now. Every sync round calls it, so
// a device that syncs on the client's auto-sync interval stays online.
func (r *RedisPresenceRepository) SetPresence(ctx context.Context, presence *models.Presence) error {
	presence.LastSeen = time.Now().UTC()

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	key := presenceKey(presence.AgentID, presence.DeviceID)
	if err := r.client.Set(ctx, key, data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(agentID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		p := offlinePresence(agentID, deviceID)
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

func (r *RedisPresenceRepository) DeletePresence(ctx context.Context, agentID uuid.UUID, deviceID string) error {
	if err := r.client.Del(ctx, presenceKey(agentID, deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

// GetBulkPresence reads every device of an agent in one MGET.
func (r *RedisPresenceRepository) GetBulkPresence(ctx context.Context, agentID uuid.UUID, deviceIDs []string) (map[string]models.Presence, error) {
	presenceMap := make(map[string]models.Presence, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return presenceMap, nil
	}

	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = presenceKey(agentID, id)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	for i, result := range results {
		deviceID := deviceIDs[i]
		presenceMap[deviceID] = offlinePresence(agentID, deviceID)

		data, ok := result.(string)
		if !ok {
			continue
		}
		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			continue
		}
		presenceMap[deviceID] = presence
	}
	return presenceMap, nil
}

func offlinePresence(agentID uuid.UUID, deviceID string) models.Presence {
	return models.Presence{
		AgentID:  agentID,
		DeviceID: deviceID,
		Status:   string(models.StatusOffline),
	}
}

func presenceKey(agentID uuid.UUID, deviceID string) string {
	return presenceKeyPrefix + agentID.String() + ":" + deviceID
}
