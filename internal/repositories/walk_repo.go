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

const walkKeyPrefix = "walk:"

// RedisWalkRepository keeps catalog walk snapshots with a TTL so an
// abandoned walk disappears on its own.
type RedisWalkRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisWalkRepository(client *redis.Client, ttl time.Duration) *RedisWalkRepository {
	return &RedisWalkRepository{client: client, ttl: ttl}
}

func (r *RedisWalkRepository) Save(ctx context.Context, walk *models.CatalogWalk) error {
	data, err := json.Marshal(walk)
	if err != nil {
		return fmt.Errorf("failed to marshal walk: %w", err)
	}
	if err := r.client.Set(ctx, walkKey(walk.AgentID, walk.DeviceID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save walk: %w", err)
	}
	return nil
}

func (r *RedisWalkRepository) Get(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.CatalogWalk, error) {
	data, err := r.client.Get(ctx, walkKey(agentID, deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get walk: %w", err)
	}

	var walk models.CatalogWalk
	if err := json.Unmarshal(data, &walk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal walk: %w", err)
	}
	return &walk, nil
}

func (r *RedisWalkRepository) Delete(ctx context.Context, agentID uuid.UUID, deviceID string) error {
	if err := r.client.Del(ctx, walkKey(agentID, deviceID)).Err(); err != nil {
		return fmt.Errorf("failed to delete walk: %w", err)
	}
	return nil
}

func walkKey(agentID uuid.UUID, deviceID string) string {
	return walkKeyPrefix + agentID.String() + ":" + deviceID
}
