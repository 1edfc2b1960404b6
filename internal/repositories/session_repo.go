package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:"
const agentSessionsPrefix = "agent:%s:sessions"

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

// Create stores the session under session:{id} until it expires and indexes
// it in the agent's session set.
func (r *RedisSessionRepository) Create(ctx context.Context, session *models.Session) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	key := sessionPrefix + session.ID
	if err := r.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}

	agentKey := fmt.Sprintf(agentSessionsPrefix, session.AgentID)
	if err := r.client.SAdd(ctx, agentKey, session.ID).Err(); err != nil {
		return fmt.Errorf("failed to add session to agent sessions: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	jsonData, err := r.client.Get(ctx, sessionPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(jsonData), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// ListByAgentID returns the live sessions of an agent and drops expired ids
// from the index as it goes.
func (r *RedisSessionRepository) ListByAgentID(ctx context.Context, agentID uuid.UUID) ([]*models.Session, error) {
	agentKey := fmt.Sprintf(agentSessionsPrefix, agentID)
	sessionIDs, err := r.client.SMembers(ctx, agentKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get agent sessions: %w", err)
	}

	var sessions []*models.Session
	var expiredIDs []any

	for _, id := range sessionIDs {
		session, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			expiredIDs = append(expiredIDs, id)
			continue
		}
		if err != nil {
			log.Warn("skipping unreadable session", "sessionId", id, "err", err)
			continue
		}
		sessions = append(sessions, session)
	}

	if len(expiredIDs) > 0 {
		if err := r.client.SRem(ctx, agentKey, expiredIDs...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove expired sessions: %w", err)
		}
	}
	return sessions, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	agentKey := fmt.Sprintf(agentSessionsPrefix, session.AgentID)
	if err := r.client.SRem(ctx, agentKey, id).Err(); err != nil {
		return fmt.Errorf("failed to remove session from agent sessions: %w", err)
	}

	if err := r.client.Del(ctx, sessionPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteAllForAgent(ctx context.Context, agentID uuid.UUID) error {
	agentKey := fmt.Sprintf(agentSessionsPrefix, agentID)
	sessionIDs, err := r.client.SMembers(ctx, agentKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get agent sessions: %w", err)
	}
	for _, id := range sessionIDs {
		if err := r.Delete(ctx, id); err != nil {
			log.Warn("failed to delete session", "sessionId", id, "err", err)
			continue
		}
	}
	return r.client.Del(ctx, agentKey).Err()
}
