package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionRepos(t *testing.T) map[string]SessionRepository {
	repos := map[string]SessionRepository{"memory": NewMemorySessionRepository()}
	if os.Getenv("TEST_REDIS_URL") != "" {
		client := getTestRedisClient(t)
		t.Cleanup(func() { cleanupTestKeys(t, client, "session:*", "agent:*:sessions") })
		repos["redis"] = NewRedisSessionRepository(client)
	}
	return repos
}

// TestSessionRepository_Create tests creating a session with TTL
func TestSessionRepository_Create(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agentID := uuid.New()
			sessionID := uuid.NewString()

			// ACT: Create a session
			session := &models.Session{
				ID:        sessionID,
				AgentID:   agentID,
				DeviceID:  "tablet-1",
				ExpiresAt: time.Now().Add(24 * time.Hour),
				CreatedAt: time.Now(),
			}
			err := repo.Create(ctx, session)

			// ASSERT
			require.NoError(t, err)
			retrieved, err := repo.GetByID(ctx, sessionID)
			require.NoError(t, err)
			assert.Equal(t, agentID, retrieved.AgentID)
			assert.Equal(t, "tablet-1", retrieved.DeviceID)

			sessions, err := repo.ListByAgentID(ctx, agentID)
			require.NoError(t, err)
			require.Len(t, sessions, 1, "Agent should have 1 session")
			assert.Equal(t, sessionID, sessions[0].ID)
		})
	}
}

// TestSessionRepository_Expiration tests that expired sessions are cleaned up lazily
func TestSessionRepository_Expiration(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agentID := uuid.New()
			expiredID, validID := uuid.NewString(), uuid.NewString()

			require.NoError(t, repo.Create(ctx, &models.Session{
				ID: expiredID, AgentID: agentID, DeviceID: "d1",
				ExpiresAt: time.Now().Add(1 * time.Second), CreatedAt: time.Now(),
			}))
			require.NoError(t, repo.Create(ctx, &models.Session{
				ID: validID, AgentID: agentID, DeviceID: "d1",
				ExpiresAt: time.Now().Add(24 * time.Hour), CreatedAt: time.Now(),
			}))

			time.Sleep(2 * time.Second)

			// ACT
			sessions, err := repo.ListByAgentID(ctx, agentID)

			// ASSERT
			require.NoError(t, err)
			require.Len(t, sessions, 1, "Should only have 1 valid session")
			assert.Equal(t, validID, sessions[0].ID)
			_, err = repo.GetByID(ctx, expiredID)
			assert.ErrorIs(t, err, ErrNotFound, "Expired session should not exist")
		})
	}
}

// TestSessionRepository_Delete tests removing a session and its index entry
func TestSessionRepository_Delete(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agentID := uuid.New()
			sessionID := uuid.NewString()
			require.NoError(t, repo.Create(ctx, &models.Session{
				ID: sessionID, AgentID: agentID, DeviceID: "d1",
				ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
			}))

			// ACT
			err := repo.Delete(ctx, sessionID)

			// ASSERT
			require.NoError(t, err)
			_, err = repo.GetByID(ctx, sessionID)
			assert.ErrorIs(t, err, ErrNotFound)
			sessions, err := repo.ListByAgentID(ctx, agentID)
			require.NoError(t, err)
			assert.Empty(t, sessions)
		})
	}
}

// TestSessionRepository_DeleteAllForAgent tests logging an agent out everywhere
func TestSessionRepository_DeleteAllForAgent(t *testing.T) {
	for name, repo := range sessionRepos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agentID := uuid.New()
			for i := 0; i < 3; i++ {
				require.NoError(t, repo.Create(ctx, &models.Session{
					ID: uuid.NewString(), AgentID: agentID, DeviceID: "d1",
					ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
				}))
			}
			sessions, err := repo.ListByAgentID(ctx, agentID)
			require.NoError(t, err)
			require.Len(t, sessions, 3)

			// ACT
			err = repo.DeleteAllForAgent(ctx, agentID)

			// ASSERT
			require.NoError(t, err)
			sessions, err = repo.ListByAgentID(ctx, agentID)
			require.NoError(t, err)
			assert.Empty(t, sessions)
		})
	}
}

// getTestRedisClient connects to TEST_REDIS_URL or skips the test.
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err(), "Failed to connect to test Redis")
	t.Cleanup(func() { client.Close() })
	return client
}

// cleanupTestKeys removes every key matching the patterns.
func cleanupTestKeys(t *testing.T, client *redis.Client, patterns ...string) {
	ctx := context.Background()
	for _, pattern := range patterns {
		keys, err := client.Keys(ctx, pattern).Result()
		if err != nil {
			t.Logf("Warning: failed to get keys: %v", err)
			continue
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				t.Logf("Warning: failed to cleanup %s: %v", pattern, err)
			}
		}
	}
}
