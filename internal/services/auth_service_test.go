package services

import (
	"context"
	"testing"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

func newAuthFixture(t *testing.T) (*AuthService, *AgentService, *repositories.MemorySessionRepository) {
	t.Helper()
	agents := repositories.NewMemoryAgentRepository()
	sessions := repositories.NewMemorySessionRepository()
	auth := NewAuthService(agents, sessions, "test-secret", time.Hour)
	return auth, NewAgentService(agents, auth), sessions
}

// TestAuthService_LoginAndAuthenticate tests the token round trip
func TestAuthService_LoginAndAuthenticate(t *testing.T) {
	auth, agentSvc, _ := newAuthFixture(t)
	ctx := context.Background()
	agent, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "Field Agent", Email: "Agent@Example.com", Password: testPassword})
	require.NoError(t, err)

	// ACT
	resp, err := auth.Login(ctx, LoginRequest{Email: "agent@example.com", Password: testPassword, DeviceID: "tablet-1"})

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, agent.ID, resp.AgentID)
	assert.Equal(t, "tablet-1", resp.DeviceID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)

	claims, err := auth.Authenticate(ctx, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, claims.AgentID)
	assert.Equal(t, "tablet-1", claims.DeviceID)
}

// TestAuthService_LoginFailures tests every rejected login
func TestAuthService_LoginFailures(t *testing.T) {
	auth, agentSvc, _ := newAuthFixture(t)
	ctx := context.Background()
	agent, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: "a@example.com", Password: testPassword})
	require.NoError(t, err)
	_, err = agentSvc.Create(ctx, CreateAgentRequest{Name: "b", Email: "b@example.com", Password: testPassword})
	require.NoError(t, err)
	require.NoError(t, agentSvc.Deactivate(ctx, agent.ID))

	tests := []struct {
		name    string
		req     LoginRequest
		wantErr error
	}{
		{"missing device", LoginRequest{Email: "b@example.com", Password: testPassword}, ErrInvalidRequest},
		{"unknown email", LoginRequest{Email: "nobody@example.com", Password: testPassword, DeviceID: "d"}, ErrInvalidCredentials},
		{"wrong password", LoginRequest{Email: "b@example.com", Password: "wrong-password-here", DeviceID: "d"}, ErrInvalidCredentials},
		{"inactive agent", LoginRequest{Email: "a@example.com", Password: testPassword, DeviceID: "d"}, ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Login(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestAuthService_Logout tests that a closed session no longer authenticates
func TestAuthService_Logout(t *testing.T) {
	auth, agentSvc, _ := newAuthFixture(t)
	ctx := context.Background()
	_, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: "a@example.com", Password: testPassword})
	require.NoError(t, err)
	resp, err := auth.Login(ctx, LoginRequest{Email: "a@example.com", Password: testPassword, DeviceID: "d"})
	require.NoError(t, err)

	// ACT
	require.NoError(t, auth.Logout(ctx, resp.Token))

	// ASSERT
	_, err = auth.VerifyToken(resp.Token)
	assert.NoError(t, err, "the signature is still valid")
	_, err = auth.Authenticate(ctx, resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestAuthService_DeactivateClosesSessions tests that deactivation logs out every device
func TestAuthService_DeactivateClosesSessions(t *testing.T) {
	auth, agentSvc, sessions := newAuthFixture(t)
	ctx := context.Background()
	agent, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: "a@example.com", Password: testPassword})
	require.NoError(t, err)
	var tokens []string
	for _, device := range []string{"d1", "d2"} {
		resp, err := auth.Login(ctx, LoginRequest{Email: "a@example.com", Password: testPassword, DeviceID: device})
		require.NoError(t, err)
		tokens = append(tokens, resp.Token)
	}

	// ACT
	require.NoError(t, agentSvc.Deactivate(ctx, agent.ID))

	// ASSERT
	for _, token := range tokens {
		_, err := auth.Authenticate(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	open, err := sessions.ListByAgentID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// TestAuthService_VerifyToken tests tampered and foreign tokens
func TestAuthService_VerifyToken(t *testing.T) {
	auth, agentSvc, sessions := newAuthFixture(t)
	ctx := context.Background()
	_, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: "a@example.com", Password: testPassword})
	require.NoError(t, err)
	resp, err := auth.Login(ctx, LoginRequest{Email: "a@example.com", Password: testPassword, DeviceID: "d"})
	require.NoError(t, err)

	other := NewAuthService(repositories.NewMemoryAgentRepository(), sessions, "another-secret", time.Hour)

	_, err = other.VerifyToken(resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.VerifyToken(resp.Token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestAuthService_LoginUpgradesWeakHash tests that a cheap hash is replaced on login
func TestAuthService_LoginUpgradesWeakHash(t *testing.T) {
	agents := repositories.NewMemoryAgentRepository()
	auth := NewAuthService(agents, repositories.NewMemorySessionRepository(), "test-secret", time.Hour)
	ctx := context.Background()
	weak, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	agent := &models.Agent{Name: "legacy", Email: "legacy@example.com", PasswordHash: string(weak)}
	require.NoError(t, agents.Create(ctx, agent))

	// ACT
	_, err = auth.Login(ctx, LoginRequest{Email: "legacy@example.com", Password: testPassword, DeviceID: "D1"})

	// ASSERT
	require.NoError(t, err)
	stored, err := agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.False(t, utils.NeedsRehash(stored.PasswordHash))
	assert.True(t, utils.CheckPassword(stored.PasswordHash, testPassword))
}
