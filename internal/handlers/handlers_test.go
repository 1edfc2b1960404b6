package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	agents := repositories.NewMemoryAgentRepository()
	store := repositories.NewMemoryEntityStore()
	cursors := repositories.NewMemoryCursorRegistry()
	presence := repositories.NewMemoryPresenceRepository()
	clk := clock.NewMonotonic()

	auth := services.NewAuthService(agents, repositories.NewMemorySessionRepository(), "test-secret", time.Hour)
	h := NewHandler(
		auth,
		services.NewAgentService(agents, auth),
		services.NewReconciler(agents, store, cursors, repositories.NewMemoryWalkRepository(time.Minute), presence, clk, services.DefaultSyncOptions()),
		services.NewStatusService(agents, cursors, presence),
		services.NewContentService(store, clk),
	)
	srv := httptest.NewServer(h.Router(false))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

// do sends body as JSON and decodes the response into out when set.
func (s *testServer) do(method, path, token string, body, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// register creates an agent and logs it in on deviceID.
func (s *testServer) register(email, deviceID string) (*models.Agent, string) {
	s.t.Helper()
	var agent models.Agent
	status := s.do(http.MethodPost, "/api/agents", "", services.CreateAgentRequest{Name: "agent", Email: email, Password: testPassword}, &agent)
	require.Equal(s.t, http.StatusCreated, status)

	var login services.LoginResponse
	status = s.do(http.MethodPost, "/api/auth/login", "", services.LoginRequest{Email: email, Password: testPassword, DeviceID: deviceID}, &login)
	require.Equal(s.t, http.StatusOK, status)
	return &agent, login.Token
}

// TestHealth tests the liveness endpoint
func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")

	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestSync_RoundTrip tests a push on one device and a pull on another
func TestSync_RoundTrip(t *testing.T) {
	srv := newTestServer(t)
	agent, tokenD1 := srv.register("a@example.com", "D1")
	var loginD2 services.LoginResponse
	require.Equal(t, http.StatusOK, srv.do(http.MethodPost, "/api/auth/login", "", services.LoginRequest{Email: "a@example.com", Password: testPassword, DeviceID: "D2"}, &loginD2))
	recordID := uuid.New()

	// ACT
	var pushed models.SyncResponse
	status := srv.do(http.MethodPost, "/api/sync", tokenD1, models.SyncRequest{
		AgentID:  agent.ID,
		DeviceID: "D1",
		PushedOwnedRecords: []*models.OwnedRecord{{
			SyncMeta: models.SyncMeta{ID: recordID, UpdatedAt: time.Now()},
			Title:    "inspection",
		}},
	}, &pushed)

	// ASSERT
	require.Equal(t, http.StatusOK, status)
	assert.True(t, pushed.Success)
	assert.Empty(t, pushed.UpdatedOwnedRecords)
	assert.Greater(t, pushed.CurrentVersion, int64(0))

	var pulled models.SyncResponse
	status = srv.do(http.MethodPost, "/api/sync", loginD2.Token, models.SyncRequest{AgentID: agent.ID, DeviceID: "D2"}, &pulled)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pulled.UpdatedOwnedRecords, 1)
	assert.Equal(t, "inspection", pulled.UpdatedOwnedRecords[0].Title)

	var syncStatus services.SyncStatus
	status = srv.do(http.MethodGet, "/api/sync/agents/"+agent.ID.String()+"/status", tokenD1, nil, &syncStatus)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, syncStatus.Devices, 2)
}

// TestSync_Errors tests the status codes of failed sync requests
func TestSync_Errors(t *testing.T) {
	srv := newTestServer(t)
	agent, token := srv.register("a@example.com", "D1")
	other, _ := srv.register("b@example.com", "D9")

	tests := []struct {
		name       string
		token      string
		body       any
		wantStatus int
	}{
		{"no token", "", models.SyncRequest{AgentID: agent.ID, DeviceID: "D1"}, http.StatusUnauthorized},
		{"bad token", "garbage", models.SyncRequest{AgentID: agent.ID, DeviceID: "D1"}, http.StatusUnauthorized},
		{"other agent", token, models.SyncRequest{AgentID: other.ID, DeviceID: "D1"}, http.StatusForbidden},
		{"other device", token, models.SyncRequest{AgentID: agent.ID, DeviceID: "D2"}, http.StatusForbidden},
		{"malformed body", token, "not an object", http.StatusBadRequest},
		{"walk not found", token, models.SyncRequest{AgentID: agent.ID, DeviceID: "D1", PageNumber: 3}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp map[string]any
			status := srv.do(http.MethodPost, "/api/sync", tt.token, tt.body, &resp)
			assert.Equal(t, tt.wantStatus, status)
		})
	}

	var failed models.SyncResponse
	status := srv.do(http.MethodPost, "/api/sync", token, models.SyncRequest{AgentID: agent.ID, DeviceID: "D1", PageNumber: 2}, &failed)
	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.Message)
}

// TestAgents tests the agent administration routes
func TestAgents(t *testing.T) {
	srv := newTestServer(t)
	agent, token := srv.register("a@example.com", "D1")
	other, _ := srv.register("b@example.com", "D1")

	status := srv.do(http.MethodPost, "/api/agents", "", services.CreateAgentRequest{Name: "dup", Email: "a@example.com", Password: testPassword}, nil)
	assert.Equal(t, http.StatusConflict, status)

	var got models.Agent
	status = srv.do(http.MethodGet, "/api/agents/"+agent.ID.String(), token, nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a@example.com", got.Email)

	status = srv.do(http.MethodGet, "/api/agents/not-a-uuid", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status = srv.do(http.MethodGet, "/api/agents/"+uuid.NewString(), token, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var updated models.Agent
	status = srv.do(http.MethodPut, "/api/agents/"+agent.ID.String(), token, services.UpdateAgentRequest{Name: "renamed"}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "renamed", updated.Name)

	status = srv.do(http.MethodDelete, "/api/agents/"+other.ID.String(), token, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var listed []models.Agent
	status = srv.do(http.MethodGet, "/api/agents", token, nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, listed, 2)

	// Deactivating closes the caller's own sessions
	status = srv.do(http.MethodDelete, "/api/agents/"+agent.ID.String(), token, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status = srv.do(http.MethodGet, "/api/agents", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// TestContent tests catalog publishing and global entities over HTTP
func TestContent(t *testing.T) {
	srv := newTestServer(t)
	agent, token := srv.register("a@example.com", "D1")

	var item models.CatalogItem
	status := srv.do(http.MethodPost, "/api/catalog", token, services.PublishCatalogRequest{Title: "bulletin"}, &item)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, uuid.Nil, item.ID)

	status = srv.do(http.MethodPost, "/api/catalog", token, services.PublishCatalogRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = srv.do(http.MethodGet, "/api/global/units/distance", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	var global models.GlobalEntity
	status = srv.do(http.MethodPut, "/api/global/units/distance", token, services.PutGlobalRequest{Value: "km"}, &global)
	require.Equal(t, http.StatusOK, status)
	status = srv.do(http.MethodGet, "/api/global/units/distance", token, nil, &global)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "km", global.Value)

	var pulled models.SyncResponse
	status = srv.do(http.MethodPost, "/api/sync", token, models.SyncRequest{AgentID: agent.ID, DeviceID: "D1"}, &pulled)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, pulled.UpdatedCatalogItems, 1)
	assert.Len(t, pulled.UpdatedGlobalData, 1)

	var attachments []models.Attachment
	status = srv.do(http.MethodGet, "/api/agents/"+agent.ID.String()+"/attachments", token, nil, &attachments)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, attachments)
}

// TestLogout tests that a logged out token is refused
func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	_, token := srv.register("a@example.com", "D1")

	status := srv.do(http.MethodPost, "/api/auth/logout", token, nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = srv.do(http.MethodGet, "/api/agents", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = srv.do(http.MethodPost, "/api/auth/login", "", services.LoginRequest{Email: "a@example.com", Password: "wrong-password-x", DeviceID: "D1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
