package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestContentService_PublishCatalog tests creating and replacing catalog items
func TestContentService_PublishCatalog(t *testing.T) {
	f := newFixture(t, DefaultSyncOptions())
	ctx := context.Background()

	_, err := f.content.PublishCatalog(ctx, PublishCatalogRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// ACT
	item, err := f.content.PublishCatalog(ctx, PublishCatalogRequest{Title: "Safety bulletin", Author: "ops"})
	require.NoError(t, err)

	// ASSERT
	assert.NotEqual(t, uuid.Nil, item.ID)
	assert.False(t, item.PublishedAt.IsZero(), "publishedAt defaults to now")
	assert.Greater(t, item.Version, int64(0))

	f.content.now = func() time.Time { return time.Now().Add(time.Second) }
	edited, err := f.content.PublishCatalog(ctx, PublishCatalogRequest{ID: item.ID, Title: "Safety bulletin v2", PublishedAt: item.PublishedAt})
	require.NoError(t, err)
	assert.Equal(t, item.ID, edited.ID)
	assert.Equal(t, "Safety bulletin v2", edited.Title)
	assert.Greater(t, edited.Version, item.Version)
	assert.Equal(t, item.PublishedAt, edited.PublishedAt)
}

// TestContentService_Globals tests that (category, key) keeps one identity
func TestContentService_Globals(t *testing.T) {
	f := newFixture(t, DefaultSyncOptions())
	ctx := context.Background()
	tick := time.Now()
	f.content.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	_, err := f.content.GetGlobal(ctx, "units", "distance")
	assert.ErrorIs(t, err, ErrGlobalNotFound)

	// ACT
	first, err := f.content.PutGlobal(ctx, "units", "distance", PutGlobalRequest{Value: "km"})
	require.NoError(t, err)
	second, err := f.content.PutGlobal(ctx, "units", "distance", PutGlobalRequest{Value: "mi"})
	require.NoError(t, err)

	// ASSERT
	assert.Equal(t, first.ID, second.ID)
	assert.Greater(t, second.Version, first.Version)
	got, err := f.content.GetGlobal(ctx, "units", "distance")
	require.NoError(t, err)
	assert.Equal(t, "mi", got.Value)

	// Devices receive the change as a global pull
	res := f.syncRound(t, "D1", 0, 0, nil)
	require.Contains(t, res.globals, first.ID)
	assert.Equal(t, "mi", res.globals[first.ID].Value)

	// A delete is a tombstone; the pair is free again afterwards
	_, err = f.content.PutGlobal(ctx, "units", "distance", PutGlobalRequest{IsDeleted: true})
	require.NoError(t, err)
	_, err = f.content.GetGlobal(ctx, "units", "distance")
	assert.ErrorIs(t, err, ErrGlobalNotFound)

	_, err = f.content.PutGlobal(ctx, "", "distance", PutGlobalRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

// TestContentService_ListAttachments tests the per-agent attachment listing
func TestContentService_ListAttachments(t *testing.T) {
	f := newFixture(t, DefaultSyncOptions())
	ctx := context.Background()

	empty, err := f.content.ListAttachments(ctx, f.agent.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	f.syncRound(t, "D1", 0, 0, func(req *models.SyncRequest) {
		req.PushedAttachments = []*models.Attachment{
			{SyncMeta: models.SyncMeta{ID: uuid.New(), UpdatedAt: t0}, FileName: "a.jpg"},
			{SyncMeta: models.SyncMeta{ID: uuid.New(), UpdatedAt: t0, IsDeleted: true}, FileName: "gone.jpg"},
		}
	})

	attachments, err := f.content.ListAttachments(ctx, f.agent.ID)
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, "a.jpg", attachments[0].FileName)
}

// TestAgentService_CRUD tests the agent lifecycle
func TestAgentService_CRUD(t *testing.T) {
	_, agentSvc, _ := newAuthFixture(t)
	ctx := context.Background()

	_, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: "a@example.com", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	agent, err := agentSvc.Create(ctx, CreateAgentRequest{Name: "a", Email: " A@Example.com ", Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", agent.Email)
	assert.True(t, agent.IsActive)

	_, err = agentSvc.Create(ctx, CreateAgentRequest{Name: "dup", Email: "a@example.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrEmailExists)

	updated, err := agentSvc.Update(ctx, agent.ID, UpdateAgentRequest{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, agent.PasswordHash, updated.PasswordHash)

	active, err := agentSvc.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, agentSvc.Deactivate(ctx, agent.ID))
	active, err = agentSvc.ListActive(ctx)
	require.NoError(t, err)
	assert.NotNil(t, active)
	assert.Empty(t, active)

	assert.ErrorIs(t, agentSvc.Deactivate(ctx, uuid.New()), ErrAgentNotFound)
	_, err = agentSvc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

// TestStatusService_AgentStatus tests the per-device status view
func TestStatusService_AgentStatus(t *testing.T) {
	f := newFixture(t, DefaultSyncOptions())
	ctx := context.Background()
	status := NewStatusService(f.agents, f.cursors, f.presence)

	_, err := status.AgentStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAgentNotFound)

	res1 := f.syncRound(t, "D1", 0, 0, nil)
	f.syncRound(t, "D2", 0, 0, nil)

	// ACT
	got, err := status.AgentStatus(ctx, f.agent.ID)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, f.agent.ID, got.AgentID)
	require.Len(t, got.Devices, 2)
	byDevice := map[string]DeviceStatus{}
	for _, d := range got.Devices {
		byDevice[d.Cursor.DeviceID] = d
	}
	assert.Equal(t, res1.version, byDevice["D1"].Cursor.LastSyncVersion)
	assert.Equal(t, string(models.StatusOnline), byDevice["D2"].Presence.Status)
}
