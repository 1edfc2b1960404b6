package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replicaStores(t *testing.T) map[string]ReplicaStore {
	t.Helper()
	sqlite, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "replica", "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]ReplicaStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

// TestReplicaStore_UpsertAndSelect tests upserts and version-ordered change selection
func TestReplicaStore_UpsertAndSelect(t *testing.T) {
	for name, store := range replicaStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recordID := uuid.New()
			at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

			for i, version := range []int64{30, 10, 20} {
				require.NoError(t, store.Upsert(ctx, &models.OwnedRecord{
					SyncMeta: models.SyncMeta{ID: uuid.New(), Version: version, UpdatedAt: at},
					Title:    string(rune('a' + i)),
				}))
			}
			require.NoError(t, store.Upsert(ctx, &models.Attachment{
				SyncMeta: models.SyncMeta{ID: uuid.New(), Version: 40, UpdatedAt: at},
				RecordID: &recordID,
				FileName: "photo.jpg",
			}))

			// ACT
			changed, err := store.SelectChangedSince(ctx, models.KindOwnedRecord, 10)

			// ASSERT
			require.NoError(t, err)
			require.Len(t, changed, 2)
			assert.Equal(t, int64(20), changed[0].Meta().Version)
			assert.Equal(t, int64(30), changed[1].Meta().Version)
			assert.Equal(t, "c", changed[0].(*models.OwnedRecord).Title)

			attachments, err := store.SelectChangedSince(ctx, models.KindAttachment, 0)
			require.NoError(t, err)
			require.Len(t, attachments, 1)
			att := attachments[0].(*models.Attachment)
			require.NotNil(t, att.RecordID)
			assert.Equal(t, recordID, *att.RecordID)
			assert.True(t, at.Equal(att.UpdatedAt))
		})
	}
}

// TestReplicaStore_UpsertReplaces tests that an id is stored once per kind
func TestReplicaStore_UpsertReplaces(t *testing.T) {
	for name, store := range replicaStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uuid.New()
			rec := &models.OwnedRecord{SyncMeta: models.SyncMeta{ID: id, Version: 1, UpdatedAt: time.Now()}, Title: "v1"}
			require.NoError(t, store.Upsert(ctx, rec))

			rec.Title = "v2"
			rec.Version = 2
			rec.IsDeleted = true
			require.NoError(t, store.Upsert(ctx, rec))

			got, err := store.Get(ctx, models.KindOwnedRecord, id)
			require.NoError(t, err)
			assert.Equal(t, "v2", got.(*models.OwnedRecord).Title)

			live, err := store.List(ctx, models.KindOwnedRecord, false)
			require.NoError(t, err)
			assert.Empty(t, live)
			all, err := store.List(ctx, models.KindOwnedRecord, true)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			_, err = store.Get(ctx, models.KindOwnedRecord, uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// TestReplicaStore_LastVersion tests the per-device watermark
func TestReplicaStore_LastVersion(t *testing.T) {
	for name, store := range replicaStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			agentID := uuid.New()

			v, err := store.LastVersion(ctx, agentID, "d1")
			require.NoError(t, err)
			assert.Zero(t, v)

			require.NoError(t, store.SetLastVersion(ctx, agentID, "d1", 42))
			require.NoError(t, store.SetLastVersion(ctx, agentID, "d2", 7))

			v, err = store.LastVersion(ctx, agentID, "d1")
			require.NoError(t, err)
			assert.Equal(t, int64(42), v)
		})
	}
}

// TestMemoryStore_ReturnsCopies tests that callers cannot mutate stored entities
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &models.OwnedRecord{SyncMeta: models.SyncMeta{ID: uuid.New(), Version: 1}, Title: "original"}
	require.NoError(t, store.Upsert(ctx, rec))

	rec.Title = "changed after upsert"
	got, err := store.Get(ctx, models.KindOwnedRecord, rec.ID)
	require.NoError(t, err)
	got.(*models.OwnedRecord).Title = "changed after get"

	again, err := store.Get(ctx, models.KindOwnedRecord, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.(*models.OwnedRecord).Title)
}
