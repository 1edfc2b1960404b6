// Package client is the device side of the sync protocol: a local replica
// of the agent's data and the driver that reconciles it with the server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

var ErrNotFound = errors.New("entity not found in replica")

// ReplicaStore is the device's local copy of replicated entities plus its
// sync watermark.
type ReplicaStore interface {
	// SelectChangedSince returns entities of kind with a version above
	// version, ordered by version.
	SelectChangedSince(ctx context.Context, kind models.EntityKind, version int64) ([]models.Syncable, error)
	// Upsert stores entity, replacing any copy with the same kind and id.
	Upsert(ctx context.Context, entity models.Syncable) error
	Get(ctx context.Context, kind models.EntityKind, id uuid.UUID) (models.Syncable, error)
	// List returns every entity of kind, tombstones included when asked.
	List(ctx context.Context, kind models.EntityKind, withDeleted bool) ([]models.Syncable, error)
	// LastVersion returns 0 before the first completed round.
	LastVersion(ctx context.Context, agentID uuid.UUID, deviceID string) (int64, error)
	SetLastVersion(ctx context.Context, agentID uuid.UUID, deviceID string, version int64) error
	Close() error
}

// cloneEntity copies an entity through its JSON form, which is also the form
// the replica persists.
func cloneEntity(e models.Syncable) (models.Syncable, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return decodeEntity(e.Kind(), data)
}

func decodeEntity(kind models.EntityKind, data []byte) (models.Syncable, error) {
	e, err := models.NewEntity(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}
	return e, nil
}

func byVersion(a, b models.Syncable) int {
	if a.Meta().Version != b.Meta().Version {
		if a.Meta().Version < b.Meta().Version {
			return -1
		}
		return 1
	}
	return slices.Compare(a.Meta().ID[:], b.Meta().ID[:])
}

type replicaCursorKey struct {
	agentID  uuid.UUID
	deviceID string
}

// MemoryStore is a ReplicaStore that lives only as long as the process.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[models.EntityKind]map[uuid.UUID]models.Syncable
	versions map[replicaCursorKey]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[models.EntityKind]map[uuid.UUID]models.Syncable),
		versions: make(map[replicaCursorKey]int64),
	}
}

func (s *MemoryStore) SelectChangedSince(_ context.Context, kind models.EntityKind, version int64) ([]models.Syncable, error) {
	return s.collect(kind, func(e models.Syncable) bool { return e.Meta().Version > version })
}

func (s *MemoryStore) Upsert(_ context.Context, entity models.Syncable) error {
	c, err := cloneEntity(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := entity.Kind()
	if s.entities[kind] == nil {
		s.entities[kind] = make(map[uuid.UUID]models.Syncable)
	}
	s.entities[kind][c.Meta().ID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind models.EntityKind, id uuid.UUID) (models.Syncable, error) {
	s.mu.RLock()
	e, ok := s.entities[kind][id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntity(e)
}

func (s *MemoryStore) List(_ context.Context, kind models.EntityKind, withDeleted bool) ([]models.Syncable, error) {
	return s.collect(kind, func(e models.Syncable) bool { return withDeleted || !e.Meta().IsDeleted })
}

func (s *MemoryStore) collect(kind models.EntityKind, keep func(models.Syncable) bool) ([]models.Syncable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Syncable
	for _, e := range s.entities[kind] {
		if !keep(e) {
			continue
		}
		c, err := cloneEntity(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	slices.SortFunc(out, byVersion)
	return out, nil
}

func (s *MemoryStore) LastVersion(_ context.Context, agentID uuid.UUID, deviceID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[replicaCursorKey{agentID, deviceID}], nil
}

func (s *MemoryStore) SetLastVersion(_ context.Context, agentID uuid.UUID, deviceID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[replicaCursorKey{agentID, deviceID}] = version
	return nil
}

func (s *MemoryStore) Close() error { return nil }
