package repositories

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

// The in-memory repositories back the memory store backend and the unit
// tests. They follow the same contracts as their Postgres and Redis
// counterparts.

type MemoryAgentRepository struct {
	mu     sync.RWMutex
	agents map[uuid.UUID]*models.Agent
}

func NewMemoryAgentRepository() *MemoryAgentRepository {
	return &MemoryAgentRepository{agents: make(map[uuid.UUID]*models.Agent)}
}

func (r *MemoryAgentRepository) Create(_ context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.agents {
		if strings.EqualFold(a.Email, agent.Email) {
			return ErrEmailExists
		}
	}
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	agent.IsActive = true
	agent.CreatedAt = now
	agent.UpdatedAt = now

	c := *agent
	r.agents[agent.ID] = &c
	return nil
}

func (r *MemoryAgentRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *MemoryAgentRepository) GetByEmail(_ context.Context, email string) (*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.agents {
		if strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryAgentRepository) ListActive(_ context.Context) ([]*models.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Agent
	for _, a := range r.agents {
		if a.IsActive {
			c := *a
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *models.Agent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (r *MemoryAgentRepository) Update(_ context.Context, agent *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agent.ID]
	if !ok {
		return ErrNotFound
	}
	a.Name = agent.Name
	a.PasswordHash = agent.PasswordHash
	a.UpdatedAt = time.Now().UTC()
	agent.UpdatedAt = a.UpdatedAt
	return nil
}

func (r *MemoryAgentRepository) Deactivate(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.IsActive = false
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type cursorKey struct {
	agentID  uuid.UUID
	deviceID string
}

type MemoryCursorRegistry struct {
	mu      sync.RWMutex
	cursors map[cursorKey]*models.SyncCursor
}

func NewMemoryCursorRegistry() *MemoryCursorRegistry {
	return &MemoryCursorRegistry{cursors: make(map[cursorKey]*models.SyncCursor)}
}

func (r *MemoryCursorRegistry) Get(_ context.Context, agentID uuid.UUID, deviceID string) (*models.SyncCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.cursors[cursorKey{agentID, deviceID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCursorRegistry) Commit(_ context.Context, agentID uuid.UUID, deviceID string, version int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cursorKey{agentID, deviceID}
	c, ok := r.cursors[key]
	if !ok {
		c = &models.SyncCursor{ID: uuid.New(), AgentID: agentID, DeviceID: deviceID}
		r.cursors[key] = c
	}
	c.LastSyncVersion = max(c.LastSyncVersion, version)
	c.LastSyncAt = time.Now().UTC()
	c.SyncStatus = status
	return nil
}

func (r *MemoryCursorRegistry) ListByAgent(_ context.Context, agentID uuid.UUID) ([]*models.SyncCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.SyncCursor
	for key, c := range r.cursors {
		if key.agentID == agentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.SyncCursor) int { return b.LastSyncAt.Compare(a.LastSyncAt) })
	return out, nil
}

type storedWalk struct {
	walk      models.CatalogWalk
	expiresAt time.Time
}

type MemoryWalkRepository struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	walks map[cursorKey]storedWalk
}

func NewMemoryWalkRepository(ttl time.Duration) *MemoryWalkRepository {
	return &MemoryWalkRepository{ttl: ttl, now: time.Now, walks: make(map[cursorKey]storedWalk)}
}

func (r *MemoryWalkRepository) Save(_ context.Context, walk *models.CatalogWalk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *walk
	c.Cursors = make(map[string]models.CatalogKey, len(walk.Cursors))
	for k, v := range walk.Cursors {
		c.Cursors[k] = v
	}
	r.walks[cursorKey{walk.AgentID, walk.DeviceID}] = storedWalk{walk: c, expiresAt: r.now().Add(r.ttl)}
	return nil
}

func (r *MemoryWalkRepository) Get(_ context.Context, agentID uuid.UUID, deviceID string) (*models.CatalogWalk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cursorKey{agentID, deviceID}
	s, ok := r.walks[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !r.now().Before(s.expiresAt) {
		delete(r.walks, key)
		return nil, ErrNotFound
	}
	c := s.walk
	c.Cursors = make(map[string]models.CatalogKey, len(s.walk.Cursors))
	for k, v := range s.walk.Cursors {
		c.Cursors[k] = v
	}
	return &c, nil
}

func (r *MemoryWalkRepository) Delete(_ context.Context, agentID uuid.UUID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.walks, cursorKey{agentID, deviceID})
	return nil
}

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *session
	r.sessions[session.ID] = &c
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(s.ExpiresAt) {
		delete(r.sessions, id)
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *MemorySessionRepository) ListByAgentID(_ context.Context, agentID uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []*models.Session
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, id)
			continue
		}
		if s.AgentID == agentID {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) DeleteAllForAgent(_ context.Context, agentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.AgentID == agentID {
			delete(r.sessions, id)
		}
	}
	return nil
}

type MemoryPresenceRepository struct {
	mu       sync.Mutex
	presence map[cursorKey]models.Presence
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{presence: make(map[cursorKey]models.Presence)}
}

func (r *MemoryPresenceRepository) SetPresence(_ context.Context, presence *models.Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	presence.LastSeen = time.Now().UTC()
	r.presence[cursorKey{presence.AgentID, presence.DeviceID}] = *presence
	return nil
}

func (r *MemoryPresenceRepository) GetPresence(_ context.Context, agentID uuid.UUID, deviceID string) (*models.Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.lookup(agentID, deviceID)
	return &p, nil
}

func (r *MemoryPresenceRepository) lookup(agentID uuid.UUID, deviceID string) models.Presence {
	p, ok := r.presence[cursorKey{agentID, deviceID}]
	if !ok || time.Since(p.LastSeen) > presenceTTL {
		return offlinePresence(agentID, deviceID)
	}
	return p
}

func (r *MemoryPresenceRepository) DeletePresence(_ context.Context, agentID uuid.UUID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.presence, cursorKey{agentID, deviceID})
	return nil
}

func (r *MemoryPresenceRepository) GetBulkPresence(_ context.Context, agentID uuid.UUID, deviceIDs []string) (map[string]models.Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]models.Presence, len(deviceIDs))
	for _, id := range deviceIDs {
		out[id] = r.lookup(agentID, id)
	}
	return out, nil
}
