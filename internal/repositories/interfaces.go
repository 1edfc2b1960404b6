package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

type AgentRepository interface {
	Create(ctx context.Context, agent *models.Agent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetByEmail(ctx context.Context, email string) (*models.Agent, error)
	ListActive(ctx context.Context) ([]*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// ChangeFilter selects entities with After < version <= Ceiling. A zero
// Ceiling leaves the upper bound open. A nil AgentID leaves agent-scoped
// kinds unscoped.
type ChangeFilter struct {
	AgentID uuid.UUID
	After   int64
	Ceiling int64
}

// Matches reports whether version falls inside the filter's range.
func (f ChangeFilter) Matches(version int64) bool {
	if version <= f.After {
		return false
	}
	return f.Ceiling == 0 || version <= f.Ceiling
}

// EntityTable is the per-kind view of the entity store inside a transaction.
type EntityTable[T models.Syncable] interface {
	// GetForUpdate returns the stored entity and locks it until the
	// transaction ends. Returns ErrNotFound when absent.
	GetForUpdate(ctx context.Context, id uuid.UUID) (T, error)
	// Insert stores a new entity. It reports false, without error, when an
	// entity with the same id already exists.
	Insert(ctx context.Context, entity T) (bool, error)
	// Update overwrites every mutable field and the sync metadata.
	Update(ctx context.Context, entity T) error
	ChangedSince(ctx context.Context, filter ChangeFilter) ([]T, error)
}

// CatalogTable adds keyset paging over (publishedAt, id) to catalog items.
type CatalogTable interface {
	EntityTable[*models.CatalogItem]
	CountChanged(ctx context.Context, filter ChangeFilter) (int, error)
	// PageChanged returns up to limit items of the filter's range ordered by
	// (publishedAt, id), starting strictly after the given key when set.
	PageChanged(ctx context.Context, filter ChangeFilter, after *models.CatalogKey, limit int) ([]*models.CatalogItem, error)
}

// EntityTx groups every replicated collection under one transaction.
type EntityTx interface {
	OwnedRecords() EntityTable[*models.OwnedRecord]
	Attachments() EntityTable[*models.Attachment]
	GlobalEntities() EntityTable[*models.GlobalEntity]
	CatalogItems() CatalogTable
}

// EntityStore is the authoritative store of replicated entities.
type EntityStore interface {
	// WithTx runs fn in a transaction that commits when fn returns nil and
	// rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx EntityTx) error) error
	// MaxVersion returns the highest version stored in any collection.
	MaxVersion(ctx context.Context) (int64, error)
	// FindGlobal looks up a live global entity by (category, key).
	FindGlobal(ctx context.Context, category, key string) (*models.GlobalEntity, error)
	// ListAttachments returns the live attachments owned by an agent.
	ListAttachments(ctx context.Context, agentID uuid.UUID) ([]*models.Attachment, error)
}

// CursorRegistry stores the last fully received version per device.
type CursorRegistry interface {
	Get(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.SyncCursor, error)
	// Commit records version for the device. A stored version is never
	// lowered.
	Commit(ctx context.Context, agentID uuid.UUID, deviceID string, version int64, status string) error
	ListByAgent(ctx context.Context, agentID uuid.UUID) ([]*models.SyncCursor, error)
}

// WalkRepository keeps catalog walk snapshots between the pages of a round.
type WalkRepository interface {
	Save(ctx context.Context, walk *models.CatalogWalk) error
	// Get returns ErrNotFound when no walk is stored or it expired.
	Get(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.CatalogWalk, error)
	Delete(ctx context.Context, agentID uuid.UUID, deviceID string) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByAgentID(ctx context.Context, agentID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAgent(ctx context.Context, agentID uuid.UUID) error
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.Presence, error)
	DeletePresence(ctx context.Context, agentID uuid.UUID, deviceID string) error
	GetBulkPresence(ctx context.Context, agentID uuid.UUID, deviceIDs []string) (map[string]models.Presence, error)
}
