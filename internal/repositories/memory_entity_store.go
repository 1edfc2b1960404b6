package repositories

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

// MemoryEntityStore keeps every collection in process memory. It backs
// development servers and tests. Transactions run one at a time, even for
// different agents, and stage their writes until fn returns nil, which gives
// the same all-or-nothing behaviour as the Postgres store. Deployments that
// need concurrent rounds use the Postgres store and its row locks.
type MemoryEntityStore struct {
	mu          sync.Mutex
	owned       map[uuid.UUID]*models.OwnedRecord
	attachments map[uuid.UUID]*models.Attachment
	globals     map[uuid.UUID]*models.GlobalEntity
	catalog     map[uuid.UUID]*models.CatalogItem
}

func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		owned:       make(map[uuid.UUID]*models.OwnedRecord),
		attachments: make(map[uuid.UUID]*models.Attachment),
		globals:     make(map[uuid.UUID]*models.GlobalEntity),
		catalog:     make(map[uuid.UUID]*models.CatalogItem),
	}
}

func cloneOwnedRecord(e *models.OwnedRecord) *models.OwnedRecord {
	c := *e
	return &c
}

func cloneAttachment(e *models.Attachment) *models.Attachment {
	c := *e
	if e.RecordID != nil {
		id := *e.RecordID
		c.RecordID = &id
	}
	return &c
}

func cloneGlobalEntity(e *models.GlobalEntity) *models.GlobalEntity {
	c := *e
	return &c
}

func cloneCatalogItem(e *models.CatalogItem) *models.CatalogItem {
	c := *e
	return &c
}

func agentOfOwnedRecord(e *models.OwnedRecord) uuid.UUID { return e.AgentID }
func agentOfAttachment(e *models.Attachment) uuid.UUID   { return e.AgentID }

type memTable[T models.Syncable] struct {
	committed map[uuid.UUID]T
	staged    map[uuid.UUID]T
	clone     func(T) T
	// agentOf is nil for unscoped kinds.
	agentOf func(T) uuid.UUID
}

func newMemTable[T models.Syncable](committed map[uuid.UUID]T, clone func(T) T, agentOf func(T) uuid.UUID) *memTable[T] {
	return &memTable[T]{
		committed: committed,
		staged:    make(map[uuid.UUID]T),
		clone:     clone,
		agentOf:   agentOf,
	}
}

func (t *memTable[T]) lookup(id uuid.UUID) (T, bool) {
	if e, ok := t.staged[id]; ok {
		return e, true
	}
	e, ok := t.committed[id]
	return e, ok
}

func (t *memTable[T]) GetForUpdate(_ context.Context, id uuid.UUID) (T, error) {
	e, ok := t.lookup(id)
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return t.clone(e), nil
}

func (t *memTable[T]) Insert(_ context.Context, entity T) (bool, error) {
	m := entity.Meta()
	if _, ok := t.lookup(m.ID); ok {
		return false, nil
	}
	m.CreatedAt = models.NormalizeTime(time.Now())
	t.staged[m.ID] = t.clone(entity)
	return true, nil
}

func (t *memTable[T]) Update(_ context.Context, entity T) error {
	m := entity.Meta()
	existing, ok := t.lookup(m.ID)
	if !ok {
		return ErrNotFound
	}
	c := t.clone(entity)
	c.Meta().CreatedAt = existing.Meta().CreatedAt
	t.staged[m.ID] = c
	return nil
}

// visible returns clones of every entity in the filter's range, staged
// writes included, in (version, id) order.
func (t *memTable[T]) visible(filter ChangeFilter) []T {
	var out []T
	add := func(e T) {
		if !filter.Matches(e.Meta().Version) {
			return
		}
		if t.agentOf != nil && filter.AgentID != uuid.Nil && t.agentOf(e) != filter.AgentID {
			return
		}
		out = append(out, t.clone(e))
	}
	for id, e := range t.committed {
		if _, shadowed := t.staged[id]; !shadowed {
			add(e)
		}
	}
	for _, e := range t.staged {
		add(e)
	}
	slices.SortFunc(out, func(a, b T) int {
		if c := cmp.Compare(a.Meta().Version, b.Meta().Version); c != 0 {
			return c
		}
		return slices.Compare(a.Meta().ID[:], b.Meta().ID[:])
	})
	return out
}

func (t *memTable[T]) ChangedSince(_ context.Context, filter ChangeFilter) ([]T, error) {
	return t.visible(filter), nil
}

func (t *memTable[T]) commit() {
	for id, e := range t.staged {
		t.committed[id] = e
	}
}

type memCatalogTable struct {
	*memTable[*models.CatalogItem]
}

func (t *memCatalogTable) CountChanged(_ context.Context, filter ChangeFilter) (int, error) {
	return len(t.visible(filter)), nil
}

func (t *memCatalogTable) PageChanged(_ context.Context, filter ChangeFilter, after *models.CatalogKey, limit int) ([]*models.CatalogItem, error) {
	items := t.visible(filter)
	slices.SortFunc(items, func(a, b *models.CatalogItem) int {
		ka, kb := a.OrderKey(), b.OrderKey()
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		}
		return 0
	})

	page := make([]*models.CatalogItem, 0, limit)
	for _, item := range items {
		if after != nil && !after.Less(item.OrderKey()) {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, item)
	}
	return page, nil
}

type memEntityTx struct {
	owned       *memTable[*models.OwnedRecord]
	attachments *memTable[*models.Attachment]
	globals     *memTable[*models.GlobalEntity]
	catalog     *memCatalogTable
}

func (t *memEntityTx) OwnedRecords() EntityTable[*models.OwnedRecord]   { return t.owned }
func (t *memEntityTx) Attachments() EntityTable[*models.Attachment]     { return t.attachments }
func (t *memEntityTx) GlobalEntities() EntityTable[*models.GlobalEntity] { return t.globals }
func (t *memEntityTx) CatalogItems() CatalogTable                       { return t.catalog }

func (s *MemoryEntityStore) begin() *memEntityTx {
	return &memEntityTx{
		owned:       newMemTable(s.owned, cloneOwnedRecord, agentOfOwnedRecord),
		attachments: newMemTable(s.attachments, cloneAttachment, agentOfAttachment),
		globals:     newMemTable(s.globals, cloneGlobalEntity, nil),
		catalog:     &memCatalogTable{newMemTable(s.catalog, cloneCatalogItem, nil)},
	}
}

func (s *MemoryEntityStore) WithTx(ctx context.Context, fn func(tx EntityTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.owned.commit()
	tx.attachments.commit()
	tx.globals.commit()
	tx.catalog.commit()
	return nil
}

func (s *MemoryEntityStore) MaxVersion(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var highest int64
	for _, e := range s.owned {
		highest = max(highest, e.Version)
	}
	for _, e := range s.attachments {
		highest = max(highest, e.Version)
	}
	for _, e := range s.globals {
		highest = max(highest, e.Version)
	}
	for _, e := range s.catalog {
		highest = max(highest, e.Version)
	}
	return highest, nil
}

func (s *MemoryEntityStore) FindGlobal(_ context.Context, category, key string) (*models.GlobalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *models.GlobalEntity
	for _, e := range s.globals {
		if e.IsDeleted || e.Category != category || e.Key != key {
			continue
		}
		if found == nil || e.Version > found.Version {
			found = e
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneGlobalEntity(found), nil
}

func (s *MemoryEntityStore) ListAttachments(_ context.Context, agentID uuid.UUID) ([]*models.Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Attachment
	for _, e := range s.attachments {
		if e.AgentID == agentID && !e.IsDeleted {
			out = append(out, cloneAttachment(e))
		}
	}
	slices.SortFunc(out, func(a, b *models.Attachment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}
