package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

// CatalogWalker splits the catalog backlog of a round into pages.
//
// Page 1 fixes the version range (watermark, ceiling] of the walk and
// counts it. Later pages continue from the (publishedAt, id) key the
// previous page ended on, so an item is delivered at most once per walk even
// when items change while the walk is in progress: a changed item moves
// above the ceiling and is picked up by the next round instead.
type CatalogWalker struct {
	walks repositories.WalkRepository
	now   func() time.Time
}

func NewCatalogWalker(walks repositories.WalkRepository) *CatalogWalker {
	return &CatalogWalker{walks: walks, now: time.Now}
}

// CatalogPage is one page of a walk.
type CatalogPage struct {
	Walk   *models.CatalogWalk
	Number int
	Items  []*models.CatalogItem
}

// HasMore reports whether pages remain after this one.
func (p *CatalogPage) HasMore() bool {
	return p.Number < p.Walk.TotalPages
}

// Start begins a walk for the device and reads its first page.
func (w *CatalogWalker) Start(ctx context.Context, table repositories.CatalogTable, agentID uuid.UUID, deviceID string, watermark, ceiling int64, pageSize int) (*CatalogPage, error) {
	filter := repositories.ChangeFilter{After: watermark, Ceiling: ceiling}
	total, err := table.CountChanged(ctx, filter)
	if err != nil {
		return nil, err
	}

	walk := &models.CatalogWalk{
		AgentID:    agentID,
		DeviceID:   deviceID,
		Watermark:  watermark,
		Ceiling:    ceiling,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: (total + pageSize - 1) / pageSize,
		StartedAt:  w.now().UTC(),
	}
	return w.read(ctx, table, walk, 1)
}

// Resume loads the walk of the device and checks that it can serve page.
// The watermark and page size must be the ones the walk started with.
func (w *CatalogWalker) Resume(ctx context.Context, agentID uuid.UUID, deviceID string, watermark int64, pageSize, page int) (*models.CatalogWalk, error) {
	walk, err := w.walks.Get(ctx, agentID, deviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: no walk in progress", ErrWalkNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog walk: %w", err)
	}

	switch {
	case walk.Watermark != watermark:
		return nil, fmt.Errorf("%w: walk started at watermark %d, got %d", ErrWalkNotFound, walk.Watermark, watermark)
	case walk.PageSize != pageSize:
		return nil, fmt.Errorf("%w: walk started with page size %d, got %d", ErrWalkNotFound, walk.PageSize, pageSize)
	case page > walk.TotalPages:
		return nil, fmt.Errorf("%w: page %d beyond last page %d", ErrWalkNotFound, page, walk.TotalPages)
	}
	if _, ok := walk.CursorFor(page); !ok {
		return nil, fmt.Errorf("%w: page %d requested before page %d", ErrWalkNotFound, page, page-1)
	}
	return walk, nil
}

// Page reads a page of a resumed walk.
func (w *CatalogWalker) Page(ctx context.Context, table repositories.CatalogTable, walk *models.CatalogWalk, page int) (*CatalogPage, error) {
	return w.read(ctx, table, walk, page)
}

func (w *CatalogWalker) read(ctx context.Context, table repositories.CatalogTable, walk *models.CatalogWalk, page int) (*CatalogPage, error) {
	var after *models.CatalogKey
	if page > 1 {
		key, ok := walk.CursorFor(page)
		if !ok {
			return nil, fmt.Errorf("%w: no cursor for page %d", ErrWalkNotFound, page)
		}
		// A zero key means every earlier page came back empty.
		if key.ID != uuid.Nil {
			after = &key
		}
	}

	filter := repositories.ChangeFilter{After: walk.Watermark, Ceiling: walk.Ceiling}
	items, err := table.PageChanged(ctx, filter, after, walk.PageSize)
	if err != nil {
		return nil, err
	}

	p := &CatalogPage{Walk: walk, Number: page, Items: items}
	if p.HasMore() {
		// Items that left the range mid-walk can leave a page empty. The
		// next page then continues from where this one started.
		var next models.CatalogKey
		if after != nil {
			next = *after
		}
		if len(items) > 0 {
			next = items[len(items)-1].OrderKey()
		}
		walk.SetCursor(page+1, next)
	}
	return p, nil
}

// Record persists the walk after a page was delivered. The walk is kept
// while pages remain. Serving the last page drops it, along with any walk
// the device abandoned earlier.
func (w *CatalogWalker) Record(ctx context.Context, p *CatalogPage) error {
	if p.HasMore() {
		if err := w.walks.Save(ctx, p.Walk); err != nil {
			return fmt.Errorf("failed to save catalog walk: %w", err)
		}
		return nil
	}
	if err := w.walks.Delete(ctx, p.Walk.AgentID, p.Walk.DeviceID); err != nil {
		return fmt.Errorf("failed to delete catalog walk: %w", err)
	}
	return nil
}
