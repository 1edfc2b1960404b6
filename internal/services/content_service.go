package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

var ErrGlobalNotFound = errors.New("global entity not found")

// ContentService performs server-originated writes. They go through the
// same last-writer-wins merge as device pushes but are always stamped with
// a server version and the current time.
type ContentService struct {
	store repositories.EntityStore
	v     *versioner
	now   func() time.Time
}

func NewContentService(store repositories.EntityStore, clk clock.Clock) *ContentService {
	return &ContentService{
		store: store,
		v:     &versioner{clock: clk},
		now:   time.Now,
	}
}

type PublishCatalogRequest struct {
	ID               uuid.UUID `json:"id,omitempty"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	Author           string    `json:"author"`
	ImageData        string    `json:"imageData"`
	ImageContentType string    `json:"imageContentType"`
	// PublishedAt defaults to now.
	PublishedAt time.Time `json:"publishedAt,omitzero"`
}

// PublishCatalog creates or replaces a catalog item.
func (s *ContentService) PublishCatalog(ctx context.Context, req PublishCatalogRequest) (*models.CatalogItem, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	now := models.NormalizeTime(s.now())
	item := &models.CatalogItem{
		SyncMeta:         models.SyncMeta{ID: req.ID, UpdatedAt: now},
		Title:            req.Title,
		Content:          req.Content,
		Author:           req.Author,
		ImageData:        req.ImageData,
		ImageContentType: req.ImageContentType,
		PublishedAt:      models.NormalizeTime(req.PublishedAt),
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if req.PublishedAt.IsZero() {
		item.PublishedAt = now
	}

	var stored *models.CatalogItem
	err := s.store.WithTx(ctx, func(tx repositories.EntityTx) error {
		var err error
		stored, _, err = mergeEntity(ctx, tx.CatalogItems(), s.v, item)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish catalog item: %w", err)
	}
	return stored, nil
}

type PutGlobalRequest struct {
	Value       string `json:"value"`
	Description string `json:"description"`
	IsDeleted   bool   `json:"isDeleted"`
}

// PutGlobal sets the value of (category, key), reusing the id of the live
// entity for the pair when there is one.
func (s *ContentService) PutGlobal(ctx context.Context, category, key string, req PutGlobalRequest) (*models.GlobalEntity, error) {
	if category == "" || key == "" {
		return nil, fmt.Errorf("%w: category and key are required", ErrInvalidRequest)
	}

	id := uuid.New()
	existing, err := s.store.FindGlobal(ctx, category, key)
	switch {
	case err == nil:
		id = existing.ID
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, fmt.Errorf("failed to find global entity: %w", err)
	}

	entity := &models.GlobalEntity{
		SyncMeta:    models.SyncMeta{ID: id, UpdatedAt: models.NormalizeTime(s.now()), IsDeleted: req.IsDeleted},
		Category:    category,
		Key:         key,
		Value:       req.Value,
		Description: req.Description,
	}

	var stored *models.GlobalEntity
	err = s.store.WithTx(ctx, func(tx repositories.EntityTx) error {
		var err error
		stored, _, err = mergeEntity(ctx, tx.GlobalEntities(), s.v, entity)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put global entity: %w", err)
	}
	return stored, nil
}

func (s *ContentService) GetGlobal(ctx context.Context, category, key string) (*models.GlobalEntity, error) {
	entity, err := s.store.FindGlobal(ctx, category, key)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrGlobalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global entity: %w", err)
	}
	return entity, nil
}

// ListAttachments returns the metadata of an agent's live attachments.
func (s *ContentService) ListAttachments(ctx context.Context, agentID uuid.UUID) ([]*models.Attachment, error) {
	attachments, err := s.store.ListAttachments(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	if attachments == nil {
		attachments = []*models.Attachment{}
	}
	return attachments, nil
}
