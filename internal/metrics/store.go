package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

// WrapStore returns an EntityStore that records StoreLatency for every
// operation.
func WrapStore(inner repositories.EntityStore) repositories.EntityStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner repositories.EntityStore
}

func observe(op string, start time.Time) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) WithTx(ctx context.Context, fn func(tx repositories.EntityTx) error) error {
	defer observe("transaction", time.Now())
	return m.inner.WithTx(ctx, fn)
}

func (m *metricsStore) MaxVersion(ctx context.Context) (int64, error) {
	defer observe("max_version", time.Now())
	return m.inner.MaxVersion(ctx)
}

func (m *metricsStore) FindGlobal(ctx context.Context, category, key string) (*models.GlobalEntity, error) {
	defer observe("find_global", time.Now())
	return m.inner.FindGlobal(ctx, category, key)
}

func (m *metricsStore) ListAttachments(ctx context.Context, agentID uuid.UUID) ([]*models.Attachment, error) {
	defer observe("list_attachments", time.Now())
	return m.inner.ListAttachments(ctx, agentID)
}
