package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
	"golang.org/x/sync/errgroup"
)

// Agent keeps a device replica in sync with the server. Local mutations and
// sync rounds are serialized so an edit made while a round runs cannot be
// covered by that round's watermark without being pushed.
type Agent struct {
	mu        sync.Mutex
	store     ReplicaStore
	transport Transport
	clock     *clock.Monotonic
	agentID   uuid.UUID
	deviceID  string
	pageSize  int
	now       func() time.Time
}

// NewAgent returns an Agent for one (agent, device) pair. A pageSize of 0
// leaves the page size to the server.
func NewAgent(store ReplicaStore, transport Transport, agentID uuid.UUID, deviceID string, pageSize int) *Agent {
	return &Agent{
		store:     store,
		transport: transport,
		clock:     clock.NewMonotonic(),
		agentID:   agentID,
		deviceID:  deviceID,
		pageSize:  pageSize,
		now:       time.Now,
	}
}

// SyncResult summarizes one completed sync round.
type SyncResult struct {
	Pushed   int
	Pulled   int
	Pages    int
	Version  int64
	Rejected []models.Rejection
}

// Sync runs one round: it pushes every local change made since the last
// round, applies what the server returns and then advances the watermark.
// The watermark only moves once the last page has been applied, so a
// failed round is repeated in full next time.
func (a *Agent) Sync(ctx context.Context) (*SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.syncOnce(ctx)
	if errors.Is(err, services.ErrWalkNotFound) {
		log.Warn("catalog walk expired, restarting sync", "deviceId", a.deviceID)
		res, err = a.syncOnce(ctx)
	}
	return res, err
}

func (a *Agent) syncOnce(ctx context.Context) (*SyncResult, error) {
	last, err := a.store.LastVersion(ctx, a.agentID, a.deviceID)
	if err != nil {
		return nil, err
	}

	req := &models.SyncRequest{
		AgentID:         a.agentID,
		DeviceID:        a.deviceID,
		LastSyncVersion: last,
		PageSize:        a.pageSize,
		PageNumber:      1,
	}
	if err := a.gather(ctx, req, last); err != nil {
		return nil, fmt.Errorf("failed to gather local changes: %w", err)
	}

	res := &SyncResult{Pushed: req.PushCount()}
	for {
		resp, err := a.transport.Sync(ctx, req)
		if err != nil {
			return nil, err
		}
		if !resp.Success {
			return nil, fmt.Errorf("sync page %d failed: %s", req.PageNumber, resp.Message)
		}
		if err := a.apply(ctx, resp); err != nil {
			return nil, err
		}
		res.Pages++
		res.Pulled += resp.PullCount()
		res.Rejected = append(res.Rejected, resp.Rejected...)
		res.Version = resp.CurrentVersion

		if !resp.HasMoreCatalogItems {
			break
		}
		req = &models.SyncRequest{
			AgentID:         a.agentID,
			DeviceID:        a.deviceID,
			LastSyncVersion: last,
			PageSize:        a.pageSize,
			PageNumber:      resp.CurrentPage + 1,
		}
	}

	if err := a.clock.Observe(ctx, res.Version); err != nil {
		return nil, err
	}
	if err := a.store.SetLastVersion(ctx, a.agentID, a.deviceID, res.Version); err != nil {
		return nil, err
	}
	for _, r := range res.Rejected {
		log.Warn("server rejected local change", "kind", r.Kind, "id", r.ID, "reason", r.Reason)
	}
	log.Info("sync completed", "deviceId", a.deviceID, "pushed", res.Pushed, "pulled", res.Pulled, "pages", res.Pages, "version", res.Version)
	return res, nil
}

// gather loads the local changes of every kind concurrently.
func (a *Agent) gather(ctx context.Context, req *models.SyncRequest, since int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		req.PushedOwnedRecords, err = changedSince[*models.OwnedRecord](ctx, a.store, models.KindOwnedRecord, since)
		return err
	})
	g.Go(func() (err error) {
		req.PushedAttachments, err = changedSince[*models.Attachment](ctx, a.store, models.KindAttachment, since)
		return err
	})
	g.Go(func() (err error) {
		req.PushedGlobalData, err = changedSince[*models.GlobalEntity](ctx, a.store, models.KindGlobal, since)
		return err
	})
	g.Go(func() (err error) {
		req.PushedCatalogItems, err = changedSince[*models.CatalogItem](ctx, a.store, models.KindCatalog, since)
		return err
	})
	return g.Wait()
}

func changedSince[T models.Syncable](ctx context.Context, store ReplicaStore, kind models.EntityKind, since int64) ([]T, error) {
	entities, err := store.SelectChangedSince(ctx, kind, since)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		typed, ok := e.(T)
		if !ok {
			return nil, fmt.Errorf("replica returned %T for %s", e, kind)
		}
		// The local version only marks the change for the next push. The
		// server issues the version the entity is stored with.
		typed.Meta().Version = 0
		out = append(out, typed)
	}
	return out, nil
}

func (a *Agent) apply(ctx context.Context, resp *models.SyncResponse) error {
	var pulled []models.Syncable
	for _, e := range resp.UpdatedOwnedRecords {
		pulled = append(pulled, e)
	}
	for _, e := range resp.UpdatedAttachments {
		pulled = append(pulled, e)
	}
	for _, e := range resp.UpdatedGlobalData {
		pulled = append(pulled, e)
	}
	for _, e := range resp.UpdatedCatalogItems {
		pulled = append(pulled, e)
	}
	for _, e := range pulled {
		if err := a.store.Upsert(ctx, e); err != nil {
			return fmt.Errorf("failed to apply pulled %s: %w", e.Kind(), err)
		}
	}
	return nil
}

// Run syncs immediately and then every interval until ctx is done. Failed
// rounds are logged and retried on the next tick.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("sync failed", "deviceId", a.deviceID, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stamp marks e as a local change: updatedAt is now and the version is above
// the watermark, so the next round pushes it.
func (a *Agent) stamp(ctx context.Context, e models.Syncable) error {
	last, err := a.store.LastVersion(ctx, a.agentID, a.deviceID)
	if err != nil {
		return err
	}
	if err := a.clock.Observe(ctx, last); err != nil {
		return err
	}
	version, err := a.clock.Next(ctx)
	if err != nil {
		return err
	}
	meta := e.Meta()
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	meta.Version = version
	meta.UpdatedAt = models.NormalizeTime(a.now())
	return a.store.Upsert(ctx, e)
}

// PutRecord creates or replaces an owned record locally.
func (a *Agent) PutRecord(ctx context.Context, rec *models.OwnedRecord) (*models.OwnedRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec.AgentID = a.agentID
	if err := a.stamp(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to put record: %w", err)
	}
	return rec, nil
}

// DeleteRecord turns a local record into a tombstone.
func (a *Agent) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, err := a.store.Get(ctx, models.KindOwnedRecord, id)
	if err != nil {
		return err
	}
	e.Meta().IsDeleted = true
	if err := a.stamp(ctx, e); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// PutAttachment creates or replaces attachment metadata locally.
func (a *Agent) PutAttachment(ctx context.Context, att *models.Attachment) (*models.Attachment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	att.AgentID = a.agentID
	if err := a.stamp(ctx, att); err != nil {
		return nil, fmt.Errorf("failed to put attachment: %w", err)
	}
	return att, nil
}
