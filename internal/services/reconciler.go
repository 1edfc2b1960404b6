package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

type SyncOptions struct {
	DefaultPageSize int
	MaxPageSize     int
	// MaxRetries bounds how often a round is re-run after a retryable
	// store conflict.
	MaxRetries int
	// TrustClientVersions keeps positive versions sent by devices. When
	// false every accepted write gets a server version.
	TrustClientVersions bool
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		DefaultPageSize:     50,
		MaxPageSize:         500,
		MaxRetries:          3,
		TrustClientVersions: true,
	}
}

// Reconciler runs sync rounds: it merges what a device pushes into the
// entity store and computes what the device must pull.
type Reconciler struct {
	agents   repositories.AgentRepository
	store    repositories.EntityStore
	cursors  repositories.CursorRegistry
	presence repositories.PresenceRepository
	walker   *CatalogWalker
	clock    clock.Clock
	opts     SyncOptions
}

// NewReconciler wires a Reconciler. presence may be nil.
func NewReconciler(
	agents repositories.AgentRepository,
	store repositories.EntityStore,
	cursors repositories.CursorRegistry,
	walks repositories.WalkRepository,
	presence repositories.PresenceRepository,
	clk clock.Clock,
	opts SyncOptions,
) *Reconciler {
	defaults := DefaultSyncOptions()
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaults.MaxPageSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Reconciler{
		agents:   agents,
		store:    store,
		cursors:  cursors,
		presence: presence,
		walker:   NewCatalogWalker(walks),
		clock:    clk,
		opts:     opts,
	}
}

// round is the state of one exchange, rebuilt on every attempt.
type round struct {
	req       *models.SyncRequest
	watermark int64
	resp      *models.SyncResponse
	page      *CatalogPage
	// agentOK caches referenced agent lookups for the round.
	agentOK map[uuid.UUID]bool
	// recordMerges reports merge counts once the round has committed.
	recordMerges func()
}

// Reconcile handles one page of a sync round.
//
// Page 1 merges the pushed entities, issues the ceiling version and returns
// every owned, attachment and global change in (watermark, ceiling] along
// with the first catalog page. Pages after the first return further catalog
// pages of the same range. The ceiling is returned as CurrentVersion on every
// page, and the device cursor is committed when the last page is served.
func (r *Reconciler) Reconcile(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	start := time.Now()
	resp, err := r.reconcile(ctx, req)
	metrics.ObserveRound(outcomeOf(err), time.Since(start))
	return resp, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrUnknownAgent):
		return metrics.OutcomeUnknownAgent
	case errors.Is(err, ErrInvalidRequest):
		return metrics.OutcomeInvalid
	case errors.Is(err, ErrWalkNotFound):
		return metrics.OutcomeWalkExpired
	}
	return metrics.OutcomeError
}

func (r *Reconciler) reconcile(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	if err := r.normalize(req); err != nil {
		return nil, err
	}

	agent, err := r.agents.GetByID(ctx, req.AgentID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && !agent.IsActive) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, req.AgentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	watermark, err := r.resolveWatermark(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.clock.Observe(ctx, watermark); err != nil {
		return nil, fmt.Errorf("failed to observe watermark: %w", err)
	}

	var walk *models.CatalogWalk
	if req.PageNumber > 1 {
		walk, err = r.walker.Resume(ctx, req.AgentID, req.DeviceID, watermark, req.PageSize, req.PageNumber)
		if err != nil {
			return nil, err
		}
	}

	snapshot := snapshotPush(req)
	var rd *round
	for attempt := 0; ; attempt++ {
		snapshot.restore()
		rd = &round{req: req, watermark: watermark, agentOK: map[uuid.UUID]bool{req.AgentID: true}}
		err = r.store.WithTx(ctx, func(tx repositories.EntityTx) error {
			return r.runRound(ctx, tx, rd, walk)
		})
		if err == nil {
			break
		}
		if errors.Is(err, repositories.ErrRetryable) && attempt < r.opts.MaxRetries {
			metrics.IncTxRetries()
			log.Warn("retrying sync round", "agentId", req.AgentID, "deviceId", req.DeviceID, "attempt", attempt+1, "err", err)
			continue
		}
		return nil, err
	}

	if err := r.finish(ctx, rd); err != nil {
		return nil, err
	}

	log.Debug("sync round served",
		"agentId", req.AgentID,
		"deviceId", req.DeviceID,
		"page", rd.page.Number,
		"totalPages", rd.page.Walk.TotalPages,
		"pushed", req.PushCount(),
		"pulled", rd.resp.PullCount(),
		"rejected", len(rd.resp.Rejected),
		"currentVersion", rd.resp.CurrentVersion,
	)
	return rd.resp, nil
}

func (r *Reconciler) normalize(req *models.SyncRequest) error {
	if req.AgentID == uuid.Nil {
		return fmt.Errorf("%w: agentId is required", ErrInvalidRequest)
	}
	if req.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidRequest)
	}
	if req.PageNumber <= 0 {
		req.PageNumber = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = r.opts.DefaultPageSize
	}
	req.PageSize = min(req.PageSize, r.opts.MaxPageSize)

	req.PushedOwnedRecords = slices.DeleteFunc(req.PushedOwnedRecords, func(e *models.OwnedRecord) bool { return e == nil })
	req.PushedAttachments = slices.DeleteFunc(req.PushedAttachments, func(e *models.Attachment) bool { return e == nil })
	req.PushedGlobalData = slices.DeleteFunc(req.PushedGlobalData, func(e *models.GlobalEntity) bool { return e == nil })
	req.PushedCatalogItems = slices.DeleteFunc(req.PushedCatalogItems, func(e *models.CatalogItem) bool { return e == nil })
	return nil
}

// resolveWatermark turns a negative lastSyncVersion into the committed
// cursor of the device.
func (r *Reconciler) resolveWatermark(ctx context.Context, req *models.SyncRequest) (int64, error) {
	if req.LastSyncVersion >= 0 {
		return req.LastSyncVersion, nil
	}
	cursor, err := r.cursors.Get(ctx, req.AgentID, req.DeviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return cursor.LastSyncVersion, nil
}

func (r *Reconciler) runRound(ctx context.Context, tx repositories.EntityTx, rd *round, walk *models.CatalogWalk) error {
	req := rd.req
	v := &versioner{clock: r.clock, trust: r.opts.TrustClientVersions}

	owned, err := mergeKind(ctx, tx.OwnedRecords(), v, req.PushedOwnedRecords, func(ctx context.Context, e *models.OwnedRecord) (string, error) {
		return r.checkAgent(ctx, rd, &e.AgentID)
	})
	if err != nil {
		return err
	}
	attachments, err := mergeKind(ctx, tx.Attachments(), v, req.PushedAttachments, func(ctx context.Context, e *models.Attachment) (string, error) {
		if reason, err := r.checkAgent(ctx, rd, &e.AgentID); reason != "" || err != nil {
			return reason, err
		}
		return "", checkRecordRef(ctx, tx, e)
	})
	if err != nil {
		return err
	}
	globals, err := mergeKind(ctx, tx.GlobalEntities(), v, req.PushedGlobalData, nil)
	if err != nil {
		return err
	}
	catalog, err := mergeKind(ctx, tx.CatalogItems(), v, req.PushedCatalogItems, nil)
	if err != nil {
		return err
	}

	resp := &models.SyncResponse{
		UpdatedOwnedRecords: []*models.OwnedRecord{},
		UpdatedAttachments:  []*models.Attachment{},
		UpdatedGlobalData:   []*models.GlobalEntity{},
		UpdatedCatalogItems: []*models.CatalogItem{},
	}
	resp.Rejected = slices.Concat(owned.rejected, attachments.rejected, globals.rejected, catalog.rejected)
	rd.resp = resp
	rd.recordMerges = func() {
		owned.record(models.KindOwnedRecord)
		attachments.record(models.KindAttachment)
		globals.record(models.KindGlobal)
		catalog.record(models.KindCatalog)
	}

	if walk != nil {
		rd.page, err = r.walker.Page(ctx, tx.CatalogItems(), walk, req.PageNumber)
		if err != nil {
			return err
		}
		resp.UpdatedCatalogItems = append(resp.UpdatedCatalogItems, rd.page.Items...)
		return nil
	}

	// Every version merged above is below the ceiling.
	ceiling, err := r.clock.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to issue ceiling version: %w", err)
	}
	scoped := repositories.ChangeFilter{AgentID: req.AgentID, After: rd.watermark, Ceiling: ceiling}

	changedOwned, err := tx.OwnedRecords().ChangedSince(ctx, scoped)
	if err != nil {
		return err
	}
	changedAttachments, err := tx.Attachments().ChangedSince(ctx, scoped)
	if err != nil {
		return err
	}
	changedGlobals, err := tx.GlobalEntities().ChangedSince(ctx, repositories.ChangeFilter{After: rd.watermark, Ceiling: ceiling})
	if err != nil {
		return err
	}

	ownedByAgent := func(id uuid.UUID) bool { return id == req.AgentID }
	resp.UpdatedOwnedRecords = pullSet(changedOwned, owned, func(e *models.OwnedRecord) bool { return ownedByAgent(e.AgentID) })
	resp.UpdatedAttachments = pullSet(changedAttachments, attachments, func(e *models.Attachment) bool { return ownedByAgent(e.AgentID) })
	resp.UpdatedGlobalData = pullSet(changedGlobals, globals, nil)

	rd.page, err = r.walker.Start(ctx, tx.CatalogItems(), req.AgentID, req.DeviceID, rd.watermark, ceiling, req.PageSize)
	if err != nil {
		return err
	}
	// Catalog pages are delivered whole so page counts stay exact. Pushed
	// catalog items that lost are added on top.
	resp.UpdatedCatalogItems = append(resp.UpdatedCatalogItems, rd.page.Items...)
	for _, w := range catalog.winners {
		if w.Version <= rd.watermark {
			resp.UpdatedCatalogItems = append(resp.UpdatedCatalogItems, w)
		}
	}
	return nil
}

// checkAgent defaults a missing agent reference to the requesting agent and
// rejects references to agents that are unknown or inactive.
func (r *Reconciler) checkAgent(ctx context.Context, rd *round, agentID *uuid.UUID) (string, error) {
	if *agentID == uuid.Nil {
		*agentID = rd.req.AgentID
	}
	ok, cached := rd.agentOK[*agentID]
	if !cached {
		agent, err := r.agents.GetByID(ctx, *agentID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return "", fmt.Errorf("failed to get agent: %w", err)
		}
		ok = err == nil && agent.IsActive
		rd.agentOK[*agentID] = ok
	}
	if !ok {
		return "unknown or inactive agent " + agentID.String(), nil
	}
	return "", nil
}

// checkRecordRef clears an attachment's record reference when no owned
// record with that id is stored.
func checkRecordRef(ctx context.Context, tx repositories.EntityTx, a *models.Attachment) error {
	if a.RecordID == nil {
		return nil
	}
	_, err := tx.OwnedRecords().GetForUpdate(ctx, *a.RecordID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Debug("clearing dangling record reference", "attachmentId", a.ID, "recordId", *a.RecordID)
		a.RecordID = nil
		return nil
	}
	return err
}

// finish runs once the round's transaction has committed.
func (r *Reconciler) finish(ctx context.Context, rd *round) error {
	req, resp, page := rd.req, rd.resp, rd.page

	rd.recordMerges()
	if err := r.walker.Record(ctx, page); err != nil {
		return err
	}
	metrics.IncCatalogPages()

	resp.CurrentVersion = page.Walk.Ceiling
	resp.TotalCatalogItems = page.Walk.TotalItems
	resp.TotalPages = page.Walk.TotalPages
	resp.CurrentPage = page.Number
	resp.HasMoreCatalogItems = page.HasMore()
	resp.Success = true

	if resp.HasMoreCatalogItems {
		resp.Message = fmt.Sprintf("Catalog page %d of %d delivered", page.Number, page.Walk.TotalPages)
	} else {
		if err := r.cursors.Commit(ctx, req.AgentID, req.DeviceID, page.Walk.Ceiling, models.SyncStatusCompleted); err != nil {
			return fmt.Errorf("failed to commit sync cursor: %w", err)
		}
		resp.Message = "Sync completed successfully"
	}

	metrics.AddPulled(string(models.KindOwnedRecord), len(resp.UpdatedOwnedRecords))
	metrics.AddPulled(string(models.KindAttachment), len(resp.UpdatedAttachments))
	metrics.AddPulled(string(models.KindGlobal), len(resp.UpdatedGlobalData))
	metrics.AddPulled(string(models.KindCatalog), len(resp.UpdatedCatalogItems))

	if r.presence != nil {
		status := models.StatusOnline
		if resp.HasMoreCatalogItems {
			status = models.StatusSyncing
		}
		p := &models.Presence{AgentID: req.AgentID, DeviceID: req.DeviceID, Status: string(status)}
		if err := r.presence.SetPresence(ctx, p); err != nil {
			log.Warn("failed to update device presence", "agentId", req.AgentID, "deviceId", req.DeviceID, "err", err)
		}
	}
	return nil
}
