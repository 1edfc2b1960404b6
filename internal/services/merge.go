package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
)

type mergeResult int

const (
	mergeInserted mergeResult = iota
	mergeUpdated
	mergeIgnored
)

func (r mergeResult) String() string {
	switch r {
	case mergeInserted:
		return metrics.MergeInserted
	case mergeUpdated:
		return metrics.MergeUpdated
	}
	return metrics.MergeIgnored
}

// versioner decides the version a winning write is stored with.
type versioner struct {
	clock clock.Clock
	// trust keeps positive client versions that move the entity forward.
	trust bool
}

// assign returns a fresh clock version, or pushed when it is trusted and
// ahead of that version. Either way the result exceeds every watermark
// already handed out, so no device that synced earlier can miss the write.
// A kept version is observed so the clock never issues it again.
func (v *versioner) assign(ctx context.Context, pushed, floor int64) (int64, error) {
	next, err := v.clock.Next(ctx)
	if err != nil {
		return 0, err
	}
	if !v.trust || pushed <= max(next, floor) {
		return next, nil
	}
	if err := v.clock.Observe(ctx, pushed); err != nil {
		return 0, err
	}
	return pushed, nil
}

// errForeignOwner rejects a push that reuses the id of another agent's entity.
var errForeignOwner = errors.New("id belongs to another agent")

// sameOwner reports whether incoming may overwrite stored. Only agent-scoped
// kinds have an owner.
func sameOwner(incoming, stored models.Syncable) bool {
	in, ok := incoming.(models.AgentScoped)
	if !ok {
		return true
	}
	st, ok := stored.(models.AgentScoped)
	return ok && in.Owner() == st.Owner()
}

// mergeEntity applies last-writer-wins to one pushed entity and returns the
// entity stored once the merge is done. The stored copy wins ties.
func mergeEntity[T models.Syncable](ctx context.Context, table repositories.EntityTable[T], v *versioner, incoming T) (T, mergeResult, error) {
	var zero T
	meta := incoming.Meta()
	meta.UpdatedAt = models.NormalizeTime(meta.UpdatedAt)
	pushedVersion := meta.Version

	// The second pass only runs when another transaction inserted the same
	// id between our read and our insert.
	for pass := 0; pass < 2; pass++ {
		stored, err := table.GetForUpdate(ctx, meta.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			version, err := v.assign(ctx, pushedVersion, 0)
			if err != nil {
				return zero, 0, fmt.Errorf("failed to assign version: %w", err)
			}
			meta.Version = version
			inserted, err := table.Insert(ctx, incoming)
			if err != nil {
				return zero, 0, err
			}
			if inserted {
				return incoming, mergeInserted, nil
			}
			continue
		}
		if err != nil {
			return zero, 0, err
		}

		if !sameOwner(incoming, stored) {
			return stored, mergeIgnored, errForeignOwner
		}
		storedMeta := stored.Meta()
		if !meta.UpdatedAt.After(storedMeta.UpdatedAt) {
			return stored, mergeIgnored, nil
		}

		version, err := v.assign(ctx, pushedVersion, storedMeta.Version)
		if err != nil {
			return zero, 0, fmt.Errorf("failed to assign version: %w", err)
		}
		meta.Version = version
		meta.CreatedAt = storedMeta.CreatedAt
		if err := table.Update(ctx, incoming); err != nil {
			return zero, 0, err
		}
		return incoming, mergeUpdated, nil
	}
	return zero, 0, fmt.Errorf("%w: %s %s inserted concurrently", repositories.ErrRetryable, incoming.Kind(), meta.ID)
}

// mergeOutcome collects what merging one kind produced.
type mergeOutcome[T models.Syncable] struct {
	// settled holds pushed ids whose stored copy is now the pushed one.
	settled map[uuid.UUID]bool
	// winners holds stored entities that beat a push.
	winners  []T
	rejected []models.Rejection
	counts   map[mergeResult]int
}

// checkFunc validates and repairs a pushed entity before its merge. A
// non-empty reason rejects the entity.
type checkFunc[T models.Syncable] func(ctx context.Context, e T) (reason string, err error)

// mergeKind merges pushed entities of one kind in id order so that
// concurrent rounds lock rows in the same order.
func mergeKind[T models.Syncable](ctx context.Context, table repositories.EntityTable[T], v *versioner, pushed []T, check checkFunc[T]) (*mergeOutcome[T], error) {
	out := &mergeOutcome[T]{
		settled: make(map[uuid.UUID]bool),
		counts:  make(map[mergeResult]int),
	}

	items := slices.Clone(pushed)
	slices.SortStableFunc(items, func(a, b T) int {
		return slices.Compare(a.Meta().ID[:], b.Meta().ID[:])
	})

	for _, item := range items {
		if item.Meta().ID == uuid.Nil {
			out.rejected = append(out.rejected, models.Rejection{Kind: item.Kind(), Reason: "missing id"})
			continue
		}
		if check != nil {
			reason, err := check(ctx, item)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				out.rejected = append(out.rejected, models.Rejection{Kind: item.Kind(), ID: item.Meta().ID, Reason: reason})
				continue
			}
		}

		pushedAt := models.NormalizeTime(item.Meta().UpdatedAt)
		stored, result, err := mergeEntity(ctx, table, v, item)
		if errors.Is(err, errForeignOwner) {
			out.rejected = append(out.rejected, models.Rejection{Kind: item.Kind(), ID: item.Meta().ID, Reason: err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s %s: %w", item.Kind(), item.Meta().ID, err)
		}
		out.counts[result]++

		if stored.Meta().UpdatedAt.Equal(pushedAt) {
			out.settled[item.Meta().ID] = true
		} else {
			out.winners = append(out.winners, stored)
		}
	}
	return out, nil
}

func (o *mergeOutcome[T]) record(kind models.EntityKind) {
	for result, n := range o.counts {
		metrics.AddMerged(string(kind), result.String(), n)
	}
	metrics.AddMerged(string(kind), metrics.MergeRejected, len(o.rejected))
}

// pullSet returns changed minus the settled ids, plus every winner the
// device would otherwise miss because its version is at or below the
// watermark.
func pullSet[T models.Syncable](changed []T, o *mergeOutcome[T], include func(T) bool) []T {
	out := make([]T, 0, len(changed))
	seen := make(map[uuid.UUID]bool, len(changed))
	for _, e := range changed {
		id := e.Meta().ID
		if o.settled[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	for _, w := range o.winners {
		id := w.Meta().ID
		if seen[id] || o.settled[id] || (include != nil && !include(w)) {
			continue
		}
		seen[id] = true
		out = append(out, w)
	}
	return out
}

// pushedMetas lists the sync metadata of every entity in the request.
func pushedMetas(req *models.SyncRequest) []*models.SyncMeta {
	metas := make([]*models.SyncMeta, 0, req.PushCount())
	for _, e := range req.PushedOwnedRecords {
		metas = append(metas, e.Meta())
	}
	for _, e := range req.PushedAttachments {
		metas = append(metas, e.Meta())
	}
	for _, e := range req.PushedGlobalData {
		metas = append(metas, e.Meta())
	}
	for _, e := range req.PushedCatalogItems {
		metas = append(metas, e.Meta())
	}
	return metas
}

// pushSnapshot restores the fields a merge attempt writes into pushed
// entities so a retried attempt starts from the request as received.
type pushSnapshot struct {
	metas       []*models.SyncMeta
	versions    []int64
	createdAt   []time.Time
	attachments []*models.Attachment
	recordIDs   []*uuid.UUID
}

func snapshotPush(req *models.SyncRequest) *pushSnapshot {
	s := &pushSnapshot{metas: pushedMetas(req), attachments: req.PushedAttachments}
	for _, m := range s.metas {
		s.versions = append(s.versions, m.Version)
		s.createdAt = append(s.createdAt, m.CreatedAt)
	}
	for _, a := range s.attachments {
		s.recordIDs = append(s.recordIDs, a.RecordID)
	}
	return s
}

func (s *pushSnapshot) restore() {
	for i, m := range s.metas {
		m.Version = s.versions[i]
		m.CreatedAt = s.createdAt[i]
	}
	for i, a := range s.attachments {
		a.RecordID = s.recordIDs[i]
	}
}
