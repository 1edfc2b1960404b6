package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

type PostgresCursorRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresCursorRegistry(pool *pgxpool.Pool) *PostgresCursorRegistry {
	return &PostgresCursorRegistry{pool: pool}
}

func (r *PostgresCursorRegistry) Get(ctx context.Context, agentID uuid.UUID, deviceID string) (*models.SyncCursor, error) {
	query := `SELECT id, agent_id, device_id, last_sync_version, last_sync_at, sync_status
	          FROM sync_cursors
	          WHERE agent_id = $1 AND device_id = $2`

	var cursor models.SyncCursor
	err := r.pool.QueryRow(ctx, query, agentID, deviceID).Scan(
		&cursor.ID,
		&cursor.AgentID,
		&cursor.DeviceID,
		&cursor.LastSyncVersion,
		&cursor.LastSyncAt,
		&cursor.SyncStatus,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return &cursor, nil
}

// Commit upserts the cursor row. GREATEST keeps a late commit of an older
// round from moving the cursor backwards.
func (r *PostgresCursorRegistry) Commit(ctx context.Context, agentID uuid.UUID, deviceID string, version int64, status string) error {
	query := `INSERT INTO sync_cursors (id, agent_id, device_id, last_sync_version, last_sync_at, sync_status)
	          VALUES ($1, $2, $3, $4, NOW(), $5)
	          ON CONFLICT (agent_id, device_id) DO UPDATE
	          SET last_sync_version = GREATEST(sync_cursors.last_sync_version, EXCLUDED.last_sync_version),
	              last_sync_at = NOW(),
	              sync_status = EXCLUDED.sync_status`

	_, err := r.pool.Exec(ctx, query, uuid.New(), agentID, deviceID, version, status)
	if err != nil {
		return fmt.Errorf("failed to commit sync cursor: %w", err)
	}
	return nil
}

func (r *PostgresCursorRegistry) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]*models.SyncCursor, error) {
	query := `SELECT id, agent_id, device_id, last_sync_version, last_sync_at, sync_status
	          FROM sync_cursors
	          WHERE agent_id = $1
	          ORDER BY last_sync_at DESC`

	rows, err := r.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*models.SyncCursor
	for rows.Next() {
		var cursor models.SyncCursor
		err := rows.Scan(
			&cursor.ID,
			&cursor.AgentID,
			&cursor.DeviceID,
			&cursor.LastSyncVersion,
			&cursor.LastSyncAt,
			&cursor.SyncStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync cursor: %w", err)
		}
		cursors = append(cursors, &cursor)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync cursors: %w", err)
	}

	return cursors, nil
}
