package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/models"
	_ "modernc.org/sqlite"
)

const replicaSchema = `
CREATE TABLE IF NOT EXISTS replica_entities (
	kind       TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT    NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	payload    TEXT    NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS idx_replica_entities_version ON replica_entities (kind, version);

CREATE TABLE IF NOT EXISTS replica_cursors (
	agent_id     TEXT    NOT NULL,
	device_id    TEXT    NOT NULL,
	last_version INTEGER NOT NULL,
	updated_at   TEXT    NOT NULL,
	PRIMARY KEY (agent_id, device_id)
);
`

// SQLiteStore is a ReplicaStore in a single SQLite file. Each entity is kept
// as its JSON payload next to the columns the sync driver queries.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create replica directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, replicaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize replica schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SelectChangedSince(ctx context.Context, kind models.EntityKind, version int64) ([]models.Syncable, error) {
	return s.query(ctx, kind, `
		SELECT payload FROM replica_entities
		WHERE kind = ? AND version > ?
		ORDER BY version, id`, string(kind), version)
}

func (s *SQLiteStore) Upsert(ctx context.Context, entity models.Syncable) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", entity.Kind(), err)
	}
	meta := entity.Meta()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO replica_entities (kind, id, version, updated_at, is_deleted, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			version = excluded.version,
			updated_at = excluded.updated_at,
			is_deleted = excluded.is_deleted,
			payload = excluded.payload`,
		string(entity.Kind()), meta.ID.String(), meta.Version,
		meta.UpdatedAt.UTC().Format(time.RFC3339Nano), meta.IsDeleted, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", entity.Kind(), meta.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, kind models.EntityKind, id uuid.UUID) (models.Syncable, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM replica_entities WHERE kind = ? AND id = ?`,
		string(kind), id.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}
	return decodeEntity(kind, []byte(payload))
}

func (s *SQLiteStore) List(ctx context.Context, kind models.EntityKind, withDeleted bool) ([]models.Syncable, error) {
	return s.query(ctx, kind, `
		SELECT payload FROM replica_entities
		WHERE kind = ? AND (? OR is_deleted = 0)
		ORDER BY version, id`, string(kind), withDeleted)
}

func (s *SQLiteStore) query(ctx context.Context, kind models.EntityKind, query string, args ...any) ([]models.Syncable, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []models.Syncable
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		e, err := decodeEntity(kind, []byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastVersion(ctx context.Context, agentID uuid.UUID, deviceID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_version FROM replica_cursors WHERE agent_id = ? AND device_id = ?`,
		agentID.String(), deviceID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get last version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) SetLastVersion(ctx context.Context, agentID uuid.UUID, deviceID string, version int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replica_cursors (agent_id, device_id, last_version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id, device_id) DO UPDATE SET
			last_version = excluded.last_version,
			updated_at = excluded.updated_at`,
		agentID.String(), deviceID, version, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to set last version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
