package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates every table the server needs. Statements are idempotent so
// EnsureSchema can run on each start. There are no foreign keys between
// entity tables: references are checked during the merge instead.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id            UUID PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS owned_records (
		id          UUID PRIMARY KEY,
		version     BIGINT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		agent_id    UUID NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		data        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_owned_records_agent_version ON owned_records (agent_id, version)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id           UUID PRIMARY KEY,
		version      BIGINT NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		is_deleted   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		agent_id     UUID NOT NULL,
		record_id    UUID,
		file_name    TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		file_size    BIGINT NOT NULL DEFAULT 0,
		blob_path    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_agent_version ON attachments (agent_id, version)`,
	`CREATE TABLE IF NOT EXISTS global_entities (
		id          UUID PRIMARY KEY,
		version     BIGINT NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		category    TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_global_entities_version ON global_entities (version)`,
	`CREATE INDEX IF NOT EXISTS idx_global_entities_lookup ON global_entities (category, key)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id                 UUID PRIMARY KEY,
		version            BIGINT NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		is_deleted         BOOLEAN NOT NULL DEFAULT FALSE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		title              TEXT NOT NULL DEFAULT '',
		content            TEXT NOT NULL DEFAULT '',
		author             TEXT NOT NULL DEFAULT '',
		image_data         TEXT NOT NULL DEFAULT '',
		image_content_type TEXT NOT NULL DEFAULT '',
		published_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_items_version ON catalog_items (version)`,
	`CREATE INDEX IF NOT EXISTS idx_catalog_items_page ON catalog_items (published_at, id)`,
	`CREATE TABLE IF NOT EXISTS sync_cursors (
		id                UUID PRIMARY KEY,
		agent_id          UUID NOT NULL,
		device_id         TEXT NOT NULL,
		last_sync_version BIGINT NOT NULL DEFAULT 0,
		last_sync_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		sync_status       TEXT NOT NULL,
		UNIQUE (agent_id, device_id)
	)`,
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
