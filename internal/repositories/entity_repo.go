package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/offlinesync/internal/models"
)

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const metaColumns = `id, version, updated_at, is_deleted, created_at`

// entitySchema maps one entity kind onto its table. columns lists the
// mutable payload columns in the order fields and values return them.
type entitySchema[T models.Syncable] struct {
	table       string
	columns     []string
	agentScoped bool
	newEntity   func() T
	fields      func(e T) []any
	values      func(e T) []any
}

func (s *entitySchema[T]) selectList() string {
	return metaColumns + ", " + strings.Join(s.columns, ", ")
}

func (s *entitySchema[T]) scan(row pgx.Row) (T, error) {
	e := s.newEntity()
	m := e.Meta()
	dest := append([]any{&m.ID, &m.Version, &m.UpdatedAt, &m.IsDeleted, &m.CreatedAt}, s.fields(e)...)
	if err := row.Scan(dest...); err != nil {
		var zero T
		return zero, err
	}
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	return e, nil
}

var ownedRecordSchema = &entitySchema[*models.OwnedRecord]{
	table:       "owned_records",
	columns:     []string{"agent_id", "title", "description", "data"},
	agentScoped: true,
	newEntity:   func() *models.OwnedRecord { return &models.OwnedRecord{} },
	fields: func(e *models.OwnedRecord) []any {
		return []any{&e.AgentID, &e.Title, &e.Description, &e.Data}
	},
	values: func(e *models.OwnedRecord) []any {
		return []any{e.AgentID, e.Title, e.Description, e.Data}
	},
}

var attachmentSchema = &entitySchema[*models.Attachment]{
	table:       "attachments",
	columns:     []string{"agent_id", "record_id", "file_name", "content_type", "file_size", "blob_path"},
	agentScoped: true,
	newEntity:   func() *models.Attachment { return &models.Attachment{} },
	fields: func(e *models.Attachment) []any {
		return []any{&e.AgentID, &e.RecordID, &e.FileName, &e.ContentType, &e.FileSize, &e.BlobPath}
	},
	values: func(e *models.Attachment) []any {
		return []any{e.AgentID, e.RecordID, e.FileName, e.ContentType, e.FileSize, e.BlobPath}
	},
}

var globalEntitySchema = &entitySchema[*models.GlobalEntity]{
	table:     "global_entities",
	columns:   []string{"category", "key", "value", "description"},
	newEntity: func() *models.GlobalEntity { return &models.GlobalEntity{} },
	fields: func(e *models.GlobalEntity) []any {
		return []any{&e.Category, &e.Key, &e.Value, &e.Description}
	},
	values: func(e *models.GlobalEntity) []any {
		return []any{e.Category, e.Key, e.Value, e.Description}
	},
}

var catalogItemSchema = &entitySchema[*models.CatalogItem]{
	table:     "catalog_items",
	columns:   []string{"title", "content", "author", "image_data", "image_content_type", "published_at"},
	newEntity: func() *models.CatalogItem { return &models.CatalogItem{} },
	fields: func(e *models.CatalogItem) []any {
		return []any{&e.Title, &e.Content, &e.Author, &e.ImageData, &e.ImageContentType, &e.PublishedAt}
	},
	values: func(e *models.CatalogItem) []any {
		return []any{e.Title, e.Content, e.Author, e.ImageData, e.ImageContentType, e.PublishedAt}
	},
}

// pgTable implements EntityTable for one kind on top of a querier.
type pgTable[T models.Syncable] struct {
	q      querier
	schema *entitySchema[T]
}

func (t *pgTable[T]) GetForUpdate(ctx context.Context, id uuid.UUID) (T, error) {
	query := `SELECT ` + t.schema.selectList() + ` FROM ` + t.schema.table + ` WHERE id = $1 FOR UPDATE`

	e, err := t.schema.scan(t.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("failed to get %s: %w", t.schema.table, err)
	}
	return e, nil
}

// Insert relies on ON CONFLICT DO NOTHING so a concurrent insert of the same
// id reports false instead of failing the transaction.
func (t *pgTable[T]) Insert(ctx context.Context, entity T) (bool, error) {
	m := entity.Meta()
	cols := t.schema.columns
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+5)
	}
	query := `INSERT INTO ` + t.schema.table + ` (id, version, updated_at, is_deleted, created_at, ` + strings.Join(cols, ", ") + `)
	          VALUES ($1, $2, $3, $4, NOW(), ` + strings.Join(placeholders, ", ") + `)
	          ON CONFLICT (id) DO NOTHING
	          RETURNING created_at`

	args := append([]any{m.ID, m.Version, m.UpdatedAt, m.IsDeleted}, t.schema.values(entity)...)
	err := t.q.QueryRow(ctx, query, args...).Scan(&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert into %s: %w", t.schema.table, err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return true, nil
}

func (t *pgTable[T]) Update(ctx context.Context, entity T) error {
	m := entity.Meta()
	cols := t.schema.columns
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+5)
	}
	query := `UPDATE ` + t.schema.table + `
	          SET version = $2, updated_at = $3, is_deleted = $4, ` + strings.Join(sets, ", ") + `
	          WHERE id = $1`

	args := append([]any{m.ID, m.Version, m.UpdatedAt, m.IsDeleted}, t.schema.values(entity)...)
	result, err := t.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", t.schema.table, err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// where builds the version range predicate of filter, starting at
// placeholder $1.
func (t *pgTable[T]) where(filter ChangeFilter) (string, []any) {
	conds := []string{"version > $1"}
	args := []any{filter.After}
	if filter.Ceiling > 0 {
		args = append(args, filter.Ceiling)
		conds = append(conds, fmt.Sprintf("version <= $%d", len(args)))
	}
	if t.schema.agentScoped && filter.AgentID != uuid.Nil {
		args = append(args, filter.AgentID)
		conds = append(conds, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func (t *pgTable[T]) ChangedSince(ctx context.Context, filter ChangeFilter) ([]T, error) {
	where, args := t.where(filter)
	query := `SELECT ` + t.schema.selectList() + ` FROM ` + t.schema.table + ` WHERE ` + where + ` ORDER BY version, id`
	return t.list(ctx, query, args...)
}

func (t *pgTable[T]) list(ctx context.Context, query string, args ...any) ([]T, error) {
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.schema.table, err)
	}
	defer rows.Close()

	var entities []T
	for rows.Next() {
		e, err := t.schema.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.schema.table, err)
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", t.schema.table, err)
	}
	return entities, nil
}

type pgCatalogTable struct {
	pgTable[*models.CatalogItem]
}

func (t *pgCatalogTable) CountChanged(ctx context.Context, filter ChangeFilter) (int, error) {
	where, args := t.where(filter)
	query := `SELECT COUNT(*) FROM catalog_items WHERE ` + where

	var count int
	if err := t.q.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count catalog items: %w", err)
	}
	return count, nil
}

func (t *pgCatalogTable) PageChanged(ctx context.Context, filter ChangeFilter, after *models.CatalogKey, limit int) ([]*models.CatalogItem, error) {
	where, args := t.where(filter)
	if after != nil {
		args = append(args, after.PublishedAt, after.ID)
		where += fmt.Sprintf(" AND (published_at, id) > ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)
	query := `SELECT ` + t.schema.selectList() + ` FROM catalog_items WHERE ` + where +
		fmt.Sprintf(` ORDER BY published_at, id LIMIT $%d`, len(args))

	items, err := t.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item.PublishedAt = item.PublishedAt.UTC()
	}
	return items, nil
}

type pgEntityTx struct {
	tx pgx.Tx
}

func (t *pgEntityTx) OwnedRecords() EntityTable[*models.OwnedRecord] {
	return &pgTable[*models.OwnedRecord]{q: t.tx, schema: ownedRecordSchema}
}

func (t *pgEntityTx) Attachments() EntityTable[*models.Attachment] {
	return &pgTable[*models.Attachment]{q: t.tx, schema: attachmentSchema}
}

func (t *pgEntityTx) GlobalEntities() EntityTable[*models.GlobalEntity] {
	return &pgTable[*models.GlobalEntity]{q: t.tx, schema: globalEntitySchema}
}

func (t *pgEntityTx) CatalogItems() CatalogTable {
	return &pgCatalogTable{pgTable[*models.CatalogItem]{q: t.tx, schema: catalogItemSchema}}
}

type PostgresEntityStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEntityStore(pool *pgxpool.Pool) *PostgresEntityStore {
	return &PostgresEntityStore{pool: pool}
}

func (s *PostgresEntityStore) WithTx(ctx context.Context, fn func(tx EntityTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyTxError(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgEntityTx{tx: tx}); err != nil {
		return classifyTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyTxError(err))
	}
	return nil
}

func (s *PostgresEntityStore) MaxVersion(ctx context.Context) (int64, error) {
	query := `SELECT GREATEST(
	              (SELECT COALESCE(MAX(version), 0) FROM owned_records),
	              (SELECT COALESCE(MAX(version), 0) FROM attachments),
	              (SELECT COALESCE(MAX(version), 0) FROM global_entities),
	              (SELECT COALESCE(MAX(version), 0) FROM catalog_items))`

	var version int64
	if err := s.pool.QueryRow(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return version, nil
}

// FindGlobal returns the newest live entity when several share the pair.
func (s *PostgresEntityStore) FindGlobal(ctx context.Context, category, key string) (*models.GlobalEntity, error) {
	query := `SELECT ` + globalEntitySchema.selectList() + `
	          FROM global_entities
	          WHERE category = $1 AND key = $2 AND NOT is_deleted
	          ORDER BY version DESC
	          LIMIT 1`

	entity, err := globalEntitySchema.scan(s.pool.QueryRow(ctx, query, category, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global entity: %w", err)
	}
	return entity, nil
}

func (s *PostgresEntityStore) ListAttachments(ctx context.Context, agentID uuid.UUID) ([]*models.Attachment, error) {
	t := &pgTable[*models.Attachment]{q: s.pool, schema: attachmentSchema}
	query := `SELECT ` + attachmentSchema.selectList() + `
	          FROM attachments
	          WHERE agent_id = $1 AND NOT is_deleted
	          ORDER BY created_at, id`
	return t.list(ctx, query, agentID)
}
