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

const agentColumns = `id, name, email, password_hash, is_active, created_at, updated_at`

type PostgresAgentRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresAgentRepository(pool *pgxpool.Pool) *PostgresAgentRepository {
	return &PostgresAgentRepository{pool: pool}
}

func (r *PostgresAgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	query := `INSERT INTO agents (id, name, email, password_hash, is_active)
	          VALUES ($1, $2, $3, $4, TRUE)
	          RETURNING is_active, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, agent.ID, agent.Name, agent.Email, agent.PasswordHash).
		Scan(&agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailExists
	}
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (r *PostgresAgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresAgentRepository) GetByEmail(ctx context.Context, email string) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE email = $1`
	return r.getOne(ctx, query, email)
}

func (r *PostgresAgentRepository) getOne(ctx context.Context, query string, arg any) (*models.Agent, error) {
	var agent models.Agent
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&agent.ID, &agent.Name, &agent.Email, &agent.PasswordHash,
		&agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

func (r *PostgresAgentRepository) ListActive(ctx context.Context) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE is_active ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var agent models.Agent
		if err := rows.Scan(
			&agent.ID, &agent.Name, &agent.Email, &agent.PasswordHash,
			&agent.IsActive, &agent.CreatedAt, &agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func (r *PostgresAgentRepository) Update(ctx context.Context, agent *models.Agent) error {
	query := `UPDATE agents SET name = $1, password_hash = $2, updated_at = NOW()
	          WHERE id = $3
	          RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query, agent.Name, agent.PasswordHash, agent.ID).Scan(&agent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return nil
}

// Deactivate soft-deletes an agent. Its data stays in place but it can no
// longer sync.
func (r *PostgresAgentRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE agents SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate agent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
