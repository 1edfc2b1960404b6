package database

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// PoolOptions sizes the connection pool behind the entity store. The
// reconciler holds one connection for the length of a merge transaction.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	Connect  ConnectOptions
}

func NewPostgresPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing postgres config: %w", err)
	}

	config.MaxConns = opts.MaxConns
	config.MinConns = opts.MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres pool: %w", err)
	}

	if err := waitFor(ctx, "postgres", opts.Connect, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("Postgres pool ready", "host", config.ConnConfig.Host, "db", config.ConnConfig.Database, "maxConns", opts.MaxConns)
	return pool, nil
}
