package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the redis instance that backs sessions and walks.
func NewRedisClient(ctx context.Context, redisURL string, connect ConnectOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := waitFor(ctx, "redis", connect, ping); err != nil {
		client.Close()
		return nil, err
	}

	log.Info("Redis client ready", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}
