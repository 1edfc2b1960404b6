package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	ClockBackendLocal = "local"
	ClockBackendRedis = "redis"
)

type Config struct {
	ServerPort     string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	JWTExpiry      time.Duration
	StoreBackend   string
	ClockBackend   string
	LogLevel       string
	MetricsEnabled bool
	Database       DatabaseConfig
	Sync           SyncConfig
}

type DatabaseConfig struct {
	MaxConns        int
	MinConns        int
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

type SyncConfig struct {
	DefaultPageSize     int
	MaxPageSize         int
	WalkTTL             time.Duration
	MaxRetries          int
	TrustClientVersions bool
}

func LoadConfig() (*Config, error) {
	var errs []error
	duration := func(key, def string) time.Duration {
		d, err := time.ParseDuration(getEnv(key, def))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s format", key))
		}
		return d
	}
	integer := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q is not an integer", key, v))
		}
		return n
	}
	boolean := func(key string, def bool) bool {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %q is not a boolean", key, v))
		}
		return b
	}

	cfg := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpiry:      duration("JWT_EXPIRY", "24h"),
		StoreBackend:   getEnv("STORE_BACKEND", StoreBackendPostgres),
		ClockBackend:   getEnv("CLOCK_BACKEND", ClockBackendLocal),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsEnabled: boolean("METRICS_ENABLED", true),
		Database: DatabaseConfig{
			MaxConns:        integer("DB_MAX_CONNS", 10),
			MinConns:        integer("DB_MIN_CONNS", 2),
			ConnectAttempts: integer("DB_CONNECT_ATTEMPTS", 5),
			ConnectBackoff:  duration("DB_CONNECT_BACKOFF", "1s"),
		},
		Sync: SyncConfig{
			DefaultPageSize:     integer("SYNC_DEFAULT_PAGE_SIZE", 50),
			MaxPageSize:         integer("SYNC_MAX_PAGE_SIZE", 500),
			WalkTTL:             duration("SYNC_WALK_TTL", "15m"),
			MaxRetries:          integer("SYNC_MAX_RETRIES", 3),
			TrustClientVersions: boolean("SYNC_TRUST_CLIENT_VERSIONS", true),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Validate required fields
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required")
		}
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required")
		}
	case StoreBackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", cfg.StoreBackend, StoreBackendPostgres, StoreBackendMemory)
	}
	switch cfg.ClockBackend {
	case ClockBackendLocal:
	case ClockBackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis clock")
		}
	default:
		return nil, fmt.Errorf("invalid CLOCK_BACKEND %q: want %s or %s", cfg.ClockBackend, ClockBackendLocal, ClockBackendRedis)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.Sync.DefaultPageSize <= 0 || cfg.Sync.MaxPageSize < cfg.Sync.DefaultPageSize {
		return nil, errors.New("SYNC_DEFAULT_PAGE_SIZE must be positive and at most SYNC_MAX_PAGE_SIZE")
	}
	if cfg.Database.MinConns < 0 || cfg.Database.MaxConns < 1 || cfg.Database.MinConns > cfg.Database.MaxConns {
		return nil, errors.New("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}
	if cfg.Database.ConnectAttempts < 1 {
		return nil, errors.New("DB_CONNECT_ATTEMPTS must be at least 1")
	}
	if cfg.Sync.MaxRetries < 0 {
		return nil, errors.New("SYNC_MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
