package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv clears every variable LoadConfig reads and applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "JWT_EXPIRY",
		"STORE_BACKEND", "CLOCK_BACKEND", "LOG_LEVEL", "METRICS_ENABLED",
		"SYNC_DEFAULT_PAGE_SIZE", "SYNC_MAX_PAGE_SIZE", "SYNC_WALK_TTL",
		"SYNC_MAX_RETRIES", "SYNC_TRUST_CLIENT_VERSIONS",
		"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONNECT_ATTEMPTS", "DB_CONNECT_BACKOFF",
	} {
		t.Setenv(key, vars[key])
	}
}

// TestLoadConfig_Defaults tests the defaults of a minimal postgres setup
func TestLoadConfig_Defaults(t *testing.T) {
	setEnv(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/offlinesync",
		"REDIS_URL":    "redis://localhost:6379",
		"JWT_SECRET":   "secret",
	})

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, ClockBackendLocal, cfg.ClockBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, SyncConfig{
		DefaultPageSize:     50,
		MaxPageSize:         500,
		WalkTTL:             15 * time.Minute,
		MaxRetries:          3,
		TrustClientVersions: true,
	}, cfg.Sync)
	assert.Equal(t, DatabaseConfig{
		MaxConns:        10,
		MinConns:        2,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
	}, cfg.Database)
}

// TestLoadConfig_MemoryBackend tests that the memory backend needs no URLs
func TestLoadConfig_MemoryBackend(t *testing.T) {
	setEnv(t, map[string]string{
		"STORE_BACKEND":              "memory",
		"JWT_SECRET":                 "secret",
		"SYNC_DEFAULT_PAGE_SIZE":     "10",
		"SYNC_TRUST_CLIENT_VERSIONS": "false",
		"METRICS_ENABLED":            "false",
	})

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 10, cfg.Sync.DefaultPageSize)
	assert.False(t, cfg.Sync.TrustClientVersions)
	assert.False(t, cfg.MetricsEnabled)
}

// TestLoadConfig_Invalid tests validation failures
func TestLoadConfig_Invalid(t *testing.T) {
	base := map[string]string{"STORE_BACKEND": "memory", "JWT_SECRET": "secret"}
	with := func(key, value string) map[string]string {
		vars := map[string]string{}
		for k, v := range base {
			vars[k] = v
		}
		vars[key] = value
		return vars
	}

	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{"missing secret", with("JWT_SECRET", ""), "JWT_SECRET is required"},
		{"postgres without database", with("STORE_BACKEND", "postgres"), "DATABASE_URL is required"},
		{"unknown backend", with("STORE_BACKEND", "mysql"), "invalid STORE_BACKEND"},
		{"redis clock without redis", with("CLOCK_BACKEND", "redis"), "REDIS_URL is required"},
		{"bad expiry", with("JWT_EXPIRY", "tomorrow"), "invalid JWT_EXPIRY format"},
		{"bad page size", with("SYNC_DEFAULT_PAGE_SIZE", "many"), "invalid SYNC_DEFAULT_PAGE_SIZE"},
		{"page size above max", with("SYNC_DEFAULT_PAGE_SIZE", "1000"), "SYNC_DEFAULT_PAGE_SIZE must be positive"},
		{"bad bool", with("METRICS_ENABLED", "sometimes"), "invalid METRICS_ENABLED"},
		{"min conns above max", with("DB_MIN_CONNS", "20"), "DB_MIN_CONNS must be between"},
		{"no connect attempts", with("DB_CONNECT_ATTEMPTS", "0"), "DB_CONNECT_ATTEMPTS must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.vars)

			_, err := LoadConfig()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
