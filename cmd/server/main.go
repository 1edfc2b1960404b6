package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/config"
	"github.com/prudhvinik1/offlinesync/internal/database"
	"github.com/prudhvinik1/offlinesync/internal/handlers"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/repositories"
	"github.com/prudhvinik1/offlinesync/internal/services"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// backend holds the repositories of the configured store backend.
type backend struct {
	agents   repositories.AgentRepository
	store    repositories.EntityStore
	cursors  repositories.CursorRegistry
	walks    repositories.WalkRepository
	sessions repositories.SessionRepository
	presence repositories.PresenceRepository
	clock    clock.Clock
	close    func()
}

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", "err", err)
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warn("Unknown LOG_LEVEL, keeping info", "value", cfg.LogLevel)
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize store backend", "backend", cfg.StoreBackend, "err", err)
	}
	defer b.close()

	if cfg.MetricsEnabled {
		metrics.InitMetrics(prometheus.Labels{"backend": cfg.StoreBackend})
		b.store = metrics.WrapStore(b.store)
	}

	auth := services.NewAuthService(b.agents, b.sessions, cfg.JWTSecret, cfg.JWTExpiry)
	reconciler := services.NewReconciler(b.agents, b.store, b.cursors, b.walks, b.presence, b.clock, services.SyncOptions{
		DefaultPageSize:     cfg.Sync.DefaultPageSize,
		MaxPageSize:         cfg.Sync.MaxPageSize,
		MaxRetries:          cfg.Sync.MaxRetries,
		TrustClientVersions: cfg.Sync.TrustClientVersions,
	})
	h := handlers.NewHandler(
		auth,
		services.NewAgentService(b.agents, auth),
		reconciler,
		services.NewStatusService(b.agents, b.cursors, b.presence),
		services.NewContentService(b.store, b.clock),
	)

	// Start Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           h.Router(cfg.MetricsEnabled),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("Starting server", "port", cfg.ServerPort, "backend", cfg.StoreBackend, "clock", cfg.ClockBackend)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server error", "err", err)
		b.close()
		os.Exit(1)
	}
	log.Info("Server stopped gracefully")
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	var closers []func()
	b := &backend{close: func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}}

	connect := database.ConnectOptions{Attempts: cfg.Database.ConnectAttempts, Backoff: cfg.Database.ConnectBackoff}

	var redisClient *redis.Client
	if cfg.RedisURL != "" && (cfg.StoreBackend == config.StoreBackendPostgres || cfg.ClockBackend == config.ClockBackendRedis) {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, connect)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		redisClient = client
	}

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns: int32(cfg.Database.MaxConns),
			MinConns: int32(cfg.Database.MinConns),
			Connect:  connect,
		})
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := database.EnsureSchema(ctx, pool); err != nil {
			b.close()
			return nil, err
		}
		b.agents = repositories.NewPostgresAgentRepository(pool)
		b.store = repositories.NewPostgresEntityStore(pool)
		b.cursors = repositories.NewPostgresCursorRegistry(pool)
		b.walks = repositories.NewRedisWalkRepository(redisClient, cfg.Sync.WalkTTL)
		b.sessions = repositories.NewRedisSessionRepository(redisClient)
		b.presence = repositories.NewRedisPresenceRepository(redisClient)
	case config.StoreBackendMemory:
		log.Warn("Using the in-memory store backend, for development and tests only: data is lost on restart and sync rounds run one at a time")
		b.agents = repositories.NewMemoryAgentRepository()
		b.store = repositories.NewMemoryEntityStore()
		b.cursors = repositories.NewMemoryCursorRegistry()
		b.walks = repositories.NewMemoryWalkRepository(cfg.Sync.WalkTTL)
		b.sessions = repositories.NewMemorySessionRepository()
		b.presence = repositories.NewMemoryPresenceRepository()
	}

	if cfg.ClockBackend == config.ClockBackendRedis {
		b.clock = clock.NewRedisClock(redisClient)
	} else {
		b.clock = clock.NewMonotonic()
	}

	// The clock must never issue a version already stored, whatever the
	// wall clock says after a restart.
	highest, err := b.store.MaxVersion(ctx)
	if err != nil {
		b.close()
		return nil, fmt.Errorf("failed to read highest stored version: %w", err)
	}
	if err := b.clock.Observe(ctx, highest); err != nil {
		b.close()
		return nil, err
	}
	log.Info("Version clock seeded", "version", highest)
	return b, nil
}
