package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/cache"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/monitor"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/repository/memory"
	"github.com/stemsi/exstem-attempts/internal/repository/sqlite"
	"github.com/stemsi/exstem-attempts/internal/router"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	"github.com/stemsi/exstem-attempts/internal/worker"
)

// storage is the set of backends selected by DB_DRIVER.
type storage struct {
	catalog  service.ExamCatalog
	attempts service.AttemptStore
	writer   database.CatalogWriter
	close    func()
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("db_driver", cfg.DBDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Storage ──────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	// ─── Seed Catalog ──────────────────────────────────────────────────
	if cfg.CatalogSeedFile != "" {
		n, err := database.LoadCatalogSeed(ctx, cfg.CatalogSeedFile, store.writer, log)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.CatalogSeedFile).Msg("Failed to seed catalog")
		}
		log.Info().Int("exams", n).Msg("Catalog seeded")
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	catalog := store.catalog
	var (
		feed         monitor.Feed = monitor.NewLocalFeed(log)
		catalogCache handler.CatalogCache
	)
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()

		cached := cache.NewCatalog(store.catalog, rdb, cfg.CatalogCacheTTL, log)
		catalog, catalogCache = cached, cached
		feed = monitor.NewRedisFeed(rdb, log)

		// Load active exams BEFORE accepting traffic so the first
		// wave of starts does not stampede the catalog.
		if err := cached.Prewarm(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	attemptService := service.NewAttemptService(
		catalog,
		store.attempts,
		feed,
		service.NewOrderAssigner(service.PCGSource(rand.Uint64()), nil, log),
		service.NewTimeKeeper(nil),
		service.RetryPolicy{MaxAttempts: cfg.StoreRetryAttempts, Backoff: service.DefaultRetryPolicy.Backoff},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(attemptService, log),
		Exam:          handler.NewExamHandler(attemptService, catalogCache, log),
		Monitor:       handler.NewMonitorHandler(attemptService, feed, log),
		WS:            handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	expiryWorker := worker.NewExpiryWorker(attemptService, cfg.ExpirySweepInterval, log)
	go func() {
		expiryWorker.Start(workerCtx)
		close(workerDone)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the sweeper and wait for an in-flight sweep to finish.
	workerCancel()
	<-workerDone

	log.Info().Msg("Shutdown complete")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		exams := repository.NewExamRepository(pool)
		return &storage{
			catalog:  exams,
			attempts: repository.NewAttemptRepository(pool),
			writer:   exams,
			close:    pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dsn", cfg.SQLiteDSN).Msg("SQLite opened")
		return &storage{
			catalog:  db,
			attempts: db,
			writer:   db,
			close:    func() { _ = db.Close() },
		}, nil

	case config.DriverMemory:
		log.Warn().Msg("Using in-memory storage: attempts are lost on restart")
		catalog := memory.NewCatalog()
		return &storage{
			catalog:  catalog,
			attempts: memory.NewStore(),
			writer:   catalog,
			close:    func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
