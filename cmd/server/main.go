package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yunze7373/traffic-tool/internal/adapter/api"
	"github.com/yunze7373/traffic-tool/internal/adapter/api/middleware"
	"github.com/yunze7373/traffic-tool/internal/adapter/metrics"
	"github.com/yunze7373/traffic-tool/internal/adapter/normalize"
	"github.com/yunze7373/traffic-tool/internal/adapter/push"
	"github.com/yunze7373/traffic-tool/internal/adapter/registry"
	"github.com/yunze7373/traffic-tool/internal/adapter/repository/postgres"
	"github.com/yunze7373/traffic-tool/internal/adapter/repository/sqlite"
	"github.com/yunze7373/traffic-tool/internal/adapter/repository/wal"
	"github.com/yunze7373/traffic-tool/internal/domain"
	"github.com/yunze7373/traffic-tool/internal/pkg/config"
	"github.com/yunze7373/traffic-tool/internal/pkg/logger"
	"github.com/yunze7373/traffic-tool/internal/usecase"

	_ "github.com/lib/pq" // postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewPipelineMetrics()

	// --- Admin and Metrics Server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: adminMux,
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Durable Store ---
	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open durable store", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// --- WAL Fallback ---
	walRepo, err := wal.NewRepository(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to initialize WAL", "error", err)
		os.Exit(1)
	}
	defer walRepo.Close()

	// --- Registry, Fanout, Status ---
	reg := registry.New(logger, m.ActiveSubscribers)
	broadcaster := usecase.NewBroadcastUseCase(reg, logger, m, cfg.SendTimeout)
	aggregator := usecase.NewStatusAggregator(reg)

	// Optional Redis Stream mirror joins the registry like any subscriber.
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, stream mirror may drop until it recovers", "error", err)
		}
		defer redisClient.Close()
		reg.Add(push.NewStreamSubscriber(redisClient, cfg.RedisStream, logger))
	}

	// --- Ingestion Coordinator ---
	normalizer := normalize.NewNormalizer(logger)
	ingestUseCase := usecase.NewIngestTrafficUseCase(
		normalizer, repo, walRepo, broadcaster, aggregator, m, logger, cfg.FanoutQueueSize)

	go ingestUseCase.Run(ctx)
	go ingestUseCase.StartWALReplayer(ctx, cfg.WALReplayInterval)

	// --- API Server ---
	pushHandler := push.NewWebSocketHandler(reg, logger)
	router := api.NewRouter(cfg, logger, repo, aggregator, ingestUseCase, pushHandler)
	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           middleware.Logging(logger)(router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting api server", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.TrafficRepository, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.NewTrafficRepository(cfg.SQLitePath, logger)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required for the postgres driver")
		}
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewTrafficRepository(db, logger)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
