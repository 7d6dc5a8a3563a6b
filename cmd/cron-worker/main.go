package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/internal/analytics"
	"github.com/angelmondragon/marketplace-backend/internal/cron"
	"github.com/angelmondragon/marketplace-backend/internal/reservations"
	"github.com/angelmondragon/marketplace-backend/internal/vendors"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/instance"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// The analytics rollup covers the previous UTC day.
const (
	analyticsRollupSchedule = "@daily"
	outboxRetentionSchedule = "@hourly"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		RunOnStart: true,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
		"jobs":        len(registry.Entries()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, dbClient *db.Client, logg *logger.Logger) (*cron.Registry, error) {
	conn := dbClient.DB()
	outboxRepo := outbox.NewRepository(conn)
	registry := cron.NewRegistry()

	if cfg.Cron.ReservationSweepEnabled {
		reservationSvc, err := reservations.NewService(reservations.Params{
			DB:         conn,
			Tx:         dbClient,
			Outbox:     outbox.NewService(outboxRepo, logg),
			Logger:     logg,
			DefaultTTL: cfg.Reservation.DefaultTTL,
			SweepBatch: cfg.Reservation.SweepBatchSize,
		})
		if err != nil {
			return nil, err
		}
		job, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
			Logger:    logg,
			Sweeper:   reservationSvc,
			BatchSize: cfg.Reservation.SweepBatchSize,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(cfg.Cron.Schedule, job)
	}

	if cfg.Cron.AnalyticsRollupEnabled {
		vendorSvc, err := vendors.NewService(conn, dbClient, logg)
		if err != nil {
			return nil, err
		}
		analyticsSvc, err := analytics.NewService(conn, dbClient, logg)
		if err != nil {
			return nil, err
		}
		job, err := cron.NewVendorAnalyticsRollupJob(cron.VendorAnalyticsRollupJobParams{
			Logger:    logg,
			Vendors:   vendorSvc,
			Analytics: analyticsSvc,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(analyticsRollupSchedule, job)
	}

	if cfg.Cron.OutboxRetentionEnabled {
		job, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
			Logger:     logg,
			DB:         dbClient,
			Repository: outboxRepo,
			Retention:  cfg.Outbox.Retention,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(outboxRetentionSchedule, job)
	}

	return registry, nil
}
