package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketplace-backend/internal/analytics"
	analyticsconsumer "github.com/angelmondragon/marketplace-backend/internal/consumers/analytics"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/instance"
	"github.com/angelmondragon/marketplace-backend/pkg/kafka"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketplace-backend/pkg/pubsub"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// receiveLoop runs until ctx is cancelled or the subscription fails.
type receiveLoop func(ctx context.Context, handle outbox.Handler) error

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	conn := dbClient.DB()
	analyticsService, err := analytics.NewService(conn, dbClient, logg)
	requireResource(ctx, logg, "analytics service", err)

	ordersService, err := orders.NewService(orders.Params{
		DB:                conn,
		Tx:                dbClient,
		Outbox:            outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:            logg,
		TaxRate:           cfg.Checkout.TaxRate,
		ShippingPerVendor: cfg.Checkout.ShippingPerVendor,
	})
	requireResource(ctx, logg, "orders service", err)

	guard, err := idempotency.NewProcessedGuard(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	requireResource(ctx, logg, "idempotency guard", err)

	consumer, err := analyticsconsumer.NewConsumer(analyticsService, ordersService, guard, logg)
	requireResource(ctx, logg, "analytics consumer", err)

	receive, closeBroker, err := newReceiveLoop(ctx, cfg, logg)
	requireResource(ctx, logg, "broker subscription", err)
	defer func() {
		if err := closeBroker(); err != nil {
			logg.Error(ctx, "failed to close broker client", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"broker":      cfg.Eventing.BrokerKind(),
		"instance":    instance.ID(),
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := receive(runCtx, consumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "analytics worker shutting down gracefully")
}

func newReceiveLoop(ctx context.Context, cfg *config.Config, logg *logger.Logger) (receiveLoop, func() error, error) {
	maxAttempts := cfg.Eventing.ConsumerMaxAttempts
	if cfg.Eventing.BrokerKind() == config.BrokerKafka {
		consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.OrdersTopic, cfg.Kafka.AnalyticsGroup, maxAttempts, logg)
		if err != nil {
			return nil, nil, err
		}
		return consumer.Receive, consumer.Close, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return nil, nil, err
	}
	subscription := cfg.PubSub.AnalyticsSubscription
	loop := func(ctx context.Context, handle outbox.Handler) error {
		return client.Receive(ctx, subscription, maxAttempts, handle)
	}
	return loop, client.Close, nil
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
