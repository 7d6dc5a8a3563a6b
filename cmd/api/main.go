package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-backend/api/routes"
	"github.com/angelmondragon/marketplace-backend/internal/analytics"
	"github.com/angelmondragon/marketplace-backend/internal/cart"
	"github.com/angelmondragon/marketplace-backend/internal/categories"
	"github.com/angelmondragon/marketplace-backend/internal/orders"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/reservations"
	"github.com/angelmondragon/marketplace-backend/internal/reviews"
	"github.com/angelmondragon/marketplace-backend/internal/vendors"
	"github.com/angelmondragon/marketplace-backend/internal/wishlist"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/instance"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	services, err := buildServices(cfg, dbClient, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, metrics.NewHTTPMetrics(prometheus.DefaultRegisterer), services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}

func buildServices(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client, logg *logger.Logger) (routes.Services, error) {
	conn := dbClient.DB()
	events := outbox.NewService(outbox.NewRepository(conn), logg)

	var (
		s   routes.Services
		err error
	)
	if s.Vendors, err = vendors.NewService(conn, dbClient, logg); err != nil {
		return s, err
	}
	if s.Products, err = products.NewService(conn, dbClient, events, logg); err != nil {
		return s, err
	}
	if s.Reviews, err = reviews.NewService(conn, dbClient, logg); err != nil {
		return s, err
	}
	if s.Categories, err = categories.NewService(categories.Params{
		DB:      conn,
		Tx:      dbClient,
		Cache:   redisClient,
		TreeTTL: cfg.Cache.CategoryTreeTTL,
		Logger:  logg,
	}); err != nil {
		return s, err
	}
	if s.Cart, err = cart.NewService(conn, dbClient, logg); err != nil {
		return s, err
	}
	if s.Reservations, err = reservations.NewService(reservations.Params{
		DB:         conn,
		Tx:         dbClient,
		Outbox:     events,
		Logger:     logg,
		DefaultTTL: cfg.Reservation.DefaultTTL,
		SweepBatch: cfg.Reservation.SweepBatchSize,
	}); err != nil {
		return s, err
	}
	if s.Wishlist, err = wishlist.NewService(conn, dbClient, logg); err != nil {
		return s, err
	}
	if s.Orders, err = orders.NewService(orders.Params{
		DB:                conn,
		Tx:                dbClient,
		Outbox:            events,
		Logger:            logg,
		TaxRate:           cfg.Checkout.TaxRate,
		ShippingPerVendor: cfg.Checkout.ShippingPerVendor,
	}); err != nil {
		return s, err
	}
	if s.Analytics, err = analytics.NewService(conn, dbClient, logg); err != nil {
		return s, err
	}
	return s, nil
}
