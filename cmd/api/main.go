package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/orderpay-backend/api/routes"
	"github.com/angelmondragon/orderpay-backend/internal/notifications"
	"github.com/angelmondragon/orderpay-backend/internal/orders"
	"github.com/angelmondragon/orderpay-backend/internal/products"
	"github.com/angelmondragon/orderpay-backend/internal/webhooks"
	"github.com/angelmondragon/orderpay-backend/pkg/config"
	"github.com/angelmondragon/orderpay-backend/pkg/db"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
	"github.com/angelmondragon/orderpay-backend/pkg/metrics"
	"github.com/angelmondragon/orderpay-backend/pkg/migrate"
	"github.com/angelmondragon/orderpay-backend/pkg/redis"
	"github.com/angelmondragon/orderpay-backend/pkg/resend"
	"github.com/angelmondragon/orderpay-backend/pkg/wompi"
)

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

	gateway, err := wompi.NewClient(cfg.Wompi)
	if err != nil {
		logg.Error(context.Background(), "failed to configure payment gateway", err)
		os.Exit(1)
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	emailClient := resend.NewClient(cfg.Resend.APIKey, cfg.Resend.DefaultFrom)
	notifier := notifications.NewEmailNotifier(emailClient, logg)

	productRepo := products.NewRepository(dbClient.DB())
	productsSvc := products.NewService(productRepo, logg)

	orderRepo := orders.NewRepository(dbClient.DB())
	ledger := orders.NewLedger()
	ordersSvc := orders.NewService(
		orderRepo, productRepo, gateway, dbClient, ledger,
		notifier, paymentMetrics, logg, cfg.Orders,
	)

	webhookSvc := webhooks.NewService(
		orderRepo, dbClient, ledger, notifier,
		redisClient, paymentMetrics, logg, cfg.Webhooks.IdempotencyTTL,
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, dbClient, redisClient,
			productsSvc, ordersSvc, webhookSvc, prometheus.DefaultGatherer,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
