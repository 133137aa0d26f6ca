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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/threadline/settlement-backend/api/routes"
	"github.com/threadline/settlement-backend/internal/inventory"
	"github.com/threadline/settlement-backend/internal/listings"
	"github.com/threadline/settlement-backend/internal/orders"
	"github.com/threadline/settlement-backend/internal/payments"
	"github.com/threadline/settlement-backend/internal/pricing"
	"github.com/threadline/settlement-backend/internal/risk"
	squarewebhook "github.com/threadline/settlement-backend/internal/webhooks/square"
	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/db"
	"github.com/threadline/settlement-backend/pkg/instance"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/metrics"
	"github.com/threadline/settlement-backend/pkg/migrate"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/redis"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	deps, err := buildDependencies(context.Background(), cfg, logg, dbClient, redisClient, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire settlement services", err)
		os.Exit(1)
	}
	deps.Gatherer = registry

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

func buildDependencies(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, m *metrics.SettlementMetrics) (routes.Dependencies, error) {
	gormDB := dbClient.DB()
	events := outbox.NewService(outbox.NewRepository(gormDB), logg)

	catalog, err := listings.NewService(listings.NewRepository(gormDB))
	if err != nil {
		return routes.Dependencies{}, err
	}
	inventoryService, err := inventory.NewService(inventory.NewRepository(gormDB), dbClient, events, m, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	pricingEngine, err := pricing.NewEngine(cfg.Pricing, inventoryService)
	if err != nil {
		return routes.Dependencies{}, err
	}
	gate, err := risk.NewGate(
		risk.NewRepository(gormDB),
		risk.NewEvaluator(risk.PolicyFromConfig(cfg.Risk), time.Now),
		dbClient, events, m, logg,
	)
	if err != nil {
		return routes.Dependencies{}, err
	}
	gateways, err := payments.GatewaysFromConfig(ctx, cfg, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	paymentService, err := payments.NewService(
		payments.NewRepository(gormDB), dbClient, gateways, gate, events, m, logg,
		payments.OptionsFromConfig(cfg.Payments),
	)
	if err != nil {
		return routes.Dependencies{}, err
	}
	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:      orders.NewRepository(gormDB),
		Tx:        dbClient,
		Catalog:   catalog,
		Pricing:   pricingEngine,
		Inventory: inventoryService,
		Risk:      gate,
		Payments:  paymentService,
		Outbox:    events,
		Metrics:   m,
		Logger:    logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	webhookService, err := squarewebhook.NewService(paymentService, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	guard, err := squarewebhook.NewIdempotencyGuard(redisClient, cfg.Payments.WebhookIdempotency, "square-webhook")
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		Orders:        orderService,
		Payments:      paymentService,
		Inventory:     inventoryService,
		SquareWebhook: webhookService,
		WebhookGuard:  guard,
	}, nil
}
