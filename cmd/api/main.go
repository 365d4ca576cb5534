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

	"github.com/angelmondragon/settlement/api/routes"
	"github.com/angelmondragon/settlement/internal/catalog"
	"github.com/angelmondragon/settlement/internal/checkout"
	"github.com/angelmondragon/settlement/internal/inventory"
	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/internal/settlement"
	"github.com/angelmondragon/settlement/internal/webhooks"
	"github.com/angelmondragon/settlement/pkg/config"
	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/metrics"
	"github.com/angelmondragon/settlement/pkg/migrate"
	"github.com/angelmondragon/settlement/pkg/outbox"
	"github.com/angelmondragon/settlement/pkg/redis"
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
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(reg)

	dbClient, err := db.New(ctx, cfg.DB, logg,
		db.WithRetryPolicy(db.NewPolicy(cfg.Store.Retry())),
		db.WithBusyHook(func(int, error) { settlementMetrics.IncStoreBusy() }),
	)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	var summaryCache *orders.SummaryCache
	var deliveryGuard *webhooks.DeliveryGuard
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		summaryCache = orders.NewSummaryCache(redisClient, cfg.Redis.SummaryTTL, logg)
		deliveryGuard, err = webhooks.NewDeliveryGuard(redisClient, cfg.Redis.SummaryTTL)
		if err != nil {
			logg.Error(ctx, "failed to create webhook guard", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "redis disabled, summary cache and webhook rate limiting are off")
	}

	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())
	productRepo := catalog.NewRepository(dbClient.DB())
	stock := inventory.NewLedger()

	coordinator, err := settlement.NewCoordinator(dbClient, ordersRepo, stock, emitter,
		settlement.WithRetryPolicy(db.NewPolicy(cfg.Commit.Retry())),
		settlement.WithSummaryCache(summaryCache),
		settlement.WithMetrics(settlementMetrics),
		settlement.WithLogger(logg),
		settlement.WithWarnMultiplier(cfg.Inventory.WarnMultiplier),
	)
	if err != nil {
		logg.Error(ctx, "failed to create settlement coordinator", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(productRepo, coordinator, logg)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, emitter,
		orders.WithSummaryCache(summaryCache),
		orders.WithMetrics(settlementMetrics),
		orders.WithLogger(logg),
	)
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	paymentService, err := webhooks.NewPaymentService(ordersService, deliveryGuard, logg)
	if err != nil {
		logg.Error(ctx, "failed to create payment webhook service", err)
		os.Exit(1)
	}

	reporter, err := inventory.NewReporter(dbClient.DB(), stock, cfg.Inventory.WarnMultiplier)
	if err != nil {
		logg.Error(ctx, "failed to create stock reporter", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"addr":   addr,
		"driver": cfg.DB.Driver,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, reg, metrics.NewHTTPMetrics(reg), dbClient, redisClient,
			productRepo, reporter, checkoutService, ordersService, paymentService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(serverCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(serverCtx, "graceful shutdown failed", err)
		}
	}
}
