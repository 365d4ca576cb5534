package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/settlement/api/controllers"
	ordercontrollers "github.com/angelmondragon/settlement/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/settlement/api/controllers/webhooks"
	"github.com/angelmondragon/settlement/api/middleware"
	"github.com/angelmondragon/settlement/internal/catalog"
	"github.com/angelmondragon/settlement/internal/checkout"
	"github.com/angelmondragon/settlement/internal/inventory"
	"github.com/angelmondragon/settlement/internal/orders"
	"github.com/angelmondragon/settlement/internal/webhooks"
	"github.com/angelmondragon/settlement/pkg/config"
	"github.com/angelmondragon/settlement/pkg/db"
	"github.com/angelmondragon/settlement/pkg/logger"
	"github.com/angelmondragon/settlement/pkg/metrics"
	"github.com/angelmondragon/settlement/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTPMetrics,
	dbP db.Pinger,
	redisClient *redis.Client,
	productRepo *catalog.Repository,
	stockReporter *inventory.Reporter,
	checkoutService checkout.Service,
	ordersService orders.Service,
	paymentService *webhooks.PaymentService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
	)

	deps := map[string]controllers.Pinger{"db": dbP}
	webhookLimit := func(next http.Handler) http.Handler { return next }
	if redisClient != nil {
		deps["redis"] = redisClient
		webhookLimit = middleware.RateLimit(
			middleware.NewRateLimitPolicy("payment_webhooks", cfg.Redis.WebhookRateWindow, cfg.Redis.WebhookRateLimit),
			redisClient,
			logg,
		)
	}

	ready := controllers.HealthReady(cfg, logg, deps)
	r.Get("/healthz", ready)
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", ready)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", controllers.ProductList(productRepo, logg))
		r.Get("/inventory/low-stock", controllers.LowStock(stockReporter, logg))
		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(ordersService, logg))
			r.Get("/{orderID}", ordercontrollers.Detail(ordersService, logg))
			r.Post("/{orderID}/cancel", ordercontrollers.Cancel(ordersService, logg))
		})

		r.With(webhookLimit).Post("/webhooks/payments", webhookcontrollers.PaymentWebhook(paymentService, logg))
	})

	return r
}
