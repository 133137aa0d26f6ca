package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadline/settlement-backend/api/controllers"
	inventorycontrollers "github.com/threadline/settlement-backend/api/controllers/inventory"
	ordercontrollers "github.com/threadline/settlement-backend/api/controllers/orders"
	paymentcontrollers "github.com/threadline/settlement-backend/api/controllers/payments"
	webhookcontrollers "github.com/threadline/settlement-backend/api/controllers/webhooks"
	"github.com/threadline/settlement-backend/api/middleware"
	"github.com/threadline/settlement-backend/internal/inventory"
	"github.com/threadline/settlement-backend/internal/orders"
	"github.com/threadline/settlement-backend/internal/payments"
	squarewebhook "github.com/threadline/settlement-backend/internal/webhooks/square"
	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/logger"
	"github.com/threadline/settlement-backend/pkg/redis"
)

// redisStore is the slice of the redis client the HTTP layer depends on.
type redisStore interface {
	redis.IdempotencyStore
	redis.RateLimiter
	redis.Pinger
}

// Dependencies are the services and clients mounted on the router.
type Dependencies struct {
	DB            redis.Pinger
	Redis         redisStore
	Gatherer      prometheus.Gatherer
	Orders        orders.Service
	Payments      payments.Service
	Inventory     inventory.Service
	SquareWebhook *squarewebhook.Service
	WebhookGuard  *squarewebhook.IdempotencyGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	purchasePolicy := middleware.RateLimitPolicy{
		Name:   "purchase",
		Limit:  int64(cfg.RateLimit.PurchaseLimit),
		Window: cfg.RateLimit.PurchaseWindow,
	}
	var limiter redis.RateLimiter
	if deps.Redis != nil {
		limiter = deps.Redis
	}
	purchaseLimit := middleware.RateLimit(limiter, purchasePolicy, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readinessChecks(deps), logg))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(
			squareService(deps),
			webhookcontrollers.SquareSignature{Key: cfg.Square.WebhookSignatureKey, NotificationURL: cfg.Square.WebhookURL},
			webhookGuard(deps),
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if deps.Redis != nil {
			r.Use(middleware.Idempotency(deps.Redis, logg))
		}

		r.Post("/pricing/quote", ordercontrollers.Quote(deps.Orders, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.RoleBuyer), purchaseLimit).Post("/", ordercontrollers.Place(deps.Orders, logg))
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/{orderId}/transitions", ordercontrollers.Transition(deps.Orders, logg))
			r.Put("/{orderId}/tracking", ordercontrollers.Tracking(deps.Orders, logg))
			r.Post("/{orderId}/rating", ordercontrollers.Rate(deps.Orders, logg))
			r.With(purchaseLimit).Post("/{orderId}/payments", paymentcontrollers.Initiate(deps.Payments, logg))
			r.With(middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin)).Post("/{orderId}/refunds", paymentcontrollers.Refund(deps.Payments, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{transactionId}", paymentcontrollers.Detail(deps.Payments, logg))
			r.Post("/{transactionId}/verify", paymentcontrollers.Verify(deps.Payments, logg))
			r.With(middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin)).Post("/{transactionId}/manual-confirm", paymentcontrollers.ManualConfirm(deps.Payments, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin))
			r.Get("/", inventorycontrollers.List(deps.Inventory, logg))
			r.Post("/", inventorycontrollers.Create(deps.Inventory, logg))
			r.Get("/{itemId}", inventorycontrollers.Detail(deps.Inventory, logg))
			r.Post("/{itemId}/adjustments", inventorycontrollers.Adjust(deps.Inventory, logg))
			r.Delete("/{itemId}", inventorycontrollers.Delete(deps.Inventory, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Get("/payments/flagged", paymentcontrollers.ListFlagged(deps.Payments, logg))
		})
	})

	return r
}

func readinessChecks(deps Dependencies) map[string]controllers.Pinger {
	checks := map[string]controllers.Pinger{}
	if deps.DB != nil {
		checks["database"] = deps.DB
	}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}
	return checks
}

// squareService and webhookGuard keep a missing dependency an untyped nil.
func squareService(deps Dependencies) webhookcontrollers.SquareWebhookService {
	if deps.SquareWebhook == nil {
		return nil
	}
	return deps.SquareWebhook
}

func webhookGuard(deps Dependencies) webhookcontrollers.SquareWebhookGuard {
	if deps.WebhookGuard == nil {
		return nil
	}
	return deps.WebhookGuard
}
