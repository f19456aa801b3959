package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradewell/marketplace-backend/api/controllers"
	webhookcontrollers "github.com/tradewell/marketplace-backend/api/controllers/webhooks"
	"github.com/tradewell/marketplace-backend/api/middleware"
	"github.com/tradewell/marketplace-backend/internal/cart"
	checkoutsvc "github.com/tradewell/marketplace-backend/internal/checkout"
	"github.com/tradewell/marketplace-backend/internal/orders"
	paymentsvc "github.com/tradewell/marketplace-backend/internal/payments"
	"github.com/tradewell/marketplace-backend/pkg/config"
	"github.com/tradewell/marketplace-backend/pkg/db"
	"github.com/tradewell/marketplace-backend/pkg/logger"
	"github.com/tradewell/marketplace-backend/pkg/redis"
)

// RouterParams carry everything the HTTP surface depends on.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            *db.Client
	Redis         *redis.Client
	CartRepo      *cart.Repository
	CartValidator *cart.Validator
	Checkout      *checkoutsvc.Service
	Orders        *orders.Service
	OrdersRepo    *orders.Repository
	Payments      *paymentsvc.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(params)))
	})

	// the gateway signs webhook calls; they carry no user identity
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentWebhook(
			params.Payments,
			cfg.Gateway.WebhookSecret,
			webhookGuard(params.Redis),
			logg,
		))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identity(logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(params.CartRepo, logg))
			r.Put("/items", controllers.CartSetItem(params.CartRepo, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(params.CartRepo, logg))
			r.Get("/validate", controllers.CartValidate(params.CartValidator, logg))
		})

		r.Post("/checkout", controllers.Checkout(params.Checkout, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/{orderId}", controllers.OrderDetail(params.OrdersRepo, logg))
			r.Post("/{orderId}/status", controllers.OrderTransition(params.Orders, logg))
			r.Post("/cancel-pending", controllers.CancelMyPendingOrders(params.Orders, logg))
		})

		r.Route("/order-groups", func(r chi.Router) {
			r.Get("/", controllers.OrderGroupList(params.OrdersRepo, logg))
			r.Get("/{groupId}", controllers.OrderGroupDetail(params.OrdersRepo, logg))
			r.Post("/{groupId}/cancel", controllers.OrderGroupCancel(params.Orders, logg))
		})

		r.Route("/shops/{shopId}", func(r chi.Router) {
			r.Get("/orders", controllers.ShopOrderList(params.OrdersRepo, logg))
			r.Post("/orders/cancel-pending", controllers.CancelShopPendingOrders(params.Orders, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/initialize", controllers.PaymentInitialize(params.Payments, logg))
			r.Get("/{reference}/verify", controllers.PaymentVerify(params.Payments, logg))
		})
	})

	return r
}

func readinessDeps(params RouterParams) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if params.DB != nil {
		deps["database"] = params.DB
	}
	if params.Redis != nil {
		deps["redis"] = params.Redis
	}
	return deps
}

func webhookGuard(client *redis.Client) webhookcontrollers.IdempotencyGuard {
	if client == nil {
		return nil
	}
	return client
}
