package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orderpay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/orderpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderpay-backend/api/middleware"
	"github.com/angelmondragon/orderpay-backend/internal/orders"
	"github.com/angelmondragon/orderpay-backend/internal/products"
	"github.com/angelmondragon/orderpay-backend/internal/webhooks"
	"github.com/angelmondragon/orderpay-backend/pkg/config"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	productsSvc *products.Service,
	ordersSvc *orders.Service,
	webhookSvc *webhooks.Service,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(productsSvc, logg))
			r.Get("/{productId}", controllers.ProductDetail(productsSvc, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderCreate(ordersSvc, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersSvc, logg))
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/wompi", webhookcontrollers.WompiWebhook(webhookSvc, logg))
		})
	})

	return r
}
