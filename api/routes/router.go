package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agoralabs/mercado-backend/api/controllers"
	"github.com/agoralabs/mercado-backend/api/middleware"
	cartsvc "github.com/agoralabs/mercado-backend/internal/cart"
	"github.com/agoralabs/mercado-backend/internal/catalog"
	checkoutsvc "github.com/agoralabs/mercado-backend/internal/checkout"
	"github.com/agoralabs/mercado-backend/internal/orders"
	"github.com/agoralabs/mercado-backend/pkg/config"
	"github.com/agoralabs/mercado-backend/pkg/db"
	"github.com/agoralabs/mercado-backend/pkg/enums"
	"github.com/agoralabs/mercado-backend/pkg/logger"
	pkgredis "github.com/agoralabs/mercado-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	registry *prometheus.Registry,
	offerRepo catalog.OfferRepository,
	cartService cartsvc.Service,
	checkoutService checkoutsvc.Service,
	ordersService orders.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	// A typed-nil *redis.Client must not masquerade as a live dependency.
	var idemStore pkgredis.IdempotencyStore
	var redisPinger pkgredis.Pinger
	if redisClient != nil {
		idemStore = redisClient
		redisPinger = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisPinger, logg))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Get("/offers/{offerID}", controllers.OfferDetail(offerRepo, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(cartService, logg))
			r.Post("/items", controllers.CartAddItem(cartService, logg))
			r.Put("/items/{lineItemID}", controllers.CartUpdateItem(cartService, logg))
			r.Delete("/items/{lineItemID}", controllers.CartRemoveItem(cartService, logg))
			r.Post("/coupon", controllers.CartApplyCoupon(cartService, logg))
			r.Post("/shipping", controllers.CartSetShipping(cartService, logg))
			r.Post("/payment", controllers.CartSetPayment(cartService, logg))
			r.Post("/contact", controllers.CartSetContact(cartService, logg))
			r.Post("/vat", controllers.CartSetVat(cartService, logg))
		})

		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrdersList(ordersService, logg))
			r.Get("/{orderID}", controllers.OrdersDetail(ordersService, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))
			r.Post("/orders/{orderID}/status", controllers.AdminOrdersAdvance(ordersService, logg))
		})
	})

	return r
}
