package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/marketplace-backend/api/controllers/analytics"
	"github.com/angelmondragon/marketplace-backend/api/middleware"
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
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
)

// Store is the Redis surface the router needs: readiness, rate limits and
// idempotency records.
type Store interface {
	redis.Pinger
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type Services struct {
	Vendors      vendors.Service
	Products     products.Service
	Reviews      reviews.Service
	Categories   categories.Service
	Cart         cart.Service
	Reservations reservations.Service
	Wishlist     wishlist.Service
	Orders       orders.Service
	Analytics    analytics.Service
}

// NewRouter mounts health, metrics and the authenticated /api/v1 surface.
// A nil store disables rate limiting and idempotency.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store Store,
	httpMetrics *metrics.HTTPMetrics,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{"db": nil, "redis": nil}
	if dbP != nil {
		deps["db"] = dbP
	}
	if store != nil {
		deps["redis"] = store
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	r.Handle("/metrics", promhttp.Handler())

	idempotent := func(ttl time.Duration) func(http.Handler) http.Handler {
		if store == nil {
			return passthrough
		}
		return middleware.Idempotency(store, ttl, logg)
	}
	limiter := passthrough
	if store != nil {
		policy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.Limit)
		limiter = middleware.RateLimit(policy, store, logg)
	}

	customer := middleware.RequireRole(logg, enums.ActorRoleCustomer)
	seller := middleware.RequireRole(logg, enums.ActorRoleVendor, enums.ActorRoleAdmin)
	admin := middleware.RequireRole(logg, enums.ActorRoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(limiter)

		r.Route("/vendors", func(r chi.Router) {
			r.With(admin).Post("/", controllers.VendorCreate(svc.Vendors, logg))
			r.With(admin).Get("/", controllers.VendorList(svc.Vendors, logg))
			r.With(admin).Post("/search", controllers.VendorSearch(svc.Vendors, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Use(seller)
				r.Get("/", controllers.VendorGet(svc.Vendors, logg))
				r.Patch("/", controllers.VendorUpdate(svc.Vendors, logg))
				r.With(admin).Post("/verify", controllers.VendorVerify(svc.Vendors, logg))
				r.With(admin).Delete("/", controllers.VendorDelete(svc.Vendors, logg))
				r.Get("/analytics", analyticscontrollers.VendorAnalytics(svc.Analytics, logg))
				r.Post("/analytics/summary", analyticscontrollers.VendorAnalyticsSummary(svc.Analytics, logg))
				r.Post("/analytics/rollup", analyticscontrollers.VendorAnalyticsRollup(svc.Analytics, logg))
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(svc.Products, logg))
			r.Post("/search", controllers.ProductSearch(svc.Products, logg))
			r.With(seller).Post("/", controllers.ProductCreate(svc.Products, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.ProductGet(svc.Products, logg))
				r.Get("/reviews", controllers.ProductReviewList(svc.Reviews, logg))
				r.With(customer).Post("/reviews", controllers.ProductReviewCreate(svc.Reviews, logg))
				r.With(seller).Patch("/", controllers.ProductUpdate(svc.Products, logg))
				r.With(seller).Delete("/", controllers.ProductDelete(svc.Products, logg))
				r.With(seller).Put("/inventory", controllers.ProductSetInventory(svc.Products, logg))
			})
		})

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", controllers.CategoryList(svc.Categories, logg))
			r.Get("/tree", controllers.CategoryTree(svc.Categories, logg))
			r.Get("/slug/{slug}", controllers.CategoryBySlug(svc.Categories, logg))
			r.Get("/{id}", controllers.CategoryGet(svc.Categories, logg))
			r.With(admin).Post("/", controllers.CategoryCreate(svc.Categories, logg))
			r.With(admin).Patch("/{id}", controllers.CategoryUpdate(svc.Categories, logg))
			r.With(admin).Delete("/{id}", controllers.CategoryDelete(svc.Categories, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(customer)
			r.Get("/", controllers.CartGet(svc.Cart, logg))
			r.Delete("/", controllers.CartClear(svc.Cart, logg))
			r.Post("/items", controllers.CartAddItem(svc.Cart, logg))
			r.Patch("/items/{productId}", controllers.CartUpdateItem(svc.Cart, logg))
			r.Delete("/items/{productId}", controllers.CartRemoveItem(svc.Cart, logg))
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Use(customer)
			r.Get("/", controllers.ReservationList(svc.Reservations, logg))
			r.With(idempotent(middleware.DefaultIdempotencyTTL)).Post("/", controllers.ReservationCreate(svc.Reservations, logg))
			r.Delete("/{id}", controllers.ReservationRelease(svc.Reservations, logg))
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Use(customer)
			r.Get("/", controllers.WishlistGet(svc.Wishlist, logg))
			r.Post("/items", controllers.WishlistAddItems(svc.Wishlist, logg))
			r.Delete("/items/{productId}", controllers.WishlistRemoveItem(svc.Wishlist, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(svc.Orders, logg))
			r.With(customer, idempotent(middleware.CriticalIdempotencyTTL)).Post("/", controllers.OrderPlace(svc.Orders, logg))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", controllers.OrderGet(svc.Orders, logg))
				r.With(idempotent(middleware.DefaultIdempotencyTTL)).Post("/status", controllers.OrderTransition(svc.Orders, logg))
				r.With(admin, idempotent(middleware.DefaultIdempotencyTTL)).Post("/payment-status", controllers.OrderPaymentStatus(svc.Orders, logg))
				r.With(admin).Delete("/", controllers.OrderDelete(svc.Orders, logg))
			})
		})

		r.Route("/vendor-orders/{id}", func(r chi.Router) {
			r.Use(seller)
			r.Get("/", controllers.VendorOrderGet(svc.Orders, logg))
			r.With(idempotent(middleware.DefaultIdempotencyTTL)).Post("/status", controllers.VendorOrderTransition(svc.Orders, logg))
		})
	})

	return r
}

func passthrough(next http.Handler) http.Handler {
	return next
}
