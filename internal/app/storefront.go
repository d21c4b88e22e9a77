// Package app wires the storefront and order desk processes.
package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/catalog"
	"github.com/abgdnv/storefront/internal/checkout"
	"github.com/abgdnv/storefront/internal/config"
	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/internal/refstore"
	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/internal/transport/rest"
	"github.com/abgdnv/storefront/pkg/messaging"
	"github.com/abgdnv/storefront/pkg/server"
)

// StorefrontDependencies are the collaborators of one storefront device session.
type StorefrontDependencies struct {
	Cart     *cart.Cart
	Orders   store.OrderStore
	Products catalog.ProductStore
	Prices   *catalog.PriceBook
	Session  *profile.Session
	Terms    profile.Terms
	Checkout *checkout.Controller
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// StorefrontBackends are the remote systems a storefront talks to. Publisher may be nil.
type StorefrontBackends struct {
	Orders    store.OrderStore
	Products  catalog.ProductStore
	Ref       refstore.Store
	Publisher messaging.Publisher
}

// NewStorefrontBackends builds the Postgres and Redis backed stores.
// The order store is guarded by a circuit breaker.
func NewStorefrontBackends(dbPool *pgxpool.Pool, rdb redis.Cmdable, publisher messaging.Publisher, cfg *config.StorefrontConfig, logger *slog.Logger) StorefrontBackends {
	return StorefrontBackends{
		Orders:    store.NewBreaker(store.NewPgStore(dbPool, logger), cfg.Resilience.CircuitBreaker),
		Products:  catalog.NewPgStore(dbPool),
		Ref:       refstore.NewRedis(rdb, cfg.Checkout.DeviceID),
		Publisher: publisher,
	}
}

// SetupStorefront creates the session state and the order lifecycle controller.
func SetupStorefront(backends StorefrontBackends, cfg *config.StorefrontConfig, metrics http.Handler, logger *slog.Logger) *StorefrontDependencies {
	prices := catalog.NewPriceBook()
	c := cart.New(prices)
	session := profile.NewSession(cfg.User)
	terms := cfg.Terms.Terms()
	ctrl := checkout.New(checkout.Deps{
		Cart:      c,
		Orders:    backends.Orders,
		Ref:       backends.Ref,
		Profile:   session,
		Terms:     terms,
		Publisher: backends.Publisher,
		Logger:    logger,
	}, checkout.WithReconnect(cfg.Resilience.Reconnect))

	return &StorefrontDependencies{
		Cart:     c,
		Orders:   backends.Orders,
		Products: backends.Products,
		Prices:   prices,
		Session:  session,
		Terms:    terms,
		Checkout: ctrl,
		Metrics:  metrics,
		Logger:   logger,
	}
}

// SetupStorefrontHandler builds the router with all storefront routes.
// Used by tests to exercise the HTTP surface without a listener.
func SetupStorefrontHandler(deps *StorefrontDependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	rest.NewStorefrontHandler(deps.Cart, deps.Products, deps.Session, deps.Terms, deps.Checkout, deps.Logger).RegisterRoutes(mux)
	mux.Get("/healthz", rest.HealthCheck(deps.Orders, deps.Logger))
	mountMetrics(mux, deps.Metrics)
	return mux
}

// SetupStorefrontServer creates the HTTP server of the storefront.
func SetupStorefrontServer(deps *StorefrontDependencies, cfg *config.StorefrontConfig) *http.Server {
	return server.NewHTTPServer(cfg.HTTPServer, "storefront", SetupStorefrontHandler(deps))
}

func mountMetrics(mux *chi.Mux, metrics http.Handler) {
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
}
