package app

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abgdnv/storefront/internal/config"
	"github.com/abgdnv/storefront/internal/desk"
	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/internal/transport/rest"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/server"
)

type OrderDeskDependencies struct {
	Desk     *desk.Service
	Orders   store.OrderStore
	Verifier auth.Verifier
	Metrics  http.Handler
	Logger   *slog.Logger
}

// SetupOrderDesk builds the desk service over the Postgres order store.
func SetupOrderDesk(dbPool *pgxpool.Pool, verifier auth.Verifier, cfg *config.OrderDeskConfig, metrics http.Handler, logger *slog.Logger) *OrderDeskDependencies {
	orders := store.NewBreaker(store.NewPgStore(dbPool, logger), cfg.Resilience.CircuitBreaker)
	return &OrderDeskDependencies{
		Desk:     desk.NewService(orders, cfg.Desk.AutoAccept, logger),
		Orders:   orders,
		Verifier: verifier,
		Metrics:  metrics,
		Logger:   logger,
	}
}

// SetupOrderDeskHandler builds the router with all order desk routes.
func SetupOrderDeskHandler(deps *OrderDeskDependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	rest.NewDeskHandler(deps.Desk, deps.Verifier, deps.Logger).RegisterRoutes(mux)
	mux.Get("/healthz", rest.HealthCheck(deps.Orders, deps.Logger))
	mountMetrics(mux, deps.Metrics)
	return mux
}

// SetupOrderDeskServer creates the HTTP server of the order desk.
func SetupOrderDeskServer(deps *OrderDeskDependencies, cfg *config.OrderDeskConfig) *http.Server {
	return server.NewHTTPServer(cfg.HTTPServer, "orderdesk", SetupOrderDeskHandler(deps))
}
