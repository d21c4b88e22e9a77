package rest

import (
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"

	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/pkg/web"
)

// breakerState is implemented by order stores guarded by a circuit breaker.
type breakerState interface {
	State() gobreaker.State
}

type healthResponse struct {
	Status     string `json:"status"`
	OrderStore string `json:"order_store,omitempty"`
}

// HealthCheck reports whether the order store takes requests.
// It answers 503 while the store's circuit breaker is open.
func HealthCheck(orders store.OrderStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK
		if b, ok := orders.(breakerState); ok {
			state := b.State()
			resp.OrderStore = state.String()
			if state == gobreaker.StateOpen {
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
			}
		}
		web.RespondJSON(w, logger, code, resp)
	}
}
