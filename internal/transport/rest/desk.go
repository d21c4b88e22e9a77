package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"

	"github.com/abgdnv/storefront/internal/desk"
	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/web"
)

type decisionRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// DeskHandler serves the order desk API to authenticated operators.
type DeskHandler struct {
	desk     desk.OrderDesk
	verifier auth.Verifier
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDeskHandler creates a new instance of DeskHandler.
func NewDeskHandler(d desk.OrderDesk, verifier auth.Verifier, logger *slog.Logger) *DeskHandler {
	return &DeskHandler{
		desk:     d,
		verifier: verifier,
		validate: validator.New(),
		logger:   logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the HTTP routes for the order desk.
func (h *DeskHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(web.BearerAuth(h.verifier))
		r.Route("/api/v1/orders", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/pending", h.ListPending)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.FindByID)
				r.Delete("/", h.Delete)
				r.Post("/accept", h.Accept)
				r.Post("/reject", h.Reject)
			})
		})
	})
}

// List returns orders filtered by the optional status query parameter.
func (h *DeskHandler) List(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var status order.Status
	if v := r.URL.Query().Get("status"); v != "" {
		parsed, err := order.ParseStatus(v)
		if err != nil {
			web.RespondError(w, mLogger, http.StatusBadRequest, fmt.Sprintf("Invalid status: %s", v))
			return
		}
		status = parsed
	}
	h.respondPage(w, r, mLogger, func(ctx context.Context, offset, limit int32) ([]order.Order, error) {
		return h.desk.List(ctx, status, offset, limit)
	})
}

// ListPending returns the orders waiting for a decision.
func (h *DeskHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.respondPage(w, r, h.loggerWithReqID(r), h.desk.Pending)
}

func (h *DeskHandler) respondPage(w http.ResponseWriter, r *http.Request, mLogger *slog.Logger, listFn func(ctx context.Context, offset, limit int32) ([]order.Order, error)) {
	offset, ok := web.QueryIntGte(r, w, mLogger, "offset", 0, 0)
	if !ok {
		return
	}
	limit, ok := web.QueryIntBetween(r, w, mLogger, "limit", 1, 100, 20)
	if !ok {
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to list orders", "path", r.URL.Path, "offset", offset, "limit", limit)
	list, err := listFn(r.Context(), offset, limit)
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error retrieving order list", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to fetch orders")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, list)
}

func (h *DeskHandler) FindByID(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	found, err := h.desk.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, mLogger, id, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, found)
}

func (h *DeskHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.desk.Accept)
}

func (h *DeskHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.desk.Reject)
}

func (h *DeskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	if err := h.desk.Delete(r.Context(), id); err != nil {
		h.respondError(w, r, mLogger, id, err)
		return
	}
	subject, _ := web.Subject(r.Context())
	mLogger.InfoContext(r.Context(), "Order deleted", "ID", id, "operator", subject)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeskHandler) decide(w http.ResponseWriter, r *http.Request, decideFn func(ctx context.Context, id, notes string) (*order.Order, error)) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &req) {
		return
	}
	decided, err := decideFn(r.Context(), id, req.Notes)
	if err != nil {
		h.respondError(w, r, mLogger, id, err)
		return
	}
	subject, _ := web.Subject(r.Context())
	mLogger.InfoContext(r.Context(), "Order decided", "ID", id, "status", decided.Status, "operator", subject)
	web.RespondJSON(w, mLogger, http.StatusOK, decided)
}

func (h *DeskHandler) respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, id string, err error) {
	switch {
	case errors.Is(err, storeerrors.ErrOrderNotFound):
		logger.WarnContext(r.Context(), "Order not found", "ID", id)
		web.RespondError(w, logger, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", id))
	case errors.Is(err, storeerrors.ErrOrderFinalized):
		logger.WarnContext(r.Context(), "Order already decided", "ID", id)
		web.RespondError(w, logger, http.StatusConflict, fmt.Sprintf("Order with ID %s has already been decided", id))
	case errors.Is(err, storeerrors.ErrInvalidTransition):
		web.RespondError(w, logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logger.WarnContext(r.Context(), "Order store unavailable", "ID", id, "error", err)
		web.RespondError(w, logger, http.StatusServiceUnavailable, "Order store is temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "Error processing order", "ID", id, "error", err)
		web.RespondError(w, logger, http.StatusInternalServerError, fmt.Sprintf("Failed to process order with ID %s", id))
	}
}

// loggerWithReqID creates a logger with the request ID from the context.
func (h *DeskHandler) loggerWithReqID(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}
