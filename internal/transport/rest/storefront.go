// Package rest provides the HTTP handlers of the storefront and the order desk.
package rest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/catalog"
	"github.com/abgdnv/storefront/internal/checkout"
	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/pkg/web"
)

// Checkout is the part of the order lifecycle controller exposed over HTTP.
type Checkout interface {
	State() checkout.State
	Confirm(ctx context.Context, req checkout.ConfirmRequest) (*order.Order, error)
	Track(ctx context.Context, orderID string) error
	Retry(ctx context.Context) error
	Dismiss(ctx context.Context) error
	Decrement(productID string) error
}

type addItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	// Quantity defaults to 1 when omitted.
	Quantity int `json:"quantity" validate:"omitempty,min=1"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type confirmRequest struct {
	PaymentMethodLabel string `json:"payment_method_label" validate:"max=64"`
}

type trackRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

type cartLine struct {
	cart.Line
	Subtotal     decimal.Decimal `json:"subtotal"`
	Acknowledged bool            `json:"acknowledged"`
}

type cartResponse struct {
	Lines           []cartLine      `json:"lines"`
	Total           decimal.Decimal `json:"total"`
	AllAcknowledged bool            `json:"all_acknowledged"`
	Revision        uint64          `json:"revision"`
}

type profileResponse struct {
	User            profile.User   `json:"user"`
	Address         *order.Address `json:"address,omitempty"`
	TermsAcceptedAt *time.Time     `json:"terms_accepted_at,omitempty"`
	TermsCurrent    bool           `json:"terms_current"`
}

type checkoutResponse struct {
	Phase   checkout.Phase `json:"phase"`
	OrderID string         `json:"order_id,omitempty"`
	Status  order.Status   `json:"status,omitempty"`
	Order   *order.Order   `json:"order,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func newCheckoutResponse(s checkout.State) checkoutResponse {
	resp := checkoutResponse{Phase: s.Phase, OrderID: s.OrderID, Status: s.Status, Order: s.Order}
	if s.Err != nil {
		resp.Error = s.Err.Error()
	}
	return resp
}

// StorefrontHandler serves the cart, profile and checkout of one device session.
type StorefrontHandler struct {
	cart     *cart.Cart
	products catalog.ProductStore
	session  *profile.Session
	terms    profile.Terms
	checkout Checkout
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStorefrontHandler creates a new instance of StorefrontHandler.
func NewStorefrontHandler(c *cart.Cart, products catalog.ProductStore, session *profile.Session, terms profile.Terms, co Checkout, logger *slog.Logger) *StorefrontHandler {
	return &StorefrontHandler{
		cart:     c,
		products: products,
		session:  session,
		terms:    terms,
		checkout: co,
		validate: validator.New(),
		logger:   logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the storefront routes.
func (h *StorefrontHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.ListProducts)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Route("/items/{id}", func(r chi.Router) {
				r.Put("/", h.SetQuantity)
				r.Delete("/", h.RemoveItem)
				r.Post("/decrement", h.DecrementItem)
				r.Post("/acknowledge", h.AcknowledgeItem)
			})
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", h.GetProfile)
			r.Put("/address", h.SelectAddress)
			r.Delete("/address", h.ClearAddress)
			r.Post("/terms/accept", h.AcceptTerms)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.GetCheckout)
			r.Post("/", h.Confirm)
			r.Delete("/", h.Dismiss)
			r.Post("/track", h.Track)
			r.Post("/retry", h.Retry)
		})
	})
}

// ListProducts returns a page of the catalog.
func (h *StorefrontHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	offset, ok := web.QueryIntGte(r, w, mLogger, "offset", 0, 0)
	if !ok {
		return
	}
	limit, ok := web.QueryIntBetween(r, w, mLogger, "limit", 1, 100, 20)
	if !ok {
		return
	}
	list, err := h.products.FindAll(r.Context(), offset, limit)
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error retrieving product list", "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to fetch products")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, list)
}

func (h *StorefrontHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, h.loggerWithReqID(r), http.StatusOK)
}

func (h *StorefrontHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.cart.Clear()
	h.respondCart(w, h.loggerWithReqID(r), http.StatusOK)
}

// AddItem looks the product up in the catalog and adds it to the cart.
func (h *StorefrontHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var req addItemRequest
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	product, err := h.products.FindByID(r.Context(), req.ProductID)
	if err != nil {
		if errors.Is(err, storeerrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found", "ID", req.ProductID)
			web.RespondError(w, mLogger, http.StatusNotFound, "Product not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error retrieving product", "ID", req.ProductID, "error", err)
		web.RespondError(w, mLogger, http.StatusInternalServerError, "Failed to retrieve product")
		return
	}
	if err := h.cart.Add(product.CartProduct(), req.Quantity); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	mLogger.DebugContext(r.Context(), "Product added to cart", "ID", req.ProductID, "quantity", req.Quantity)
	h.respondCart(w, mLogger, http.StatusOK)
}

func (h *StorefrontHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	var req setQuantityRequest
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &req) {
		return
	}
	if err := h.cart.SetQuantity(id, req.Quantity); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	h.respondCart(w, mLogger, http.StatusOK)
}

func (h *StorefrontHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	h.cart.Remove(id)
	h.respondCart(w, mLogger, http.StatusOK)
}

// DecrementItem lowers the quantity by one; the line is removed instead of reaching zero.
func (h *StorefrontHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	if err := h.checkout.Decrement(id); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	h.respondCart(w, mLogger, http.StatusOK)
}

func (h *StorefrontHandler) AcknowledgeItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.PathParam(w, r, mLogger, "id")
	if !ok {
		return
	}
	if err := h.cart.Acknowledge(id); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	h.respondCart(w, mLogger, http.StatusOK)
}

func (h *StorefrontHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	h.respondProfile(w, h.loggerWithReqID(r))
}

func (h *StorefrontHandler) SelectAddress(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var address order.Address
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &address) {
		return
	}
	h.session.SelectAddress(address)
	h.respondProfile(w, mLogger)
}

func (h *StorefrontHandler) ClearAddress(w http.ResponseWriter, r *http.Request) {
	h.session.ClearAddress()
	h.respondProfile(w, h.loggerWithReqID(r))
}

func (h *StorefrontHandler) AcceptTerms(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	at := h.session.AcceptTerms()
	mLogger.InfoContext(r.Context(), "Terms accepted", "accepted_at", at)
	h.respondProfile(w, mLogger)
}

func (h *StorefrontHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	web.RespondJSON(w, h.loggerWithReqID(r), http.StatusOK, newCheckoutResponse(h.checkout.State()))
}

// Confirm submits the cart as a new order.
func (h *StorefrontHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var req confirmRequest
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &req) {
		return
	}
	created, err := h.checkout.Confirm(r.Context(), checkout.ConfirmRequest{PaymentMethodLabel: req.PaymentMethodLabel})
	if err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	mLogger.InfoContext(r.Context(), "Order submitted", slog.String("ID", created.ID))
	web.RespondJSON(w, mLogger, http.StatusCreated, created)
}

// Track adopts an existing order as the active order of this device.
func (h *StorefrontHandler) Track(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	var req trackRequest
	if !web.DecodeAndValidate(w, r, mLogger, h.validate, &req) {
		return
	}
	if err := h.checkout.Track(r.Context(), req.OrderID); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusAccepted, newCheckoutResponse(h.checkout.State()))
}

func (h *StorefrontHandler) Retry(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	if err := h.checkout.Retry(r.Context()); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusAccepted, newCheckoutResponse(h.checkout.State()))
}

func (h *StorefrontHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	if err := h.checkout.Dismiss(r.Context()); err != nil {
		h.respondError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, newCheckoutResponse(h.checkout.State()))
}

func (h *StorefrontHandler) respondCart(w http.ResponseWriter, logger *slog.Logger, status int) {
	lines := h.cart.Snapshot()
	resp := cartResponse{
		Lines:           make([]cartLine, 0, len(lines)),
		Total:           h.cart.Total(),
		AllAcknowledged: h.cart.AllAcknowledged(),
		Revision:        h.cart.Revision(),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, cartLine{
			Line:         l,
			Subtotal:     l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))),
			Acknowledged: h.cart.Acknowledged(l.ProductID),
		})
	}
	web.RespondJSON(w, logger, status, resp)
}

func (h *StorefrontHandler) respondProfile(w http.ResponseWriter, logger *slog.Logger) {
	resp := profileResponse{
		User:    h.session.User(),
		Address: h.session.SelectedAddress(),
	}
	if at := h.session.TermsAcceptedAt(); !at.IsZero() {
		resp.TermsAcceptedAt = &at
	}
	resp.TermsCurrent = h.terms.Current(h.session.TermsAcceptedAt())
	web.RespondJSON(w, logger, http.StatusOK, resp)
}

// respondError maps cart and checkout errors to HTTP statuses.
func (h *StorefrontHandler) respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *checkout.ValidationError
	var oerr *checkout.OrphanedWriteError
	switch {
	case errors.As(err, &verr):
		logger.InfoContext(r.Context(), "Checkout precondition failed", "reason", verr.Reason)
		web.RespondJSON(w, logger, http.StatusUnprocessableEntity, map[string]string{"error": verr.Message, "reason": string(verr.Reason)})
	case errors.Is(err, checkout.ErrOrderInFlight):
		web.RespondJSON(w, logger, http.StatusConflict, map[string]string{"error": err.Error(), "reason": string(checkout.ReasonOrderInFlight)})
	case errors.As(err, &oerr):
		logger.ErrorContext(r.Context(), "Order submitted but not recorded", "order_id", oerr.OrderID, "error", err)
		web.RespondJSON(w, logger, http.StatusBadGateway, map[string]string{"error": err.Error(), "order_id": oerr.OrderID})
	case errors.Is(err, checkout.ErrRemoteWriteFailed):
		logger.ErrorContext(r.Context(), "Order submission failed", "error", err)
		web.RespondJSON(w, logger, http.StatusBadGateway, map[string]string{"error": err.Error(), "reason": string(checkout.ReasonRemoteWriteFailure)})
	case errors.Is(err, checkout.ErrOrderNotFinished), errors.Is(err, checkout.ErrNoTrackedOrder):
		web.RespondError(w, logger, http.StatusConflict, err.Error())
	case errors.Is(err, cart.ErrLineNotFound):
		web.RespondError(w, logger, http.StatusNotFound, err.Error())
	case errors.Is(err, cart.ErrInvalidQuantity):
		web.RespondError(w, logger, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err)
		web.RespondError(w, logger, http.StatusInternalServerError, "Internal Server Error")
	}
}

// loggerWithReqID creates a logger with the request ID from the context.
func (h *StorefrontHandler) loggerWithReqID(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", middleware.GetReqID(r.Context()))
}
