package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/catalog"
	"github.com/abgdnv/storefront/internal/checkout"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/internal/refstore"
	"github.com/abgdnv/storefront/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testTerms = profile.Terms{LastUpdated: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	OrderID string `json:"order_id"`
}

// mockCheckout returns the configured error from every operation.
type mockCheckout struct {
	state checkout.State
	order *order.Order
	error error
}

func (m *mockCheckout) State() checkout.State { return m.state }

func (m *mockCheckout) Confirm(context.Context, checkout.ConfirmRequest) (*order.Order, error) {
	return m.order, m.error
}

func (m *mockCheckout) Track(context.Context, string) error { return m.error }
func (m *mockCheckout) Retry(context.Context) error         { return m.error }
func (m *mockCheckout) Dismiss(context.Context) error       { return m.error }
func (m *mockCheckout) Decrement(string) error              { return m.error }

type storefront struct {
	router  *chi.Mux
	cart    *cart.Cart
	orders  *store.Memory
	session *profile.Session
	ctrl    *checkout.Controller
}

func newStorefront(t *testing.T) *storefront {
	t.Helper()
	products := catalog.NewInMemoryStore(
		catalog.Product{ID: "p1", Name: "Coffee", Price: decimal.RequireFromString("4.50"), Stock: 10},
		catalog.Product{ID: "p2", Name: "Tea", Price: decimal.RequireFromString("3.00"), Stock: 10},
	)
	s := &storefront{
		router:  chi.NewRouter(),
		cart:    cart.New(nil),
		orders:  store.NewMemory(),
		session: profile.NewSession(profile.User{ID: "user-1", DisplayName: "Ada", Email: "ada@example.com"}),
	}
	s.ctrl = checkout.New(checkout.Deps{
		Cart:    s.cart,
		Orders:  s.orders,
		Ref:     refstore.NewMemory(),
		Profile: s.session,
		Terms:   testTerms,
		Logger:  discardLogger(),
	})
	t.Cleanup(s.ctrl.Stop)
	NewStorefrontHandler(s.cart, products, s.session, testTerms, s.ctrl, discardLogger()).RegisterRoutes(s.router)
	return s
}

func (s *storefront) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func Test_Storefront_Cart(t *testing.T) {
	s := newStorefront(t)

	testCases := []struct {
		name         string
		method       string
		path         string
		body         string
		expectedCode int
		expectedQty  int
	}{
		{name: "add product", method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"p1","quantity":2}`, expectedCode: http.StatusOK, expectedQty: 2},
		{name: "add same product", method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"p1","quantity":1}`, expectedCode: http.StatusOK, expectedQty: 3},
		{name: "add without quantity", method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"p1"}`, expectedCode: http.StatusOK, expectedQty: 4},
		{name: "add unknown product", method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"nope","quantity":1}`, expectedCode: http.StatusNotFound, expectedQty: 4},
		{name: "add negative quantity", method: http.MethodPost, path: "/api/v1/cart/items", body: `{"product_id":"p1","quantity":-1}`, expectedCode: http.StatusBadRequest, expectedQty: 4},
		{name: "add without product", method: http.MethodPost, path: "/api/v1/cart/items", body: "", expectedCode: http.StatusBadRequest, expectedQty: 4},
		{name: "invalid body", method: http.MethodPost, path: "/api/v1/cart/items", body: `{`, expectedCode: http.StatusBadRequest, expectedQty: 4},
		{name: "set quantity", method: http.MethodPut, path: "/api/v1/cart/items/p1", body: `{"quantity":5}`, expectedCode: http.StatusOK, expectedQty: 5},
		{name: "set quantity of missing line", method: http.MethodPut, path: "/api/v1/cart/items/p2", body: `{"quantity":5}`, expectedCode: http.StatusNotFound, expectedQty: 5},
		{name: "decrement", method: http.MethodPost, path: "/api/v1/cart/items/p1/decrement", expectedCode: http.StatusOK, expectedQty: 4},
		{name: "acknowledge", method: http.MethodPost, path: "/api/v1/cart/items/p1/acknowledge", expectedCode: http.StatusOK, expectedQty: 4},
		{name: "acknowledge missing line", method: http.MethodPost, path: "/api/v1/cart/items/p2/acknowledge", expectedCode: http.StatusNotFound, expectedQty: 4},
		{name: "remove", method: http.MethodDelete, path: "/api/v1/cart/items/p1", expectedCode: http.StatusOK, expectedQty: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// when
			rr := s.do(t, tc.method, tc.path, tc.body)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, rr.Body.String())
			assert.Equal(t, tc.expectedQty, s.cart.Quantity("p1"))
		})
	}
}

func Test_Storefront_GetCart(t *testing.T) {
	s := newStorefront(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":"p1","quantity":2}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":"p2","quantity":1}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items/p2/acknowledge", "").Code)

	rr := s.do(t, http.MethodGet, "/api/v1/cart", "")

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[cartResponse](t, rr)
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, "p1", resp.Lines[0].ProductID)
	assert.True(t, decimal.RequireFromString("9").Equal(resp.Lines[0].Subtotal))
	assert.False(t, resp.Lines[0].Acknowledged)
	assert.True(t, resp.Lines[1].Acknowledged)
	assert.True(t, decimal.RequireFromString("12").Equal(resp.Total))
	assert.False(t, resp.AllAcknowledged)

	rr = s.do(t, http.MethodDelete, "/api/v1/cart", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[cartResponse](t, rr).Lines)
}

func Test_Storefront_ListProducts(t *testing.T) {
	s := newStorefront(t)

	testCases := []struct {
		name         string
		query        string
		expectedCode int
		expectedLen  int
	}{
		{name: "defaults", query: "", expectedCode: http.StatusOK, expectedLen: 2},
		{name: "paged", query: "?offset=1&limit=1", expectedCode: http.StatusOK, expectedLen: 1},
		{name: "invalid limit", query: "?limit=0", expectedCode: http.StatusBadRequest},
		{name: "invalid offset", query: "?offset=-1", expectedCode: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, "/api/v1/products"+tc.query, "")

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode == http.StatusOK {
				assert.Len(t, decode[[]catalog.Product](t, rr), tc.expectedLen)
			}
		})
	}
}

func Test_Storefront_Profile(t *testing.T) {
	s := newStorefront(t)

	rr := s.do(t, http.MethodPut, "/api/v1/profile/address", `{"recipient":"Ada"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, s.session.SelectedAddress())

	rr = s.do(t, http.MethodPut, "/api/v1/profile/address", `{"recipient":"Ada","line1":"Main St 1","city":"Berlin","country":"DE"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[profileResponse](t, rr)
	require.NotNil(t, resp.Address)
	assert.Equal(t, "Berlin", resp.Address.City)
	assert.False(t, resp.TermsCurrent)

	rr = s.do(t, http.MethodPost, "/api/v1/profile/terms/accept", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decode[profileResponse](t, rr)
	assert.True(t, resp.TermsCurrent)
	assert.NotNil(t, resp.TermsAcceptedAt)

	rr = s.do(t, http.MethodDelete, "/api/v1/profile/address", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decode[profileResponse](t, rr).Address)
}

func Test_Storefront_CheckoutLifecycle(t *testing.T) {
	s := newStorefront(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items", `{"product_id":"p1","quantity":2}`).Code)

	// given an incomplete checkout
	rr := s.do(t, http.MethodPost, "/api/v1/checkout", `{"payment_method_label":"Visa •••• 4242"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, string(checkout.ReasonAddressMissing), decode[ErrorResponse](t, rr).Reason)

	s.session.SelectAddress(order.Address{Recipient: "Ada", Line1: "Main St 1", City: "Berlin", Country: "DE"})
	rr = s.do(t, http.MethodPost, "/api/v1/checkout", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, string(checkout.ReasonItemsNotAccepted), decode[ErrorResponse](t, rr).Reason)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/cart/items/p1/acknowledge", "").Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/profile/terms/accept", "").Code)

	// when
	rr = s.do(t, http.MethodPost, "/api/v1/checkout", `{"payment_method_label":"Visa •••• 4242"}`)

	// then
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[order.Order](t, rr)
	assert.Equal(t, order.StatusPending, created.Status)
	assert.True(t, decimal.RequireFromString("9").Equal(created.TotalAmount))
	assert.Equal(t, 0, s.cart.Len())

	rr = s.do(t, http.MethodPost, "/api/v1/checkout", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(checkout.ReasonOrderInFlight), decode[ErrorResponse](t, rr).Reason)

	rr = s.do(t, http.MethodDelete, "/api/v1/checkout", "")
	assert.Equal(t, http.StatusConflict, rr.Code, "pending order cannot be dismissed")

	_, err := s.orders.Transition(context.Background(), created.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		state := decode[checkoutResponse](t, s.do(t, http.MethodGet, "/api/v1/checkout", ""))
		return state.Phase == checkout.PhaseTracking && state.Status == order.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)

	rr = s.do(t, http.MethodDelete, "/api/v1/checkout", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, checkout.PhaseNoActiveOrder, decode[checkoutResponse](t, rr).Phase)
}

func Test_Storefront_CheckoutErrors(t *testing.T) {
	orphaned := &checkout.OrphanedWriteError{OrderID: "o-1", Err: errors.New("redis down")}

	testCases := []struct {
		name           string
		method         string
		path           string
		body           string
		error          error
		expectedCode   int
		expectedReason string
		expectedOrder  string
	}{
		{
			name:   "precondition failed",
			method: http.MethodPost, path: "/api/v1/checkout", body: `{}`,
			error:          &checkout.ValidationError{Reason: checkout.ReasonTermsNotAccepted, Message: "accept the terms"},
			expectedCode:   http.StatusUnprocessableEntity,
			expectedReason: string(checkout.ReasonTermsNotAccepted),
		},
		{
			name:   "remote write failed",
			method: http.MethodPost, path: "/api/v1/checkout", body: `{}`,
			error:          errors.Join(checkout.ErrRemoteWriteFailed, errors.New("timeout")),
			expectedCode:   http.StatusBadGateway,
			expectedReason: string(checkout.ReasonRemoteWriteFailure),
		},
		{
			name:   "orphaned write",
			method: http.MethodPost, path: "/api/v1/checkout", body: `{}`,
			error:         orphaned,
			expectedCode:  http.StatusBadGateway,
			expectedOrder: "o-1",
		},
		{
			name:   "payment label too long",
			method: http.MethodPost, path: "/api/v1/checkout", body: `{"payment_method_label":"` + strings.Repeat("x", 65) + `"}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:   "track without order id",
			method: http.MethodPost, path: "/api/v1/checkout/track", body: `{}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:   "track while in flight",
			method: http.MethodPost, path: "/api/v1/checkout/track", body: `{"order_id":"o-2"}`,
			error:          checkout.ErrOrderInFlight,
			expectedCode:   http.StatusConflict,
			expectedReason: string(checkout.ReasonOrderInFlight),
		},
		{
			name:   "retry without tracked order",
			method: http.MethodPost, path: "/api/v1/checkout/retry",
			error:        checkout.ErrNoTrackedOrder,
			expectedCode: http.StatusConflict,
		},
		{
			name:   "dismiss unfinished order",
			method: http.MethodDelete, path: "/api/v1/checkout",
			error:        checkout.ErrOrderNotFinished,
			expectedCode: http.StatusConflict,
		},
		{
			name:   "unexpected failure",
			method: http.MethodDelete, path: "/api/v1/checkout",
			error:        errors.New("boom"),
			expectedCode: http.StatusInternalServerError,
		},
		{
			name:   "track accepted",
			method: http.MethodPost, path: "/api/v1/checkout/track", body: `{"order_id":"o-2"}`,
			expectedCode: http.StatusAccepted,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			router := chi.NewRouter()
			co := &mockCheckout{state: checkout.State{Phase: checkout.PhaseTracking, OrderID: "o-2", Status: order.StatusUnknown}, error: tc.error}
			NewStorefrontHandler(cart.New(nil), catalog.NewInMemoryStore(), profile.NewSession(profile.User{}), testTerms, co, discardLogger()).RegisterRoutes(router)
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			rr := httptest.NewRecorder()

			// when
			router.ServeHTTP(rr, req)

			// then
			assert.Equal(t, tc.expectedCode, rr.Code, rr.Body.String())
			if tc.expectedReason != "" || tc.expectedOrder != "" {
				resp := decode[ErrorResponse](t, rr)
				assert.Equal(t, tc.expectedReason, resp.Reason)
				assert.Equal(t, tc.expectedOrder, resp.OrderID)
			}
		})
	}
}
