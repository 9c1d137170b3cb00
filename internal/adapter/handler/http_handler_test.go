package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
	"github.com/rl1809/order-engine/internal/testutil"
)

type httpEnv struct {
	store *storage.SQLStore
	mux   *http.ServeMux
}

func setupHTTP(t *testing.T, items ...domain.Item) *httpEnv {
	t.Helper()

	store := testutil.NewSQLiteStore(t)
	testutil.PutItems(t, store, items...)

	ledger := service.NewInventoryLedger(store, nil, 10, nil)
	t.Cleanup(ledger.Close)
	h := NewHTTPHandler(
		service.NewCartService(store, ledger, nil),
		service.NewMergeService(store, ledger, nil),
		service.NewOrderService(store, ledger, nil, nil),
		ledger, store, nil,
	)

	mux := http.NewServeMux()
	h.Register(mux)
	return &httpEnv{store: store, mux: mux}
}

// do sends body as JSON; headers are name/value pairs.
func (e *httpEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHTTP_HealthCheck(t *testing.T) {
	env := setupHTTP(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	env.store.Close()
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTP_AddLineAndGetCart(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "2.50", 5))

	rec := env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"}, "X-Session-ID", "s1")
	require.Equal(t, http.StatusCreated, rec.Code)
	line := decode[CartLineDTO](t, rec)
	assert.Equal(t, 1, line.Quantity, "quantity defaults to one")

	rec = env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a", Quantity: 2}, "X-Session-ID", "s1")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3, decode[CartLineDTO](t, rec).Quantity)

	rec = env.do(t, http.MethodGet, "/api/cart", nil, "X-Session-ID", "s1")
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartDTO](t, rec)
	assert.Equal(t, "anonymous:s1", cart.Owner)
	assert.Equal(t, "7.50", cart.Total)
	assert.Equal(t, 3, cart.ItemCount)
	require.Len(t, cart.Items, 1)
	require.NotNil(t, cart.Items[0].Available)
	assert.Equal(t, 5, *cart.Items[0].Available)
}

func TestHTTP_AddLineErrors(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "1.00", 2))

	rec := env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no owner")

	rec = env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{}, "X-User-ID", "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no item")

	rec = env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "missing"}, "X-User-ID", "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a", Quantity: 3}, "X-User-ID", "u1")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "a", body.ItemID)
	require.NotNil(t, body.Available)
	assert.Equal(t, 2, *body.Available)
}

func TestHTTP_OwnerPrecedence(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "1.00", 5))

	rec := env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"},
		"X-User-ID", "u1", "X-Session-ID", "s1")
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, map[string]int{"a": 1}, testutil.CartQuantities(t, env.store, domain.UserOwner("u1")))
	assert.Empty(t, testutil.CartQuantities(t, env.store, domain.AnonymousOwner("s1")))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "cookie-session"})
	owner, err := ownerFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, domain.AnonymousOwner("cookie-session"), owner)
}

func TestHTTP_SetAndRemoveLines(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "1.00", 5), testutil.Item("b", "1.00", 5))
	user := []string{"X-User-ID", "u1"}

	rec := env.do(t, http.MethodPut, "/api/cart/lines/a", map[string]int{"quantity": 4}, user...)
	assert.Equal(t, http.StatusNotFound, rec.Code, "PUT never creates a line")
	assert.Empty(t, testutil.CartQuantities(t, env.store, domain.UserOwner("u1")))

	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"}, user...)
	rec = env.do(t, http.MethodPut, "/api/cart/lines/a", map[string]int{"quantity": 4}, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[CartLineDTO](t, rec).Quantity)

	rec = env.do(t, http.MethodPut, "/api/cart/lines/a", map[string]any{}, user...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/cart/lines/a", map[string]int{"quantity": -1}, user...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/cart/lines/a", map[string]int{"quantity": 0}, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "item removed from cart", decode[MessageResponse](t, rec).Message)

	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"}, user...)
	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "b"}, user...)

	rec = env.do(t, http.MethodDelete, "/api/cart/lines/a", nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"b": 1}, testutil.CartQuantities(t, env.store, domain.UserOwner("u1")))

	rec = env.do(t, http.MethodDelete, "/api/cart", nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, testutil.CartQuantities(t, env.store, domain.UserOwner("u1")))
}

func TestHTTP_MergeCart(t *testing.T) {
	env := setupHTTP(t, testutil.Item("b", "1.00", 2))
	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "b", Quantity: 2}, "X-Session-ID", "s1")
	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "b", Quantity: 1}, "X-User-ID", "u1")

	rec := env.do(t, http.MethodPost, "/api/cart/merge", mergeRequest{SessionID: "s1"}, "X-Session-ID", "s1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/cart/merge", mergeRequest{SessionID: "s1"}, "X-User-ID", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	merged := decode[MergeDTO](t, rec)
	assert.Equal(t, 1, merged.Combined)
	assert.Equal(t, 1, merged.Capped)
	assert.Equal(t, 2, merged.Cart.ItemCount)
	assert.Empty(t, testutil.CartQuantities(t, env.store, domain.AnonymousOwner("s1")))

	rec = env.do(t, http.MethodPost, "/api/cart/merge", mergeRequest{}, "X-User-ID", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	nothing := decode[MergeDTO](t, rec)
	assert.Zero(t, nothing.Combined+nothing.Reowned)
	assert.Equal(t, 2, nothing.Cart.ItemCount)
}

func TestHTTP_CheckoutFlow(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "7.50", 5))
	user := []string{"X-User-ID", "u1"}

	rec := env.do(t, http.MethodPost, "/api/checkout", checkoutRequest{ShippingAddress: "1 Main St"}, user...)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cart is empty", decode[ErrorResponse](t, rec).Error)

	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a", Quantity: 3}, user...)
	rec = env.do(t, http.MethodPost, "/api/checkout", checkoutRequest{ShippingAddress: "1 Main St", PaymentIntentID: "pi_1"}, user...)
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[OrderDTO](t, rec)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "22.50", order.TotalAmount)
	assert.Equal(t, "pi_1", order.PaymentIntentID)
	assert.Equal(t, "user:u1", order.Owner)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "7.50", order.Items[0].UnitPrice)
	assert.Equal(t, 2, testutil.Stock(t, env.store, "a"))

	rec = env.do(t, http.MethodGet, "/api/orders/"+order.ID, nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, order.ID, decode[OrderDTO](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/api/orders/"+order.ID, nil, "X-User-ID", "u2")
	assert.Equal(t, http.StatusNotFound, rec.Code, "other owners cannot see the order")

	rec = env.do(t, http.MethodGet, "/api/orders", nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[OrderPageDTO](t, rec)
	assert.Equal(t, 1, page.Pagination.Total)
	require.Len(t, page.Orders, 1)

	rec = env.do(t, http.MethodGet, "/api/orders?page=abc", nil, user...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/orders?limit=ten", nil, user...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders?status=cancelled", nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[OrderPageDTO](t, rec).Orders)

	rec = env.do(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", nil, user...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[OrderDTO](t, rec).Status)
	assert.Equal(t, 5, testutil.Stock(t, env.store, "a"))

	rec = env.do(t, http.MethodGet, "/api/items/a/availability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decode[map[string]any](t, rec)["available"])
}

func TestHTTP_AdminTransition(t *testing.T) {
	env := setupHTTP(t, testutil.Item("a", "1.00", 5))
	user := []string{"X-User-ID", "u1"}
	env.do(t, http.MethodPost, "/api/cart/lines", addLineRequest{ItemID: "a"}, user...)
	rec := env.do(t, http.MethodPost, "/api/checkout", checkoutRequest{ShippingAddress: "1 Main St"}, user...)
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode[OrderDTO](t, rec).ID
	path := "/api/admin/orders/" + orderID + "/status"

	rec = env.do(t, http.MethodPost, path, transitionRequest{Status: "shipped"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "pending cannot skip to shipped")

	rec = env.do(t, http.MethodPost, path, transitionRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, path, transitionRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode[OrderDTO](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/admin/orders/nope/status", transitionRequest{Status: "processing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorResponseFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&domain.InsufficientStockError{ItemID: "a", Requested: 3, Available: 1}, http.StatusConflict},
		{domain.ErrEmptyCart, http.StatusBadRequest},
		{&domain.InvalidTransitionError{From: domain.OrderStatusDelivered, To: domain.OrderStatusCancelled}, http.StatusBadRequest},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.ErrInvalidOwner, http.StatusBadRequest},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.ErrItemNotFound, http.StatusNotFound},
		{domain.ErrLineNotFound, http.StatusNotFound},
		{service.ErrDuplicateRequest, http.StatusConflict},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, _ := errorResponseFor(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
