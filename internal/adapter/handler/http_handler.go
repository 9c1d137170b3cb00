package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/core/service"
)

const sessionCookie = "session_id"

type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	carts  *service.CartService
	merger *service.MergeService
	orders *service.OrderService
	ledger *service.InventoryLedger
	store  Pinger
	logger *zap.Logger
}

type addLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type mergeRequest struct {
	SessionID string `json:"session_id"`
}

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentIntentID string `json:"payment_intent_id"`
	RequestID       string `json:"request_id"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	ItemID    string `json:"item_id,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(carts *service.CartService, merger *service.MergeService, orders *service.OrderService,
	ledger *service.InventoryLedger, store Pinger, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{carts: carts, merger: merger, orders: orders, ledger: ledger, store: store, logger: logger}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /api/items/{itemID}/availability", h.Availability)

	mux.HandleFunc("GET /api/cart", h.GetCart)
	mux.HandleFunc("DELETE /api/cart", h.ClearCart)
	mux.HandleFunc("POST /api/cart/lines", h.AddLine)
	mux.HandleFunc("PUT /api/cart/lines/{itemID}", h.SetLineQuantity)
	mux.HandleFunc("DELETE /api/cart/lines/{itemID}", h.RemoveLine)
	mux.HandleFunc("POST /api/cart/merge", h.MergeCart)

	mux.HandleFunc("POST /api/checkout", h.Checkout)
	mux.HandleFunc("GET /api/orders", h.ListOrders)
	mux.HandleFunc("GET /api/orders/{orderID}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{orderID}/cancel", h.CancelOrder)
	mux.HandleFunc("POST /api/admin/orders/{orderID}/status", h.TransitionOrder)
}

// ownerFromRequest resolves exactly one owner. An authenticated user id wins
// over any anonymous session token sent alongside it.
func ownerFromRequest(r *http.Request) (domain.Owner, error) {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return domain.UserOwner(userID), nil
	}
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			sessionID = c.Value
		}
	}
	if sessionID != "" {
		return domain.AnonymousOwner(sessionID), nil
	}
	return domain.Owner{}, domain.ErrInvalidOwner
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("itemID")
	available, err := h.ledger.Available(r.Context(), itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "available": available})
}

func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.carts.Snapshot(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartDTO(view))
}

func (h *HTTPHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "item_id is required"})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	line, err := h.carts.AddLine(r.Context(), owner, req.ItemID, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCartLineDTO(line))
}

func (h *HTTPHandler) SetLineQuantity(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "valid quantity required"})
		return
	}

	line, err := h.carts.SetLineQuantity(r.Context(), owner, r.PathValue("itemID"), *req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if line == nil {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "item removed from cart"})
		return
	}
	writeJSON(w, http.StatusOK, toCartLineDTO(line))
}

func (h *HTTPHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.carts.RemoveLine(r.Context(), owner, r.PathValue("itemID")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "item removed from cart"})
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.carts.Clear(r.Context(), owner); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "cart cleared"})
}

func (h *HTTPHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil || !owner.IsUser() {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.SessionID == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			req.SessionID = c.Value
		}
	}
	if req.SessionID == "" {
		view, err := h.carts.Snapshot(r.Context(), owner)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, MergeDTO{Cart: toCartDTO(view)})
		return
	}

	result, err := h.merger.Merge(r.Context(), owner, domain.AnonymousOwner(req.SessionID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMergeDTO(result))
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	order, err := h.orders.Checkout(r.Context(), owner, service.CheckoutRequest{
		ShippingAddress: req.ShippingAddress,
		PaymentIntentID: req.PaymentIntentID,
		RequestID:       req.RequestID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	q := r.URL.Query()
	filter := domain.OrderFilter{Owner: &owner, Status: domain.OrderStatus(q.Get("status"))}
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "page must be an integer"})
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer"})
			return
		}
	}

	page, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPageDTO(page))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("orderID"), &owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), owner, r.PathValue("orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// TransitionOrder is the back-office status change. Authorising the caller
// happens in front of this service.
func (h *HTTPHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.orders.Transition(r.Context(), r.PathValue("orderID"), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponseFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func errorResponseFor(err error) (int, ErrorResponse) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		available := stockErr.Available
		return http.StatusConflict, ErrorResponse{
			Error:     "not enough inventory",
			ItemID:    stockErr.ItemID,
			Available: &available,
		}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, ErrorResponse{Error: "cart is empty"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrInvalidOwner):
		return http.StatusBadRequest, ErrorResponse{Error: "user id or session id required"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "order not found"}
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "item not found"}
	case errors.Is(err, domain.ErrLineNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "item not in cart"}
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, ErrorResponse{Error: "duplicate request"}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "service temporarily unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
