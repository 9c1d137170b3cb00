package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

const (
	defaultOrderPageLimit = 10
	maxOrderPageLimit     = 50
)

type CheckoutRequest struct {
	ShippingAddress string
	PaymentIntentID string
	// RequestID, when set, guards against the same checkout being submitted twice.
	RequestID string
}

type OrderService struct {
	db     port.DatabaseRepository
	ledger *InventoryLedger
	cache  port.CacheRepository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewOrderService wires checkout and the order lifecycle. cache may be nil,
// which disables request id deduplication.
func NewOrderService(db port.DatabaseRepository, ledger *InventoryLedger, cache port.CacheRepository, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		db:     db,
		ledger: ledger,
		cache:  cache,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Checkout turns the owner's cart into a pending order in one transaction:
// every line is reserved in item id order, prices are frozen at reservation
// time, and the cart is emptied. On any error nothing is committed.
func (s *OrderService) Checkout(ctx context.Context, owner domain.Owner, req CheckoutRequest) (_ *domain.Order, err error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	if req.RequestID != "" && s.cache != nil {
		key := owner.String() + ":" + req.RequestID
		ok, cacheErr := s.cache.SetIdempotency(ctx, key)
		switch {
		case cacheErr != nil:
			s.logger.Warn("idempotency check failed, continuing", zap.String("owner", owner.String()), zap.Error(cacheErr))
		case !ok:
			return nil, ErrDuplicateRequest
		default:
			defer func() {
				if err == nil {
					return
				}
				if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
					s.logger.Warn("release idempotency key failed", zap.String("key", key), zap.Error(relErr))
				}
			}()
		}
	}

	address := norm.NFC.String(strings.TrimSpace(req.ShippingAddress))

	var order *domain.Order
	err = s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		lines, err := uow.Carts().ListLines(ctx, owner, true)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return domain.ErrEmptyCart
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })

		now := s.now().UTC()
		o := domain.Order{
			ID:              s.newID(),
			Owner:           owner,
			Status:          domain.OrderStatusPending,
			TotalAmount:     decimal.Zero,
			ShippingAddress: address,
			PaymentIntentID: req.PaymentIntentID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		for _, line := range lines {
			item, err := s.ledger.Reserve(ctx, uow, line.ItemID, line.Quantity)
			if err != nil {
				return err
			}
			li := domain.OrderLineItem{
				OrderID:   o.ID,
				ItemID:    line.ItemID,
				Quantity:  line.Quantity,
				UnitPrice: item.Price,
			}
			o.Lines = append(o.Lines, li)
			o.TotalAmount = o.TotalAmount.Add(li.Subtotal())
		}

		if err := uow.Orders().CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := uow.Carts().Clear(ctx, owner); err != nil {
			return err
		}
		if err := uow.Orders().RecordEvent(ctx, newOrderEvent(domain.OrderEventPlaced, &o, now, map[string]any{
			"total":      o.TotalAmount.StringFixed(2),
			"item_count": len(o.Lines),
		})); err != nil {
			return err
		}

		order = &o
		return nil
	})
	if err != nil {
		s.logger.Info("checkout rejected", zap.String("owner", owner.String()), zap.Error(err))
		return nil, err
	}

	s.ledger.notify(StockChange{OrderID: order.ID, ItemIDs: lineItemIDs(order.Lines)})
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("owner", owner.String()),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(order.Lines)),
	)
	return order, nil
}

// Transition moves an order along the status table. Cancelling restocks every
// line in the same transaction; cancelling an already cancelled order returns
// it unchanged.
func (s *OrderService) Transition(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, to)
	}
	return s.transition(ctx, orderID, to, nil)
}

// Cancel is the owner-initiated cancel: only the owner's own pending orders
// qualify.
func (s *OrderService) Cancel(ctx context.Context, owner domain.Owner, orderID string) (*domain.Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.transition(ctx, orderID, domain.OrderStatusCancelled, func(o *domain.Order) error {
		if o.Owner != owner {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
		}
		if o.Status != domain.OrderStatusPending {
			return &domain.InvalidTransitionError{From: o.Status, To: domain.OrderStatusCancelled}
		}
		return nil
	})
}

func (s *OrderService) transition(ctx context.Context, orderID string, to domain.OrderStatus, authorize func(*domain.Order) error) (*domain.Order, error) {
	var (
		updated   *domain.Order
		restocked bool
	)
	err := s.db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		restocked = false

		o, err := uow.Orders().GetOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}

		if o.Status == domain.OrderStatusCancelled && to == domain.OrderStatusCancelled {
			updated = o
			return nil
		}
		if !o.Status.CanTransitionTo(to) {
			return &domain.InvalidTransitionError{From: o.Status, To: to}
		}

		if to == domain.OrderStatusCancelled {
			// same lock order as checkout
			sort.Slice(o.Lines, func(i, j int) bool { return o.Lines[i].ItemID < o.Lines[j].ItemID })
			for _, line := range o.Lines {
				if err := s.ledger.Restock(ctx, uow, line.ItemID, line.Quantity); err != nil {
					return err
				}
			}
			restocked = true
		}

		now := s.now().UTC()
		if err := uow.Orders().UpdateStatus(ctx, o.ID, o.Status, to, now); err != nil {
			return err
		}

		eventType := domain.OrderEventStatusChanged
		if to == domain.OrderStatusCancelled {
			eventType = domain.OrderEventCancelled
		}
		if err := uow.Orders().RecordEvent(ctx, newOrderEvent(eventType, o, now, map[string]any{
			"from": o.Status,
			"to":   to,
		})); err != nil {
			return err
		}

		o.Status = to
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		s.logger.Info("order transition rejected",
			zap.String("order_id", orderID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return nil, err
	}

	if restocked {
		s.ledger.notify(StockChange{OrderID: updated.ID, ItemIDs: lineItemIDs(updated.Lines)})
	}
	s.logger.Info("order status updated",
		zap.String("order_id", updated.ID),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// GetOrder returns an order with its lines. With a non-nil owner, orders that
// belong to someone else are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, owner *domain.Owner) (*domain.Order, error) {
	o, err := s.db.Reader().Orders().GetOrder(ctx, orderID, false)
	if err != nil {
		return nil, err
	}
	if owner != nil && o.Owner != *owner {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return o, nil
}

// ListOrders returns one page of orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, filter domain.OrderFilter) (*domain.OrderPage, error) {
	if filter.Owner != nil {
		if err := filter.Owner.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, filter.Status)
	}
	filter.Page = max(filter.Page, 1)
	if filter.Limit <= 0 {
		filter.Limit = defaultOrderPageLimit
	}
	filter.Limit = min(filter.Limit, maxOrderPageLimit)

	orders, total, err := s.db.Reader().Orders().ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &domain.OrderPage{
		Orders:     orders,
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}, nil
}

func newOrderEvent(eventType domain.OrderEventType, o *domain.Order, at time.Time, details map[string]any) domain.OrderEvent {
	details["order_id"] = o.ID
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	return domain.OrderEvent{
		Type:      eventType,
		OrderID:   o.ID,
		Owner:     o.Owner,
		Payload:   payload,
		CreatedAt: at,
	}
}

func lineItemIDs(lines []domain.OrderLineItem) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}
