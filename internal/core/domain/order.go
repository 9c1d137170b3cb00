package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  nil,
	OrderStatusCancelled:  nil,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further stock-affecting transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusShipped || s == OrderStatusDelivered || s == OrderStatusCancelled
}

type Order struct {
	ID              string
	Owner           Owner
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	ShippingAddress string
	PaymentIntentID string
	Lines           []OrderLineItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLineItem is immutable once written. UnitPrice is the catalog price
// captured when the stock was reserved.
type OrderLineItem struct {
	OrderID   string
	ItemID    string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l OrderLineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type OrderFilter struct {
	Owner  *Owner
	Status OrderStatus
	Page   int
	Limit  int
}

type OrderPage struct {
	Orders     []Order
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

type OrderEventType string

const (
	OrderEventPlaced        OrderEventType = "order_placed"
	OrderEventStatusChanged OrderEventType = "order_status_changed"
	OrderEventCancelled     OrderEventType = "order_cancelled"
)

// OrderEvent is an audit row written in the same transaction as the change it
// describes.
type OrderEvent struct {
	Type      OrderEventType
	OrderID   string
	Owner     Owner
	Payload   []byte
	CreatedAt time.Time
}
