package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrLineNotFound      = errors.New("cart line not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidOwner      = errors.New("invalid owner")
	ErrInvalidStatus     = errors.New("invalid order status")

	// ErrStoreUnavailable marks infrastructure failures. Nothing was committed
	// and the caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsufficientStockError reports the first item that could not be satisfied.
type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
