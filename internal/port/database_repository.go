package port

import (
	"context"
	"time"

	"github.com/rl1809/order-engine/internal/core/domain"
)

// DatabaseRepository is the transactional store. Reads outside WithinTx are
// advisory snapshots; every mutation goes through WithinTx.
type DatabaseRepository interface {
	// WithinTx runs fn in one transaction and commits when fn returns nil.
	// fn may be invoked again if the store reports a retryable conflict, so it
	// must not leak side effects outside the UnitOfWork.
	WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error

	// Reader returns repositories bound to the plain connection pool.
	Reader() UnitOfWork

	Ping(ctx context.Context) error
	Close() error
}

// UnitOfWork groups repositories that share one transaction.
type UnitOfWork interface {
	Inventory() InventoryRepository
	Carts() CartRepository
	Orders() OrderRepository
}

type InventoryRepository interface {
	// GetItem returns domain.ErrItemNotFound for unknown ids.
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)

	// LockItem reads the row with a write lock held until the transaction ends.
	LockItem(ctx context.Context, itemID string) (*domain.Item, error)

	// DecrementStock subtracts quantity only if stock >= quantity. It reports
	// false without changing anything otherwise.
	DecrementStock(ctx context.Context, itemID string, quantity int) (bool, error)

	IncrementStock(ctx context.Context, itemID string, quantity int) error

	// PutItem inserts or replaces a catalog row.
	PutItem(ctx context.Context, item domain.Item) error
}

type CartRepository interface {
	// ListLines returns the owner's lines ordered by item id. With forUpdate
	// the rows stay locked until the transaction ends.
	ListLines(ctx context.Context, owner domain.Owner, forUpdate bool) ([]domain.CartLine, error)

	// ListLineViews joins lines with the catalog, ordered by item id.
	ListLineViews(ctx context.Context, owner domain.Owner) ([]domain.CartLineView, error)

	// GetLine returns nil when the owner has no line for the item.
	GetLine(ctx context.Context, owner domain.Owner, itemID string) (*domain.CartLine, error)

	UpsertLine(ctx context.Context, owner domain.Owner, itemID string, quantity int, at time.Time) error
	ReownLine(ctx context.Context, from, to domain.Owner, itemID string, quantity int, at time.Time) error
	DeleteLine(ctx context.Context, owner domain.Owner, itemID string) error
	Clear(ctx context.Context, owner domain.Owner) error
}

type OrderRepository interface {
	// CreateOrder writes the order row and all of its line items.
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns domain.ErrOrderNotFound for unknown ids.
	GetOrder(ctx context.Context, orderID string, forUpdate bool) (*domain.Order, error)

	// UpdateStatus changes status only if the current status is from.
	UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) error

	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)

	RecordEvent(ctx context.Context, event domain.OrderEvent) error
}
