package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

// StockChange lists the items whose stock moved in one committed transaction.
type StockChange struct {
	OrderID string
	ItemIDs []string
}

// InventoryLedger is the only writer of stock counts. Reserve and Restock run
// inside the caller's transaction; Available is an advisory read.
type InventoryLedger struct {
	db     port.DatabaseRepository
	cache  port.CacheRepository
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	changes chan StockChange
}

// NewInventoryLedger wires the ledger. cache may be nil, in which case
// Available always reads the store and no change notifications are queued.
func NewInventoryLedger(db port.DatabaseRepository, cache port.CacheRepository, queueSize int, logger *zap.Logger) *InventoryLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &InventoryLedger{
		db:      db,
		cache:   cache,
		logger:  logger,
		changes: make(chan StockChange, queueSize),
	}
}

// Reserve decrements stock by quantity if enough is available and returns the
// locked item row, whose price is the one to freeze into an order line.
func (l *InventoryLedger) Reserve(ctx context.Context, uow port.UnitOfWork, itemID string, quantity int) (*domain.Item, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: reserve %d of %s", domain.ErrInvalidQuantity, quantity, itemID)
	}

	item, err := uow.Inventory().LockItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if quantity > item.Stock {
		return nil, &domain.InsufficientStockError{ItemID: itemID, Requested: quantity, Available: item.Stock}
	}

	ok, err := uow.Inventory().DecrementStock(ctx, itemID, quantity)
	if err != nil {
		return nil, err
	}
	if !ok {
		// stock moved between the locked read and the write; report what is there now
		current, err := uow.Inventory().GetItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.InsufficientStockError{ItemID: itemID, Requested: quantity, Available: current.Stock}
	}

	item.Stock -= quantity
	item.Version++
	return item, nil
}

// Restock is the compensating action for a cancelled order.
func (l *InventoryLedger) Restock(ctx context.Context, uow port.UnitOfWork, itemID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: restock %d of %s", domain.ErrInvalidQuantity, quantity, itemID)
	}
	return uow.Inventory().IncrementStock(ctx, itemID, quantity)
}

// Available returns a possibly stale stock count. Never gate a reservation on it.
func (l *InventoryLedger) Available(ctx context.Context, itemID string) (int, error) {
	if l.cache != nil {
		stock, found, err := l.cache.GetStock(ctx, itemID)
		if err != nil {
			l.logger.Warn("stock cache read failed", zap.String("item_id", itemID), zap.Error(err))
		} else if found {
			return stock, nil
		}
	}

	item, err := l.db.Reader().Inventory().GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	l.storeInCache(ctx, item)
	return item.Stock, nil
}

// availableWithin reads stock through an open transaction without locking it.
func (l *InventoryLedger) availableWithin(ctx context.Context, uow port.UnitOfWork, itemID string) (int, error) {
	item, err := uow.Inventory().GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return item.Stock, nil
}

// Refresh copies the authoritative stock of one item into the cache.
func (l *InventoryLedger) Refresh(ctx context.Context, itemID string) error {
	if l.cache == nil {
		return nil
	}
	item, err := l.db.Reader().Inventory().GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	_, err = l.cache.SetStock(ctx, item.ID, item.Stock, item.Version)
	return err
}

func (l *InventoryLedger) storeInCache(ctx context.Context, item *domain.Item) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.SetStock(ctx, item.ID, item.Stock, item.Version); err != nil {
		l.logger.Warn("stock cache write failed", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// notify queues a committed change for the cache sync workers. It never
// blocks: when the queue is full the change is dropped and the cache entry
// ages out on its TTL.
func (l *InventoryLedger) notify(change StockChange) {
	if l.cache == nil || len(change.ItemIDs) == 0 {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.changes <- change:
	default:
		l.logger.Warn("stock change queue full, dropping refresh",
			zap.String("order_id", change.OrderID),
			zap.Strings("item_ids", change.ItemIDs),
		)
	}
}

func (l *InventoryLedger) GetChangeQueue() <-chan StockChange {
	return l.changes
}

func (l *InventoryLedger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changes)
}
