package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

func TestGetItem_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Reader().Inventory().GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestPutItem_InsertThenUpdate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	putItem(t, store, "sku-1", "9.99", 5)
	item, err := store.Reader().Inventory().GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, "Item sku-1", item.Name)
	assert.Equal(t, "9.99", item.Price.StringFixed(2))
	assert.Equal(t, 5, item.Stock)
	assert.Equal(t, 0, item.Version)

	putItem(t, store, "sku-1", "12.00", 8)
	item, err = store.Reader().Inventory().GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.True(t, item.Price.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, 8, item.Stock)
	assert.Equal(t, 1, item.Version)
}

func TestDecrementStock_Success(t *testing.T) {
	store := createTestStore(t)
	putItem(t, store, "sku-1", "1.00", 10)
	ctx := context.Background()

	var ok bool
	err := store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		var err error
		ok, err = uow.Inventory().DecrementStock(ctx, "sku-1", 3)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ok)

	item, err := store.Reader().Inventory().GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 7, item.Stock)
	assert.Equal(t, 1, item.Version)
}

func TestDecrementStock_InsufficientStock(t *testing.T) {
	store := createTestStore(t)
	putItem(t, store, "sku-1", "1.00", 5)
	ctx := context.Background()

	var ok bool
	err := store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		var err error
		ok, err = uow.Inventory().DecrementStock(ctx, "sku-1", 6)
		return err
	})
	require.NoError(t, err)
	assert.False(t, ok)

	item, err := store.Reader().Inventory().GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 5, item.Stock)
}

func TestDecrementStock_Concurrent(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	initialStock := 20
	totalRequests := 50
	putItem(t, store, "concurrent-test", "1.00", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(uow port.UnitOfWork) error {
				ok, err := uow.Inventory().DecrementStock(ctx, "concurrent-test", 1)
				if ok {
					successCount.Add(1)
				}
				return err
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(initialStock), successCount.Load())
	item, err := store.Reader().Inventory().GetItem(ctx, "concurrent-test")
	require.NoError(t, err)
	assert.Equal(t, 0, item.Stock)
}

func TestIncrementStock(t *testing.T) {
	store := createTestStore(t)
	putItem(t, store, "sku-1", "1.00", 5)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Inventory().IncrementStock(ctx, "sku-1", 3)
	})
	require.NoError(t, err)

	item, err := store.Reader().Inventory().GetItem(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 8, item.Stock)

	err = store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Inventory().IncrementStock(ctx, "missing", 1)
	})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestStockCheckConstraint(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(uow port.UnitOfWork) error {
		return uow.Inventory().PutItem(ctx, domain.Item{ID: "neg", Price: decimal.NewFromInt(1), Stock: -1})
	})
	require.Error(t, err)

	_, err = store.Reader().Inventory().GetItem(ctx, "neg")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}
