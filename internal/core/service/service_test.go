package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/testutil"
)

type fixture struct {
	store  *storage.SQLStore
	cache  *testutil.MemoryCache
	ledger *InventoryLedger
	carts  *CartService
	merger *MergeService
	orders *OrderService
}

func newFixture(t *testing.T, items ...domain.Item) *fixture {
	t.Helper()

	store := testutil.NewSQLiteStore(t)
	if len(items) > 0 {
		testutil.PutItems(t, store, items...)
	}
	cache := testutil.NewMemoryCache()
	logger := zap.NewNop()
	ledger := NewInventoryLedger(store, cache, 100, logger)
	t.Cleanup(ledger.Close)

	return &fixture{
		store:  store,
		cache:  cache,
		ledger: ledger,
		carts:  NewCartService(store, ledger, logger),
		merger: NewMergeService(store, ledger, logger),
		orders: NewOrderService(store, ledger, cache, logger),
	}
}

func (f *fixture) addLines(t *testing.T, owner domain.Owner, lines map[string]int) {
	t.Helper()
	for itemID, qty := range lines {
		_, err := f.carts.AddLine(context.Background(), owner, itemID, qty)
		require.NoError(t, err)
	}
}

func (f *fixture) stock(t *testing.T, itemID string) int {
	t.Helper()
	return testutil.Stock(t, f.store, itemID)
}

func (f *fixture) cart(t *testing.T, owner domain.Owner) map[string]int {
	t.Helper()
	return testutil.CartQuantities(t, f.store, owner)
}

func (f *fixture) eventTypes(t *testing.T, orderID string) []string {
	t.Helper()

	rows, err := f.store.DB().QueryContext(context.Background(),
		`SELECT event_type FROM order_events WHERE order_id = ? ORDER BY id`, orderID)
	require.NoError(t, err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var et string
		require.NoError(t, rows.Scan(&et))
		types = append(types, et)
	}
	require.NoError(t, rows.Err())
	return types
}

// drainChanges collects every queued stock change without blocking.
func (f *fixture) drainChanges() []StockChange {
	var out []StockChange
	for {
		select {
		case c := <-f.ledger.GetChangeQueue():
			out = append(out, c)
		default:
			return out
		}
	}
}
