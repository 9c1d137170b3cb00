// Package testutil builds real stores for tests in other packages.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/core/domain"
	"github.com/rl1809/order-engine/internal/port"
)

// NewSQLiteStore opens a migrated SQLite store in a per-test directory. It is
// closed when the test ends.
func NewSQLiteStore(t testing.TB) *storage.SQLStore {
	t.Helper()

	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Options{
		Driver:    storage.DriverSQLite,
		DSN:       filepath.Join(t.TempDir(), "orders.db"),
		TxRetries: 5,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

// Item builds a catalog row; price is a decimal string such as "9.99".
func Item(id, price string, stock int) domain.Item {
	return domain.Item{
		ID:    id,
		Name:  id,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

// PutItems upserts catalog rows in one transaction.
func PutItems(t testing.TB, db port.DatabaseRepository, items ...domain.Item) {
	t.Helper()

	ctx := context.Background()
	err := db.WithinTx(ctx, func(uow port.UnitOfWork) error {
		for _, item := range items {
			if err := uow.Inventory().PutItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Stock reads the authoritative stock count of itemID.
func Stock(t testing.TB, db port.DatabaseRepository, itemID string) int {
	t.Helper()

	item, err := db.Reader().Inventory().GetItem(context.Background(), itemID)
	require.NoError(t, err)
	return item.Stock
}

// CartQuantities returns item id to quantity for the owner's cart.
func CartQuantities(t testing.TB, db port.DatabaseRepository, owner domain.Owner) map[string]int {
	t.Helper()

	lines, err := db.Reader().Carts().ListLines(context.Background(), owner, false)
	require.NoError(t, err)

	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.ItemID] = l.Quantity
	}
	return out
}
