package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/order-engine/internal/core/domain"
)

type inventoryRepository struct {
	*unitOfWork
}

const selectItem = `
		SELECT item_id, name, price, stock, version, created_at, updated_at
		FROM inventory WHERE item_id = ?`

func (r *inventoryRepository) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return r.getItem(ctx, itemID, false)
}

func (r *inventoryRepository) LockItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return r.getItem(ctx, itemID, true)
}

func (r *inventoryRepository) getItem(ctx context.Context, itemID string, forUpdate bool) (*domain.Item, error) {
	var item domain.Item
	err := r.queryRow(ctx, selectItem+r.d.lockClause(forUpdate), itemID).Scan(
		&item.ID, &item.Name, &item.Price, &item.Stock, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &item, nil
}

func (r *inventoryRepository) DecrementStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	result, err := r.exec(ctx, `
		UPDATE inventory
		SET stock = stock - ?, version = version + 1, updated_at = ?
		WHERE item_id = ? AND stock >= ?`,
		quantity, time.Now().UTC(), itemID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return rows == 1, nil
}

func (r *inventoryRepository) IncrementStock(ctx context.Context, itemID string, quantity int) error {
	result, err := r.exec(ctx, `
		UPDATE inventory
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE item_id = ?`,
		quantity, time.Now().UTC(), itemID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return nil
}

func (r *inventoryRepository) PutItem(ctx context.Context, item domain.Item) error {
	now := time.Now().UTC()

	var exists int
	err := r.queryRow(ctx, `SELECT 1 FROM inventory WHERE item_id = ?`+r.d.lockClause(true), item.ID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.exec(ctx, `
			INSERT INTO inventory (item_id, name, price, stock, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
			item.ID, item.Name, item.Price, item.Stock, now, now,
		)
		if err != nil {
			if r.d.isUniqueViolation(err) {
				return fmt.Errorf("insert item %s: %w", item.ID, ErrOptimisticLock)
			}
			return fmt.Errorf("insert item: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("query inventory: %w", err)
	}

	_, err = r.exec(ctx, `
		UPDATE inventory
		SET name = ?, price = ?, stock = ?, version = version + 1, updated_at = ?
		WHERE item_id = ?`,
		item.Name, item.Price, item.Stock, now, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}
