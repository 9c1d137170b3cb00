package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/order-engine/internal/core/domain"
)

type cartRepository struct {
	*unitOfWork
}

func (r *cartRepository) ListLines(ctx context.Context, owner domain.Owner, forUpdate bool) ([]domain.CartLine, error) {
	rows, err := r.query(ctx, `
		SELECT item_id, quantity, created_at, updated_at
		FROM cart_lines
		WHERE owner_kind = ? AND owner_id = ?
		ORDER BY item_id`+r.d.lockClause(forUpdate),
		string(owner.Kind()), owner.ID(),
	)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		line := domain.CartLine{Owner: owner}
		if err := rows.Scan(&line.ItemID, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

func (r *cartRepository) ListLineViews(ctx context.Context, owner domain.Owner) ([]domain.CartLineView, error) {
	rows, err := r.query(ctx, `
		SELECT c.item_id, i.name, c.quantity, i.price, i.stock
		FROM cart_lines c
		JOIN inventory i ON i.item_id = c.item_id
		WHERE c.owner_kind = ? AND c.owner_id = ?
		ORDER BY c.item_id`,
		string(owner.Kind()), owner.ID(),
	)
	if err != nil {
		return nil, fmt.Errorf("query cart view: %w", err)
	}
	defer rows.Close()

	var views []domain.CartLineView
	for rows.Next() {
		var v domain.CartLineView
		if err := rows.Scan(&v.ItemID, &v.Name, &v.Quantity, &v.UnitPrice, &v.Available); err != nil {
			return nil, fmt.Errorf("scan cart view: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart view: %w", err)
	}
	return views, nil
}

func (r *cartRepository) GetLine(ctx context.Context, owner domain.Owner, itemID string) (*domain.CartLine, error) {
	line := domain.CartLine{Owner: owner, ItemID: itemID}
	err := r.queryRow(ctx, `
		SELECT quantity, created_at, updated_at
		FROM cart_lines
		WHERE owner_kind = ? AND owner_id = ? AND item_id = ?`+r.d.lockClause(true),
		string(owner.Kind()), owner.ID(), itemID,
	).Scan(&line.Quantity, &line.CreatedAt, &line.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart line: %w", err)
	}
	return &line, nil
}

func (r *cartRepository) UpsertLine(ctx context.Context, owner domain.Owner, itemID string, quantity int, at time.Time) error {
	existing, err := r.GetLine(ctx, owner, itemID)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err = r.exec(ctx, `
			UPDATE cart_lines SET quantity = ?, updated_at = ?
			WHERE owner_kind = ? AND owner_id = ? AND item_id = ?`,
			quantity, at.UTC(), string(owner.Kind()), owner.ID(), itemID,
		)
		if err != nil {
			return fmt.Errorf("update cart line: %w", err)
		}
		return nil
	}

	_, err = r.exec(ctx, `
		INSERT INTO cart_lines (owner_kind, owner_id, item_id, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(owner.Kind()), owner.ID(), itemID, quantity, at.UTC(), at.UTC(),
	)
	if err != nil {
		if r.d.isUniqueViolation(err) {
			// a concurrent request for the same owner inserted first
			return fmt.Errorf("insert cart line: %w", ErrOptimisticLock)
		}
		return fmt.Errorf("insert cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) ReownLine(ctx context.Context, from, to domain.Owner, itemID string, quantity int, at time.Time) error {
	result, err := r.exec(ctx, `
		UPDATE cart_lines
		SET owner_kind = ?, owner_id = ?, quantity = ?, updated_at = ?
		WHERE owner_kind = ? AND owner_id = ? AND item_id = ?`,
		string(to.Kind()), to.ID(), quantity, at.UTC(),
		string(from.Kind()), from.ID(), itemID,
	)
	if err != nil {
		if r.d.isUniqueViolation(err) {
			return fmt.Errorf("reown cart line: %w", ErrOptimisticLock)
		}
		return fmt.Errorf("reown cart line: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reown cart line: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reown cart line %s: %w", itemID, ErrOptimisticLock)
	}
	return nil
}

func (r *cartRepository) DeleteLine(ctx context.Context, owner domain.Owner, itemID string) error {
	_, err := r.exec(ctx, `
		DELETE FROM cart_lines WHERE owner_kind = ? AND owner_id = ? AND item_id = ?`,
		string(owner.Kind()), owner.ID(), itemID,
	)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) Clear(ctx context.Context, owner domain.Owner) error {
	_, err := r.exec(ctx, `
		DELETE FROM cart_lines WHERE owner_kind = ? AND owner_id = ?`,
		string(owner.Kind()), owner.ID(),
	)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
