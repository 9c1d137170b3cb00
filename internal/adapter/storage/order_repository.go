package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/order-engine/internal/core/domain"
)

type orderRepository struct {
	*unitOfWork
}

const selectOrder = `
		SELECT id, owner_kind, owner_id, status, total_amount, shipping_address,
		       payment_intent_id, created_at, updated_at
		FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                  domain.Order
		ownerKind, ownerID string
		status             string
	)
	err := row.Scan(&o.ID, &ownerKind, &ownerID, &status, &o.TotalAmount, &o.ShippingAddress,
		&o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Owner, err = domain.ParseOwner(ownerKind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", o.ID, err)
	}
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func (r *orderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := r.exec(ctx, `
		INSERT INTO orders (id, owner_kind, owner_id, status, total_amount, shipping_address,
		                    payment_intent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, string(order.Owner.Kind()), order.Owner.ID(), string(order.Status), order.TotalAmount,
		order.ShippingAddress, order.PaymentIntentID, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range order.Lines {
		_, err := r.exec(ctx, `
			INSERT INTO order_lines (order_id, item_id, quantity, unit_price)
			VALUES (?, ?, ?, ?)`,
			order.ID, line.ItemID, line.Quantity, line.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order line %s: %w", line.ItemID, err)
		}
	}
	return nil
}

func (r *orderRepository) GetOrder(ctx context.Context, orderID string, forUpdate bool) (*domain.Order, error) {
	order, err := scanOrder(r.queryRow(ctx, selectOrder+` WHERE id = ?`+r.d.lockClause(forUpdate), orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := r.loadLines(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[orderID]
	return order, nil
}

// loadLines fetches line items for several orders in one query, keyed by
// order id and ordered by item id.
func (r *orderRepository) loadLines(ctx context.Context, orderIDs []string) (map[string][]domain.OrderLineItem, error) {
	out := make(map[string][]domain.OrderLineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(orderIDs)), ", ")

	rows, err := r.query(ctx, `
		SELECT order_id, item_id, quantity, unit_price
		FROM order_lines
		WHERE order_id IN (`+placeholders+`)
		ORDER BY order_id, item_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLineItem
		if err := rows.Scan(&line.OrderID, &line.ItemID, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		out[line.OrderID] = append(out[line.OrderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return out, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, at time.Time) error {
	result, err := r.exec(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), at.UTC(), orderID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("order %s no longer %s: %w", orderID, from, ErrOptimisticLock)
	}
	return nil
}

func (r *orderRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Owner != nil {
		conds = append(conds, "owner_kind = ? AND owner_id = ?")
		args = append(args, string(filter.Owner.Kind()), filter.Owner.ID())
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	offset := (filter.Page - 1) * filter.Limit
	rows, err := r.query(ctx, selectOrder+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	lines, err := r.loadLines(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, total, nil
}

func (r *orderRepository) RecordEvent(ctx context.Context, event domain.OrderEvent) error {
	_, err := r.exec(ctx, `
		INSERT INTO order_events (event_type, order_id, owner_kind, owner_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.Type), event.OrderID, string(event.Owner.Kind()), event.Owner.ID(),
		string(event.Payload), event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}
