package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id           UUID PRIMARY KEY,
    buyer_id     TEXT           NOT NULL,
    total_amount NUMERIC(14, 2) NOT NULL CHECK (total_amount > 0),
    status       TEXT           NOT NULL,
    created_at   TIMESTAMPTZ    NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ    NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS order_items (
    order_id   UUID           NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    line       INTEGER        NOT NULL,
    item_id    BIGINT         NOT NULL,
    quantity   INTEGER        NOT NULL CHECK (quantity > 0),
    unit_price NUMERIC(14, 2),
    PRIMARY KEY (order_id, line)
);
`

// Repository is the order ledger
type Repository interface {
	// CreateOrder stores the order and its lines atomically
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrder returns ErrOrderNotFound for unknown ids
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// UpdateOrderStatus applies a status transition under a row lock
	UpdateOrderStatus(ctx context.Context, orderID string, status string) (*Order, error)
}

// OrderRepository implements Repository on PostgreSQL
type OrderRepository struct {
	db *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *pgxpool.Pool) Repository {
	return &OrderRepository{
		db: db,
	}
}

// ApplySchema creates the order tables when missing
func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply orders schema: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.BuyerID, order.TotalAmount, order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for line, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, line, item_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, line, item.ItemID, item.Quantity, nullDecimal(item.UnitPrice))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return r.getOrder(ctx, r.db, orderID, false)
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID string, status string) (*Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := r.getOrder(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}

	changed, err := order.TransitionTo(status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, order.Status, order.UpdatedAt, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return order, nil
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *OrderRepository) getOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (*Order, error) {
	query := `
		SELECT id, buyer_id, total_amount, status, created_at, updated_at
		FROM orders WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var order Order
	err := q.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.BuyerID, &order.TotalAmount, &order.Status, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	rows, err := q.Query(ctx, `
		SELECT item_id, quantity, unit_price
		FROM order_items WHERE order_id = $1
		ORDER BY line
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item LineItem
		var price decimal.NullDecimal
		if err := rows.Scan(&item.ItemID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if price.Valid {
			item.UnitPrice = &price.Decimal
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order items: %w", err)
	}

	return &order, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
