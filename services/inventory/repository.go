package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied once on startup. Idempotent due to IF NOT EXISTS.
const schema = `
CREATE TABLE IF NOT EXISTS products_inventory (
    id            BIGINT PRIMARY KEY,
    name          TEXT           NOT NULL,
    current_stock INTEGER        NOT NULL CHECK (current_stock >= 0),
    price         NUMERIC(14, 2) NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ    NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ    NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS inventory_movements (
    id              UUID PRIMARY KEY,
    inventory_id    BIGINT      NOT NULL REFERENCES products_inventory(id),
    reservation_id  TEXT        NOT NULL,
    line            INTEGER     NOT NULL,
    change_quantity INTEGER     NOT NULL,
    movement_type   TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (reservation_id, line, movement_type)
);
`

// InventoryRepository defines the database operations of the inventory
type InventoryRepository interface {
	GetProductInventory(ctx context.Context, productID int64) (*ProductInventory, error)
	GetProductForUpdate(ctx context.Context, tx Tx, productID int64) (*ProductInventory, error)
	MovementExists(ctx context.Context, tx Tx, reservationID string, line int, movementType string) (bool, error)
	GetMovement(ctx context.Context, tx Tx, reservationID string, line int, movementType string) (*InventoryMovement, error)
	DecreaseStock(ctx context.Context, tx Tx, movement *InventoryMovement) error
	IncreaseStock(ctx context.Context, tx Tx, movement *InventoryMovement) error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is the transaction handle the use case drives
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresInventoryRepository implements InventoryRepository on PostgreSQL
type PostgresInventoryRepository struct {
	db *pgxpool.Pool
}

// NewInventoryRepository creates a new PostgresInventoryRepository
func NewInventoryRepository(db *pgxpool.Pool) InventoryRepository {
	return &PostgresInventoryRepository{
		db: db,
	}
}

// ApplySchema creates the inventory tables when missing
func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply inventory schema: %w", err)
	}
	return nil
}

// GetProductInventory reads a product without locking it
func (r *PostgresInventoryRepository) GetProductInventory(ctx context.Context, productID int64) (*ProductInventory, error) {
	var inventory ProductInventory
	err := r.db.QueryRow(ctx, `
		SELECT id, name, current_stock, price, created_at, updated_at
		FROM products_inventory
		WHERE id = $1
	`, productID).Scan(
		&inventory.ID,
		&inventory.Name,
		&inventory.CurrentStock,
		&inventory.Price,
		&inventory.CreatedAt,
		&inventory.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", productID, err)
	}
	return &inventory, nil
}

// PostgresTx implements Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// BeginTx starts a new transaction
func (r *PostgresInventoryRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

// GetProductForUpdate reads the product holding a row lock (FOR UPDATE) until commit or rollback
func (r *PostgresInventoryRepository) GetProductForUpdate(ctx context.Context, tx Tx, productID int64) (*ProductInventory, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT id, name, current_stock, price, created_at, updated_at
		FROM products_inventory
		WHERE id = $1
		FOR UPDATE
	`

	var inventory ProductInventory
	err := pgTx.QueryRow(ctx, query, productID).Scan(
		&inventory.ID,
		&inventory.Name,
		&inventory.CurrentStock,
		&inventory.Price,
		&inventory.CreatedAt,
		&inventory.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product with lock: %w", err)
	}

	return &inventory, nil
}

// MovementExists checks whether the reservation line already has a movement of the given type
func (r *PostgresInventoryRepository) MovementExists(ctx context.Context, tx Tx, reservationID string, line int, movementType string) (bool, error) {
	pgTx := tx.(*PostgresTx).tx

	query := `
		SELECT EXISTS(
			SELECT 1 FROM inventory_movements
			WHERE reservation_id = $1 AND line = $2 AND movement_type = $3
		)
	`

	var exists bool
	if err := pgTx.QueryRow(ctx, query, reservationID, line, movementType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check movement: %w", err)
	}
	return exists, nil
}

// GetMovement returns the movement of the given type recorded for a reservation
// line, or nil when there is none.
func (r *PostgresInventoryRepository) GetMovement(ctx context.Context, tx Tx, reservationID string, line int, movementType string) (*InventoryMovement, error) {
	pgTx := tx.(*PostgresTx).tx

	var movement InventoryMovement
	err := pgTx.QueryRow(ctx, `
		SELECT id, inventory_id, reservation_id, line, change_quantity, movement_type, created_at
		FROM inventory_movements
		WHERE reservation_id = $1 AND line = $2 AND movement_type = $3
	`, reservationID, line, movementType).Scan(
		&movement.ID,
		&movement.InventoryID,
		&movement.ReservationID,
		&movement.Line,
		&movement.ChangeQuantity,
		&movement.MovementType,
		&movement.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movement: %w", err)
	}
	return &movement, nil
}

// DecreaseStock subtracts the movement quantity and records the movement
func (r *PostgresInventoryRepository) DecreaseStock(ctx context.Context, tx Tx, movement *InventoryMovement) error {
	return r.applyMovement(ctx, tx, movement, -movement.ChangeQuantity)
}

// IncreaseStock adds the movement quantity back and records the movement
func (r *PostgresInventoryRepository) IncreaseStock(ctx context.Context, tx Tx, movement *InventoryMovement) error {
	return r.applyMovement(ctx, tx, movement, movement.ChangeQuantity)
}

func (r *PostgresInventoryRepository) applyMovement(ctx context.Context, tx Tx, movement *InventoryMovement, delta int) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE products_inventory
		SET current_stock = current_stock + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, movement.InventoryID, delta)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO inventory_movements (id, inventory_id, reservation_id, line, change_quantity, movement_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, movement.ID, movement.InventoryID, movement.ReservationID, movement.Line,
		movement.ChangeQuantity, movement.MovementType, movement.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement record: %w", err)
	}

	return nil
}
