package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductInventory is the stock row of a catalog item.
type ProductInventory struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	CurrentStock int             `json:"stock" db:"current_stock"`
	Price        decimal.Decimal `json:"price" db:"price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// NewProductInventory creates a new ProductInventory
func NewProductInventory(id int64, name string, initialStock int, price decimal.Decimal) *ProductInventory {
	now := time.Now()
	return &ProductInventory{
		ID:           id,
		Name:         name,
		CurrentStock: initialStock,
		Price:        price,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// InventoryMovement records one stock change made on behalf of a reservation line.
// (reservation_id, line, movement_type) is unique, which is what makes the
// decrease and compensate endpoints safe to retry.
type InventoryMovement struct {
	ID             string    `json:"id" db:"id"`
	InventoryID    int64     `json:"inventory_id" db:"inventory_id"`
	ReservationID  string    `json:"reservation_id" db:"reservation_id"`
	Line           int       `json:"line" db:"line"`
	ChangeQuantity int       `json:"change_quantity" db:"change_quantity"`
	MovementType   string    `json:"movement_type" db:"movement_type"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewInventoryMovement creates a new InventoryMovement with a fresh id
func NewInventoryMovement(inventoryID int64, req StockAdjustmentRequest, movementType string) *InventoryMovement {
	return &InventoryMovement{
		ID:             uuid.New().String(),
		InventoryID:    inventoryID,
		ReservationID:  req.ReservationID,
		Line:           req.Line,
		ChangeQuantity: req.Quantity,
		MovementType:   movementType,
		CreatedAt:      time.Now(),
	}
}

// Movement types
const (
	MovementTypeDecreased = "decreased"
	MovementTypeIncreased = "increased"
)

// StockAdjustmentRequest is the body of the decrease and compensate endpoints.
type StockAdjustmentRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	Line          int    `json:"line" binding:"gte=0"`
	Quantity      int    `json:"quantity" binding:"required,gt=0"`
	// Manual trace context propagation (DTM does not forward W3C headers)
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}
