package main

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one requested item of an order. Built once by the normalizer
// and never mutated afterwards.
type LineItem struct {
	ItemID    int64            `json:"itemId" db:"item_id"`
	Quantity  int              `json:"quantity" db:"quantity"`
	UnitPrice *decimal.Decimal `json:"price,omitempty" db:"unit_price"`
}

// Order is a persisted purchase
type Order struct {
	ID          string          `json:"id" db:"id"`
	BuyerID     string          `json:"userId" db:"buyer_id"`
	TotalAmount decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Status      string          `json:"status" db:"status"`
	Items       []LineItem      `json:"items"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// NewOrder creates a new Order in PENDING status
func NewOrder(id, buyerID string, totalAmount decimal.Decimal, items []LineItem) *Order {
	now := time.Now()
	return &Order{
		ID:          id,
		BuyerID:     buyerID,
		TotalAmount: totalAmount,
		Status:      OrderStatusPending,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusShipped    = "SHIPPED"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusCancelled  = "CANCELLED"
)

var nextStatus = map[string]string{
	OrderStatusPending:    OrderStatusProcessing,
	OrderStatusProcessing: OrderStatusShipped,
	OrderStatusShipped:    OrderStatusCompleted,
}

// ValidStatus reports whether s is a known order status
func ValidStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition may leave the status
func IsTerminal(s string) bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// TransitionTo moves the order to status. Setting the current status again
// is accepted and changes nothing; it returns false in that case.
func (o *Order) TransitionTo(status string) (bool, error) {
	if !ValidStatus(status) {
		return false, &InvalidStatusTransitionError{From: o.Status, To: status}
	}
	if o.Status == status {
		return false, nil
	}
	if IsTerminal(o.Status) {
		return false, &InvalidStatusTransitionError{From: o.Status, To: status}
	}
	if status != OrderStatusCancelled && nextStatus[o.Status] != status {
		return false, &InvalidStatusTransitionError{From: o.Status, To: status}
	}

	o.Status = status
	o.UpdatedAt = time.Now()
	return true, nil
}

// StockSnapshot is a point-in-time read of an inventory item. Never cached.
type StockSnapshot struct {
	ItemID    int64
	Exists    bool
	Available int
	Name      string
}

// Reservation results
const (
	ResultReserved          = "RESERVED"
	ResultInsufficientStock = "INSUFFICIENT_STOCK"
	ResultNotFound          = "NOT_FOUND"
	ResultUnreachable       = "UNREACHABLE"
	ResultRejected          = "REJECTED"
)

// ReservationOutcome is the result of the Phase-2 decrement of one line
type ReservationOutcome struct {
	ItemID   int64  `json:"itemId"`
	Line     int    `json:"line"`
	Quantity int    `json:"quantity"`
	Result   string `json:"result"`
}
