package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stock failure reasons reported to callers in the response payload
const (
	ReasonOutOfStock        = "OUT_OF_STOCK"
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
)

var (
	ErrProductNotFound = errors.New("product not found")
	// ErrMovementMismatch rejects a compensation addressed to a different
	// product than the one its decrease took stock from.
	ErrMovementMismatch = errors.New("compensation does not match the recorded decrease")
)

// InventoryError is a business rejection of a stock change.
type InventoryError struct {
	Reason    string
	Available int
	Message   string
}

func (e *InventoryError) Error() string {
	return e.Message
}

func outOfStock(p *ProductInventory) *InventoryError {
	return &InventoryError{
		Reason:    ReasonOutOfStock,
		Available: 0,
		Message:   fmt.Sprintf("Product out of stock: %s. No units available.", p.Name),
	}
}

func insufficientStock(p *ProductInventory, requested int) *InventoryError {
	return &InventoryError{
		Reason:    ReasonInsufficientStock,
		Available: p.CurrentStock,
		Message: fmt.Sprintf("Insufficient stock for %s. Only %d unit(s) available (requested %d).",
			p.Name, p.CurrentStock, requested),
	}
}

// InventoryUseCase holds the inventory business rules
type InventoryUseCase struct {
	repository        InventoryRepository
	decreaseCounter   metric.Int64Counter
	compensateCounter metric.Int64Counter
}

// NewInventoryUseCase creates a new InventoryUseCase
func NewInventoryUseCase(repository InventoryRepository, meter metric.Meter) (*InventoryUseCase, error) {
	decreaseCounter, err := meter.Int64Counter("inventory_decrease_total",
		metric.WithDescription("Stock decrease attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create decrease counter: %w", err)
	}
	compensateCounter, err := meter.Int64Counter("inventory_compensate_total",
		metric.WithDescription("Stock compensations by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create compensate counter: %w", err)
	}

	return &InventoryUseCase{
		repository:        repository,
		decreaseCounter:   decreaseCounter,
		compensateCounter: compensateCounter,
	}, nil
}

// GetItem returns the current stock of a product
func (uc *InventoryUseCase) GetItem(ctx context.Context, productID int64) (*ProductInventory, error) {
	return uc.repository.GetProductInventory(ctx, productID)
}

// DecreaseStock is the atomic check-and-subtract. The row lock taken by
// GetProductForUpdate serialises concurrent buyers of the same product, so
// the sum of successful decreases never exceeds the stock.
func (uc *InventoryUseCase) DecreaseStock(ctx context.Context, productID int64, req StockAdjustmentRequest) (err error) {
	defer func() { uc.decreaseCounter.Add(ctx, 1, metric.WithAttributes(resultAttr(err))) }()

	log.Ctx(ctx).Info().
		Str("reservation_id", req.ReservationID).
		Int64("product_id", productID).
		Int("line", req.Line).
		Int("quantity", req.Quantity).
		Msg("➡️ [DECREASE STOCK]")

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	product, err := uc.repository.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("product_id", productID).Msg("❌ DECREASE FAILED: GetProductForUpdate")
		return err
	}

	exists, err := uc.repository.MovementExists(ctx, tx, req.ReservationID, req.Line, MovementTypeDecreased)
	if err != nil {
		return fmt.Errorf("error to check idempotency: %w", err)
	}
	if exists {
		log.Ctx(ctx).Info().Str("reservation_id", req.ReservationID).Int("line", req.Line).
			Msg("ℹ️  [IDEMPOTENCY] decrease already applied")
		return nil
	}

	if product.CurrentStock <= 0 {
		log.Ctx(ctx).Warn().Int64("product_id", productID).Msg("❌ DECREASE FAILED: out of stock")
		return outOfStock(product)
	}
	if product.CurrentStock < req.Quantity {
		log.Ctx(ctx).Warn().Int64("product_id", productID).
			Int("available", product.CurrentStock).Int("requested", req.Quantity).
			Msg("❌ DECREASE FAILED: insufficient stock")
		return insufficientStock(product, req.Quantity)
	}

	movement := NewInventoryMovement(productID, req, MovementTypeDecreased)
	if err := uc.repository.DecreaseStock(ctx, tx, movement); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit decrease: %w", err)
	}

	log.Ctx(ctx).Info().Str("reservation_id", req.ReservationID).Int64("product_id", productID).
		Int("remaining", product.CurrentStock-req.Quantity).Msg("✅ [DECREASE] Success")
	return nil
}

// CompensateStock gives back a previous decrease of the same reservation line,
// using the product and quantity that decrease recorded. It succeeds without
// changes when there is nothing to give back or when it already ran, so the
// caller may retry it freely.
func (uc *InventoryUseCase) CompensateStock(ctx context.Context, productID int64, req StockAdjustmentRequest) (err error) {
	defer func() { uc.compensateCounter.Add(ctx, 1, metric.WithAttributes(resultAttr(err))) }()

	log.Ctx(ctx).Info().
		Str("reservation_id", req.ReservationID).
		Int64("product_id", productID).
		Int("line", req.Line).
		Msg("↩️ [COMPENSATE STOCK]")

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := uc.repository.GetProductForUpdate(ctx, tx, productID); err != nil {
		return err
	}

	decreased, err := uc.repository.GetMovement(ctx, tx, req.ReservationID, req.Line, MovementTypeDecreased)
	if err != nil {
		return fmt.Errorf("error to check idempotency: %w", err)
	}
	if decreased == nil {
		log.Ctx(ctx).Info().Str("reservation_id", req.ReservationID).Int("line", req.Line).
			Msg("ℹ️ [COMPENSATE] nothing to compensate")
		return nil
	}
	if decreased.InventoryID != productID {
		log.Ctx(ctx).Warn().Str("reservation_id", req.ReservationID).Int("line", req.Line).
			Int64("product_id", productID).Int64("decreased_product_id", decreased.InventoryID).
			Msg("❌ COMPENSATE FAILED: product does not match the decrease")
		return ErrMovementMismatch
	}

	increased, err := uc.repository.MovementExists(ctx, tx, req.ReservationID, req.Line, MovementTypeIncreased)
	if err != nil {
		return fmt.Errorf("error to check idempotency: %w", err)
	}
	if increased {
		log.Ctx(ctx).Info().Str("reservation_id", req.ReservationID).Int("line", req.Line).
			Msg("ℹ️  [IDEMPOTENCY] compensation already applied")
		return nil
	}

	// the recorded decrease decides what comes back, not the request body
	giveBack := req
	giveBack.Quantity = decreased.ChangeQuantity
	movement := NewInventoryMovement(decreased.InventoryID, giveBack, MovementTypeIncreased)
	if err := uc.repository.IncreaseStock(ctx, tx, movement); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compensation: %w", err)
	}

	log.Ctx(ctx).Info().Str("reservation_id", req.ReservationID).Int64("product_id", productID).
		Int("quantity", movement.ChangeQuantity).Msg("✅ [COMPENSATE] Success")
	return nil
}

func resultAttr(err error) attribute.KeyValue {
	var invErr *InventoryError
	switch {
	case err == nil:
		return attribute.String("result", "ok")
	case errors.Is(err, ErrProductNotFound):
		return attribute.String("result", "not_found")
	case errors.Is(err, ErrMovementMismatch):
		return attribute.String("result", "mismatch")
	case errors.As(err, &invErr):
		return attribute.String("result", invErr.Reason)
	default:
		return attribute.String("result", "error")
	}
}
