package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Reserver reserves and releases the stock of an order's lines
type Reserver interface {
	Reserve(ctx context.Context, reservationID string, items []LineItem) ([]ReservationOutcome, error)
	Release(ctx context.Context, reservationID string, items []LineItem)
}

// OrderUseCase holds the order business rules
type OrderUseCase struct {
	repository   Repository
	reserver     Reserver
	buyers       BuyerResolver
	orderCounter metric.Int64Counter
}

// NewOrderUseCase creates a new OrderUseCase
func NewOrderUseCase(
	repository Repository,
	reserver Reserver,
	buyers BuyerResolver,
	meter metric.Meter,
) (*OrderUseCase, error) {
	orderCounter, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Create order attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create order counter: %w", err)
	}

	return &OrderUseCase{
		repository:   repository,
		reserver:     reserver,
		buyers:       buyers,
		orderCounter: orderCounter,
	}, nil
}

// CreateOrder validates the request, reserves every line and records the
// order. Nothing is recorded unless every line was reserved.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, req CreateOrderRequest) (order *Order, err error) {
	defer func() {
		uc.orderCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status_code", HTTPStatus(err))))
	}()

	normalized, err := Normalize(ctx, req, uc.buyers)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("❌ [CREATE ORDER] invalid request")
		return nil, err
	}

	orderID := uuid.New().String()
	log.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("buyer_id", normalized.BuyerID).
		Int("lines", len(normalized.Items)).
		Msg("➡️ [CREATE ORDER]")

	if _, err := uc.reserver.Reserve(ctx, orderID, normalized.Items); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("❌ [CREATE ORDER] reservation failed")
		return nil, err
	}

	order = NewOrder(orderID, normalized.BuyerID, normalized.TotalAmount, normalized.Items)
	if err := uc.repository.CreateOrder(ctx, order); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("❌ Failed to create order, releasing stock")
		uc.reserver.Release(ctx, orderID, normalized.Items)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Ctx(ctx).Info().Str("order_id", orderID).Msg("✅ Order created")
	return order, nil
}

// GetOrder returns one order with its lines
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}
	return uc.repository.GetOrder(ctx, orderID)
}

// UpdateStatus moves an order through its lifecycle
func (uc *OrderUseCase) UpdateStatus(ctx context.Context, orderID, status string) (*Order, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !ValidStatus(status) {
		return nil, &InvalidStatusTransitionError{To: status}
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrOrderNotFound
	}

	log.Ctx(ctx).Info().Str("order_id", orderID).Str("status", status).Msg("🔄 [UPDATE STATUS]")

	order, err := uc.repository.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("order_id", orderID).Msg("❌ Failed to update order status")
		return nil, err
	}

	log.Ctx(ctx).Info().Str("order_id", orderID).Str("status", order.Status).Msg("✅ Order status updated")
	return order, nil
}
