package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultCompensationTimeout = 10 * time.Second

// ReservationCoordinator reserves the stock of every line of an order, or
// none of it. Phase 1 reads a fresh snapshot of every line and rejects the
// request early; Phase 2 decrements line by line and is the only check that
// counts, since stock may move between the two.
type ReservationCoordinator struct {
	inventory     InventoryAccessor
	compensator   Compensator
	timeout       time.Duration
	tracer        trace.Tracer
	outcomes      metric.Int64Counter
	compensations metric.Int64Counter
}

// NewReservationCoordinator creates a new ReservationCoordinator. A zero
// timeout leaves the reservation bounded only by the caller's context.
func NewReservationCoordinator(
	inventory InventoryAccessor,
	compensator Compensator,
	timeout time.Duration,
	tracer trace.Tracer,
	meter metric.Meter,
) (*ReservationCoordinator, error) {
	outcomes, err := meter.Int64Counter("reservation_line_outcomes_total",
		metric.WithDescription("Phase-2 decrement outcomes per line"))
	if err != nil {
		return nil, fmt.Errorf("failed to create outcomes counter: %w", err)
	}
	compensations, err := meter.Int64Counter("reservation_compensations_total",
		metric.WithDescription("Reservations that needed compensation, by result"))
	if err != nil {
		return nil, fmt.Errorf("failed to create compensations counter: %w", err)
	}

	return &ReservationCoordinator{
		inventory:     inventory,
		compensator:   compensator,
		timeout:       timeout,
		tracer:        tracer,
		outcomes:      outcomes,
		compensations: compensations,
	}, nil
}

// Reserve runs both phases for items. A nil error means every line was
// decremented. On error no line stays reserved, except when the compensation
// strategy itself fails.
func (c *ReservationCoordinator) Reserve(ctx context.Context, reservationID string, items []LineItem) ([]ReservationOutcome, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int("lines", len(items)),
	)

	snapshots, err := c.validateAll(ctx, items)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	outcomes, toCompensate, err := c.reserveAll(ctx, reservationID, items, snapshots)
	if err != nil {
		span.SetStatus(codes.Error, "reservation failed")
		c.compensate(ctx, reservationID, toCompensate)
		return outcomes, err
	}

	log.Ctx(ctx).Info().Str("reservation_id", reservationID).Int("lines", len(items)).
		Msg("✅ [RESERVATION] all lines reserved")
	return outcomes, nil
}

// validateAll scans every line before reporting. Missing items take
// precedence over stock problems. Each item is reported once even when it
// appears on several lines; its problem then sums the requested quantity.
func (c *ReservationCoordinator) validateAll(ctx context.Context, items []LineItem) ([]StockSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "reservation.validate_all")
	defer span.End()

	snapshots := make([]StockSnapshot, len(items))
	var missing []int64
	var problems []StockProblem
	seenMissing := make(map[int64]bool)
	problemIndex := make(map[int64]int)

	for i, item := range items {
		snap, err := c.inventory.GetStock(ctx, item.ItemID)
		if err != nil {
			span.RecordError(err)
			log.Ctx(ctx).Error().Err(err).Int64("item_id", item.ItemID).Msg("❌ [VALIDATE] inventory unreachable")
			return nil, err
		}
		snapshots[i] = snap

		switch {
		case !snap.Exists:
			log.Ctx(ctx).Warn().Int64("item_id", item.ItemID).Msg("❌ [VALIDATE] item not found")
			if !seenMissing[item.ItemID] {
				seenMissing[item.ItemID] = true
				missing = append(missing, item.ItemID)
			}
		case snap.Available <= 0 || snap.Available < item.Quantity:
			log.Ctx(ctx).Warn().Int64("item_id", item.ItemID).
				Int("available", snap.Available).Int("requested", item.Quantity).
				Msg("❌ [VALIDATE] not enough stock")
			if idx, ok := problemIndex[item.ItemID]; ok {
				problems[idx].Requested += item.Quantity
				continue
			}
			problemIndex[item.ItemID] = len(problems)
			problems = append(problems, StockProblem{
				ItemID:    item.ItemID,
				Name:      snap.Name,
				Available: snap.Available,
				Requested: item.Quantity,
			})
		}
	}

	if len(missing) > 0 {
		return nil, &ProductNotFoundError{IDs: missing}
	}
	if len(problems) > 0 {
		return nil, &StockError{Problems: problems}
	}
	return snapshots, nil
}

// reserveAll decrements the lines in order and stops at the first failure.
// The returned adjustments are the lines that may hold stock: the committed
// ones plus an unreachable one, whose decrement may or may not have landed.
// A line refused for its credential never ran and is left out.
func (c *ReservationCoordinator) reserveAll(
	ctx context.Context,
	reservationID string,
	items []LineItem,
	snapshots []StockSnapshot,
) ([]ReservationOutcome, []StockAdjustment, error) {
	ctx, span := c.tracer.Start(ctx, "reservation.reserve_all")
	defer span.End()

	outcomes := make([]ReservationOutcome, 0, len(items))
	reserved := make([]StockAdjustment, 0, len(items))

	for i, item := range items {
		adj := newStockAdjustment(ctx, reservationID, i, item)
		err := c.inventory.Decrease(ctx, adj)

		outcome := ReservationOutcome{ItemID: item.ItemID, Line: i, Quantity: item.Quantity, Result: classify(err)}
		outcomes = append(outcomes, outcome)
		c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", outcome.Result)))

		if err == nil {
			reserved = append(reserved, adj)
			continue
		}

		span.RecordError(err)
		log.Ctx(ctx).Warn().Err(err).
			Str("reservation_id", reservationID).
			Int64("item_id", item.ItemID).
			Int("line", i).
			Str("result", outcome.Result).
			Msg("❌ [RESERVE] decrement failed, aborting")

		var rejected *StockRejectedError
		switch {
		case errors.As(err, &rejected):
			return outcomes, reserved, &StockError{Problems: []StockProblem{{
				ItemID:    item.ItemID,
				Name:      snapshots[i].Name,
				Available: rejected.Available,
				Requested: item.Quantity,
			}}}
		case outcome.Result == ResultUnreachable:
			reserved = append(reserved, adj)
			return outcomes, reserved, err
		default:
			return outcomes, reserved, err
		}
	}

	return outcomes, reserved, nil
}

// Release gives back every line of a reservation that fully succeeded, for
// when the order could not be recorded afterwards.
func (c *ReservationCoordinator) Release(ctx context.Context, reservationID string, items []LineItem) {
	reserved := make([]StockAdjustment, 0, len(items))
	for i, item := range items {
		reserved = append(reserved, newStockAdjustment(ctx, reservationID, i, item))
	}
	c.compensate(ctx, reservationID, reserved)
}

func classify(err error) string {
	switch {
	case err == nil:
		return ResultReserved
	case errors.Is(err, ErrProductOutOfStock), errors.Is(err, ErrInsufficientStock):
		return ResultInsufficientStock
	case errors.Is(err, ErrProductNotFound):
		return ResultNotFound
	case errors.Is(err, ErrSystemCredential):
		return ResultRejected
	default:
		return ResultUnreachable
	}
}

// compensate runs detached from the request so that a cancelled or timed
// out caller does not stop the give-back.
func (c *ReservationCoordinator) compensate(ctx context.Context, reservationID string, reserved []StockAdjustment) {
	if len(reserved) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCompensationTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "reservation.compensate")
	defer span.End()
	span.SetAttributes(attribute.Int("lines", len(reserved)))

	result := "ok"
	if err := c.compensator.Compensate(ctx, reservationID, reserved); err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		log.Ctx(ctx).Error().Err(err).Str("reservation_id", reservationID).
			Msg("❌ [COMPENSATION] stock may remain decremented")
	}
	c.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
