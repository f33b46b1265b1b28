package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Compensation strategies
const (
	CompensationNone = "none"
	CompensationSaga = "saga"
	CompensationDTM  = "dtm"
)

// Compensator gives back decrements that were committed before a
// reservation failed. reserved is in the order the decrements were made.
type Compensator interface {
	Compensate(ctx context.Context, reservationID string, reserved []StockAdjustment) error
}

// NewCompensator builds the configured strategy
func NewCompensator(cfg Config, inventory InventoryAccessor, credentials CredentialProvider) (Compensator, error) {
	switch cfg.Compensation {
	case CompensationNone:
		return NoCompensator{}, nil
	case CompensationSaga, "":
		return NewSagaCompensator(inventory), nil
	case CompensationDTM:
		return NewDTMCompensator(cfg.DTMServer, cfg.InventoryURL, credentials), nil
	default:
		return nil, fmt.Errorf("unknown compensation strategy %q", cfg.Compensation)
	}
}

// NoCompensator leaves committed decrements in place and only reports them
type NoCompensator struct{}

func (NoCompensator) Compensate(ctx context.Context, reservationID string, reserved []StockAdjustment) error {
	for _, adj := range reserved {
		log.Ctx(ctx).Warn().
			Str("reservation_id", reservationID).
			Int64("item_id", adj.ItemID).
			Int("quantity", adj.Quantity).
			Msg("⚠️ [COMPENSATION] disabled, units stay decremented")
	}
	return nil
}

// SagaCompensator calls the inventory compensate endpoint for every reserved
// line, last reserved first. It keeps going when one line fails.
type SagaCompensator struct {
	inventory InventoryAccessor
}

func NewSagaCompensator(inventory InventoryAccessor) *SagaCompensator {
	return &SagaCompensator{inventory: inventory}
}

func (s *SagaCompensator) Compensate(ctx context.Context, reservationID string, reserved []StockAdjustment) error {
	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		adj := reserved[i]
		if err := s.inventory.Increase(ctx, adj); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("reservation_id", reservationID).
				Int64("item_id", adj.ItemID).
				Int("line", adj.Line).
				Msg("❌ [COMPENSATION] failed to give back stock")
			errs = append(errs, fmt.Errorf("line %d (item %d): %w", adj.Line, adj.ItemID, err))
			continue
		}
		log.Ctx(ctx).Info().
			Str("reservation_id", reservationID).
			Int64("item_id", adj.ItemID).
			Int("quantity", adj.Quantity).
			Msg("↩️ [COMPENSATION] stock given back")
	}
	return errors.Join(errs...)
}

// DTMCompensator hands the compensations to a DTM two-phase message, which
// retries every branch until the inventory accepts it.
type DTMCompensator struct {
	server       string
	inventoryURL string
	credentials  CredentialProvider
}

func NewDTMCompensator(server, inventoryURL string, credentials CredentialProvider) *DTMCompensator {
	return &DTMCompensator{
		server:       server,
		inventoryURL: inventoryURL,
		credentials:  credentials,
	}
}

func (d *DTMCompensator) Compensate(ctx context.Context, reservationID string, reserved []StockAdjustment) (err error) {
	if len(reserved) == 0 {
		return nil
	}

	gid := "comp-" + reservationID
	ctx, span := createDTMSpan(ctx, "compensate", gid)
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dtm submit failed")
		}
	}()

	token, err := d.credentials.SystemToken(ctx)
	if err != nil {
		return fmt.Errorf("dtm compensation: %w: %v", ErrSystemCredential, err)
	}

	msg := dtmcli.NewMsg(d.server, gid)
	msg.BranchHeaders = map[string]string{
		"Authorization": "Bearer " + token,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.BranchHeaders["traceparent"] = fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID())
	}

	for i := len(reserved) - 1; i >= 0; i-- {
		adj := reserved[i]
		url := d.inventoryURL + "/api/inventory/items/" + strconv.FormatInt(adj.ItemID, 10) + "/compensate"
		msg.Add(url, &adj)
	}

	span.SetAttributes(attribute.Int("dtm.branches", len(reserved)))
	log.Ctx(ctx).Info().Str("gid", gid).Int("branches", len(reserved)).Msg("🚀 [COMPENSATION] submitting DTM message")

	if err := msg.Submit(); err != nil {
		return fmt.Errorf("failed to submit compensation message: %w", err)
	}

	log.Ctx(ctx).Info().Str("gid", gid).Msg("✅ [COMPENSATION] DTM message submitted")
	return nil
}

func createDTMSpan(ctx context.Context, operationName, gid string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("dtm-compensation").Start(ctx, "dtm."+operationName)
	span.SetAttributes(
		attribute.String("dtm.gid", gid),
		attribute.String("dtm.operation", operationName),
		attribute.String("component", "dtm-coordinator"),
	)
	return ctx, span
}
