package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderUseCaseInterface is what the handlers need from the use case
type OrderUseCaseInterface interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) (*Order, error)
}

// ApiResponse is the envelope shared by every endpoint of the store services
type ApiResponse struct {
	Ok         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
	Count      int64  `json:"count"`
}

// UpdateStatusRequest is the body of PATCH /api/orders/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OrderHandler holds the order HTTP handlers
type OrderHandler struct {
	useCase     OrderUseCaseInterface
	idempotency IdempotencyStore
	tracer      trace.Tracer
}

// NewOrderHandler creates a new OrderHandler. idempotency may be nil.
func NewOrderHandler(useCase OrderUseCaseInterface, idempotency IdempotencyStore, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{
		useCase:     useCase,
		idempotency: idempotency,
		tracer:      tracer,
	}
}

// CreateOrder reserves stock and records a new order
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_order")
	defer span.End()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		respond(c, http.StatusBadRequest, err.Error(), nil, 0)
		return
	}

	key := c.GetHeader(HeaderXIdempotencyKey)
	if key != "" && h.idempotency != nil {
		span.SetAttributes(attribute.String("idempotency_key", key))
		previousID, started, err := h.idempotency.Begin(ctx, key)
		if err != nil {
			h.fail(c, span, err)
			return
		}
		if !started {
			order, err := h.useCase.GetOrder(ctx, previousID)
			if err != nil {
				h.fail(c, span, err)
				return
			}
			log.Ctx(ctx).Info().Str("order_id", order.ID).Msg("ℹ️  [IDEMPOTENCY] replaying created order")
			respond(c, http.StatusOK, "Order already created", order, 1)
			return
		}
	}

	order, err := h.useCase.CreateOrder(ctx, req)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if abortErr := h.idempotency.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
				log.Ctx(ctx).Error().Err(abortErr).Msg("❌ failed to release idempotency key")
			}
		}
		h.fail(c, span, err)
		return
	}

	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Complete(context.WithoutCancel(ctx), key, order.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("❌ failed to store idempotency key")
		}
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	respond(c, http.StatusCreated, "Order created", order, 1)
}

// GetOrder returns one order
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.useCase.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, trace.SpanFromContext(c.Request.Context()), err)
		return
	}
	respond(c, http.StatusOK, "Order found", order, 1)
}

// UpdateStatus changes the lifecycle status of an order
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "update_order_status")
	defer span.End()

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil, 0)
		return
	}

	orderID := c.Param("id")
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", req.Status),
	)

	order, err := h.useCase.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		h.fail(c, span, err)
		return
	}
	respond(c, http.StatusOK, "Order status updated", order, 1)
}

// HealthCheck is the health endpoint
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "orders-service"})
}

func (h *OrderHandler) fail(c *gin.Context, span trace.Span, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("❌ request failed")
		message = "Internal error while processing the order"
	}
	respond(c, status, message, nil, 0)
}

// HeaderXRequestID is echoed back on every response
const HeaderXRequestID = "X-Request-ID"

// RequestLogger attaches a request-scoped zerolog logger to the request context
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(HeaderXRequestID, requestID)

		logger := log.With().Str("request_id", requestID).Logger()
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			logger = logger.With().
				Str("trace_id", sc.TraceID().String()).
				Str("span_id", sc.SpanID().String()).
				Logger()
		}
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

func respond(c *gin.Context, status int, message string, data any, count int64) {
	c.JSON(status, ApiResponse{
		Ok:         status < http.StatusBadRequest,
		StatusCode: status,
		Message:    message,
		Data:       data,
		Count:      count,
	})
}
