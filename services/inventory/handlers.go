package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ApiResponse is the envelope shared by every endpoint of the store services
type ApiResponse struct {
	Ok         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
	Count      int64  `json:"count"`
}

// StockRejection is the data payload of a 400 answer to a decrease
type StockRejection struct {
	Reason    string `json:"reason"`
	Available int    `json:"available"`
}

// InventoryHandler holds the inventory HTTP handlers
type InventoryHandler struct {
	useCase *InventoryUseCase
	tracer  trace.Tracer
}

// NewInventoryHandler creates a new InventoryHandler
func NewInventoryHandler(useCase *InventoryUseCase, tracer trace.Tracer) *InventoryHandler {
	return &InventoryHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// GetItem answers the stock snapshot of one product. No authentication required.
func (h *InventoryHandler) GetItem(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	product, err := h.useCase.GetItem(c.Request.Context(), productID)
	if errors.Is(err, ErrProductNotFound) {
		respond(c, http.StatusNotFound, "Product not found", nil, 0)
		return
	}
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Int64("product_id", productID).Msg("❌ [GET ITEM] failed")
		respond(c, http.StatusInternalServerError, "Failed to read product", nil, 0)
		return
	}

	respond(c, http.StatusOK, "Product found", product, 1)
}

// DecreaseStock is the atomic check-and-subtract endpoint
func (h *InventoryHandler) DecreaseStock(c *gin.Context) {
	h.adjust(c, "decrease_inventory", h.useCase.DecreaseStock)
}

// CompensateStock gives back a previous decrease. DTM may call it repeatedly.
func (h *InventoryHandler) CompensateStock(c *gin.Context) {
	h.adjust(c, "compensate_inventory", h.useCase.CompensateStock)
}

type adjustFunc func(ctx context.Context, productID int64, req StockAdjustmentRequest) error

func (h *InventoryHandler) adjust(c *gin.Context, operation string, apply adjustFunc) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}

	var req StockAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, err.Error(), nil, 0)
		return
	}

	ctx, span := getOrStartSpanFromPayload(c.Request.Context(), h.tracer, operation, req)
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", req.ReservationID),
		attribute.Int64("product_id", productID),
		attribute.Int("line", req.Line),
		attribute.Int("quantity", req.Quantity),
	)

	err := apply(ctx, productID, req)

	var invErr *InventoryError
	switch {
	case err == nil:
		respond(c, http.StatusOK, "Stock updated", gin.H{"result": "success"}, 1)
	case errors.Is(err, ErrProductNotFound):
		span.SetStatus(codes.Error, "product not found")
		respond(c, http.StatusNotFound, "Product not found", nil, 0)
	case errors.Is(err, ErrMovementMismatch):
		span.SetStatus(codes.Error, "movement mismatch")
		respond(c, http.StatusConflict, err.Error(), nil, 0)
	case errors.As(err, &invErr):
		span.SetStatus(codes.Error, invErr.Reason)
		respond(c, http.StatusBadRequest, invErr.Message, StockRejection{
			Reason:    invErr.Reason,
			Available: invErr.Available,
		}, 0)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock update failed")
		log.Ctx(ctx).Error().Err(err).Str("operation", operation).Msg("❌ stock update failed")
		respond(c, http.StatusInternalServerError, "Failed to update stock", nil, 0)
	}
}

// HealthCheck is the health endpoint
func (h *InventoryHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "inventory-service"})
}

// RequireSystemToken guards the stock mutation endpoints with the
// service-to-service bearer credential.
func RequireSystemToken(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if token == "" || subtle.ConstantTimeCompare(got, expected) != 1 {
			respond(c, http.StatusUnauthorized, "A system credential is required to change stock", nil, 0)
			c.Abort()
			return
		}
		c.Next()
	}
}

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

// HeaderXRequestID is echoed back on every response
const HeaderXRequestID = "X-Request-ID"

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		respond(c, http.StatusBadRequest, "Invalid product id", nil, 0)
		return 0, false
	}
	return id, true
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

// getOrStartSpanFromPayload always returns a child span of the current trace,
// rebuilding the parent from the payload when the caller (e.g. DTM) did not
// forward W3C headers.
func getOrStartSpanFromPayload(ctx context.Context, tracer trace.Tracer, operationName string, req StockAdjustmentRequest) (context.Context, trace.Span) {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return tracer.Start(ctx, operationName)
	}

	if req.TraceID != "" && req.SpanID != "" {
		parsedTraceID, errT := trace.TraceIDFromHex(req.TraceID)
		parsedSpanID, errS := trace.SpanIDFromHex(req.SpanID)
		if errT == nil && errS == nil {
			spanContext := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    parsedTraceID,
				SpanID:     parsedSpanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			})
			ctx = trace.ContextWithSpanContext(ctx, spanContext)
		}
	}

	return tracer.Start(ctx, operationName)
}
