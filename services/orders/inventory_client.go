package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// InventoryAccessor is the order service's view of the inventory store
type InventoryAccessor interface {
	GetStock(ctx context.Context, itemID int64) (StockSnapshot, error)
	Decrease(ctx context.Context, adj StockAdjustment) error
	Increase(ctx context.Context, adj StockAdjustment) error
}

// StockAdjustment identifies one reservation line sent to the inventory
type StockAdjustment struct {
	ReservationID string `json:"reservation_id"`
	ItemID        int64  `json:"-"`
	Line          int    `json:"line"`
	Quantity      int    `json:"quantity"`
	TraceID       string `json:"trace_id,omitempty"`
	SpanID        string `json:"span_id,omitempty"`
}

func newStockAdjustment(ctx context.Context, reservationID string, line int, item LineItem) StockAdjustment {
	adj := StockAdjustment{
		ReservationID: reservationID,
		ItemID:        item.ItemID,
		Line:          line,
		Quantity:      item.Quantity,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		adj.TraceID = sc.TraceID().String()
		adj.SpanID = sc.SpanID().String()
	}
	return adj
}

// StockRejectedError is the inventory refusing a decrease
type StockRejectedError struct {
	ItemID    int64
	Reason    string
	Available int
	Message   string
}

func (e *StockRejectedError) Error() string {
	return e.Message
}

func (e *StockRejectedError) Is(target error) bool {
	if target == ErrInsufficientStock {
		return true
	}
	return target == ErrProductOutOfStock && e.Reason == "OUT_OF_STOCK"
}

// apiResponse is the envelope returned by the inventory service
type apiResponse struct {
	Ok         bool            `json:"ok"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Count      int64           `json:"count"`
}

type itemPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

type rejectionPayload struct {
	Reason    string `json:"reason"`
	Available int    `json:"available"`
}

// InventoryClient talks to the inventory service over HTTP
type InventoryClient struct {
	client      *resty.Client
	credentials CredentialProvider
}

// NewInventoryClient creates a new InventoryClient. timeout bounds every call.
func NewInventoryClient(baseURL string, timeout time.Duration, credentials CredentialProvider) *InventoryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &InventoryClient{
		client:      client,
		credentials: credentials,
	}
}

func (c *InventoryClient) request(ctx context.Context) *resty.Request {
	req := c.client.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req
}

// GetStock reads the current stock of an item. An unknown item is reported
// with Exists=false, not as an error.
func (c *InventoryClient) GetStock(ctx context.Context, itemID int64) (StockSnapshot, error) {
	var envelope apiResponse
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(itemID, 10)).
		SetResult(&envelope).
		SetError(&envelope).
		Get("/api/inventory/items/{id}")
	if err != nil {
		return StockSnapshot{}, &RemoteError{Op: "get item", Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return StockSnapshot{ItemID: itemID, Exists: false}, nil
	default:
		return StockSnapshot{}, &RemoteError{Op: "get item", Err: fmt.Errorf("unexpected status %d", resp.StatusCode())}
	}

	var item itemPayload
	if err := json.Unmarshal(envelope.Data, &item); err != nil {
		return StockSnapshot{}, &RemoteError{Op: "get item", Err: fmt.Errorf("failed to decode item: %w", err)}
	}
	available := item.Stock
	if available < 0 {
		available = 0
	}

	return StockSnapshot{
		ItemID:    itemID,
		Exists:    true,
		Available: available,
		Name:      item.Name,
	}, nil
}

// Decrease atomically subtracts the line quantity
func (c *InventoryClient) Decrease(ctx context.Context, adj StockAdjustment) error {
	return c.adjust(ctx, "decrease", adj)
}

// Increase gives back a previous decrease of the same line
func (c *InventoryClient) Increase(ctx context.Context, adj StockAdjustment) error {
	return c.adjust(ctx, "compensate", adj)
}

func (c *InventoryClient) adjust(ctx context.Context, action string, adj StockAdjustment) error {
	token, err := c.credentials.SystemToken(ctx)
	if err != nil {
		return fmt.Errorf("inventory %s: %w: %v", action, ErrSystemCredential, err)
	}

	var envelope apiResponse
	resp, err := c.request(ctx).
		SetAuthToken(token).
		SetPathParam("id", strconv.FormatInt(adj.ItemID, 10)).
		SetBody(adj).
		SetResult(&envelope).
		SetError(&envelope).
		Post("/api/inventory/items/{id}/" + action)
	if err != nil {
		return &RemoteError{Op: action, Err: err}
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return &ProductNotFoundError{IDs: []int64{adj.ItemID}}
	case http.StatusBadRequest:
		var rejection rejectionPayload
		if err := json.Unmarshal(envelope.Data, &rejection); err != nil || rejection.Reason == "" {
			return &RemoteError{Op: action, Err: fmt.Errorf("bad request: %s", envelope.Message)}
		}
		return &StockRejectedError{
			ItemID:    adj.ItemID,
			Reason:    rejection.Reason,
			Available: rejection.Available,
			Message:   envelope.Message,
		}
	case http.StatusUnauthorized:
		return fmt.Errorf("inventory %s: %w", action, ErrSystemCredential)
	default:
		return &RemoteError{Op: action, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), envelope.Message)}
	}
}
