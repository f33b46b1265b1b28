package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CreateOrderRequest is the body of POST /api/orders. It accepts either an
// explicit items list or a flat list of item ids; quantities default to 1.
type CreateOrderRequest struct {
	UserID      FlexibleID         `json:"userId"`
	TotalAmount *decimal.Decimal   `json:"totalAmount"`
	Total       *decimal.Decimal   `json:"total"`
	ItemIDs     IDList             `json:"itemIds"`
	ProductIDs  IDList             `json:"productIds"`
	Items       []OrderItemRequest `json:"items"`
}

// OrderItemRequest is one entry of the explicit items shape
type OrderItemRequest struct {
	ItemID    *int64           `json:"itemId"`
	ProductID *int64           `json:"productId"`
	Quantity  *int             `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
}

// NormalizedOrder is a validated create request
type NormalizedOrder struct {
	BuyerID     string
	TotalAmount decimal.Decimal
	Items       []LineItem
}

// FlexibleID accepts a JSON string or number
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("userId must be a string or a number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// IDList accepts a JSON array of ids (numbers or numeric strings) or the
// legacy comma separated string "1,5,8". Entries that are not integers are
// skipped.
type IDList []int64

func (l *IDList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}

	var parts []string
	switch {
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parts = strings.Split(s, ",")
	case len(b) > 0 && b[0] == '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		for _, r := range raw {
			parts = append(parts, strings.Trim(string(r), `" `))
		}
	default:
		return fmt.Errorf("item ids must be an array or a comma separated string")
	}

	ids := make(IDList, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			log.Warn().Str("entry", p).Msg("⚠️ skipping invalid item id")
			continue
		}
		ids = append(ids, id)
	}
	*l = ids
	return nil
}

// Normalize turns a create request into a validated buyer, total and
// ordered line items. Duplicate ids become separate lines.
func Normalize(ctx context.Context, req CreateOrderRequest, buyers BuyerResolver) (*NormalizedOrder, error) {
	buyerID := string(req.UserID)
	if buyerID == "" && buyers != nil {
		resolved, err := buyers.ResolveBuyer(ctx)
		if err == nil {
			buyerID = resolved
		}
	}
	if buyerID == "" {
		return nil, validationErrorf("userId is required")
	}

	total := req.TotalAmount
	if total == nil {
		total = req.Total
	}
	if total == nil {
		return nil, validationErrorf("totalAmount is required")
	}
	if !total.IsPositive() {
		return nil, validationErrorf("totalAmount must be greater than 0")
	}
	if err := checkAmount("totalAmount", *total); err != nil {
		return nil, err
	}

	items, err := buildLineItems(req)
	if err != nil {
		return nil, err
	}

	return &NormalizedOrder{
		BuyerID:     buyerID,
		TotalAmount: *total,
		Items:       items,
	}, nil
}

func buildLineItems(req CreateOrderRequest) ([]LineItem, error) {
	if len(req.Items) > 0 {
		items := make([]LineItem, 0, len(req.Items))
		for i, it := range req.Items {
			id := it.ItemID
			if id == nil {
				id = it.ProductID
			}
			if id == nil {
				return nil, validationErrorf("items[%d]: itemId is required", i)
			}
			quantity := 1
			if it.Quantity != nil && *it.Quantity > 0 {
				quantity = *it.Quantity
			}
			if quantity > maxQuantity {
				return nil, validationErrorf("items[%d]: quantity must be at most %d", i, maxQuantity)
			}
			if it.Price != nil {
				if it.Price.IsNegative() {
					return nil, validationErrorf("items[%d]: price must not be negative", i)
				}
				if err := checkAmount(fmt.Sprintf("items[%d].price", i), *it.Price); err != nil {
					return nil, err
				}
			}
			items = append(items, LineItem{ItemID: *id, Quantity: quantity, UnitPrice: it.Price})
		}
		return items, nil
	}

	ids := req.ItemIDs
	if len(ids) == 0 {
		ids = req.ProductIDs
	}
	if len(ids) == 0 {
		return nil, validationErrorf("at least one item is required")
	}

	items := make([]LineItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, LineItem{ItemID: id, Quantity: 1})
	}
	return items, nil
}

// Amounts are stored as NUMERIC(14, 2) and quantities as INTEGER; anything
// that does not fit is rejected here, before any stock is touched.
const (
	amountScale = 2
	maxQuantity = math.MaxInt32
)

var maxAmount = decimal.New(1, 12)

func checkAmount(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(amountScale)) {
		return validationErrorf("%s must have at most %d decimal places", field, amountScale)
	}
	if amount.Abs().GreaterThanOrEqual(maxAmount) {
		return validationErrorf("%s must be less than %s", field, maxAmount.String())
	}
	return nil
}
