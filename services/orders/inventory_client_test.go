package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":         status < 400,
		"statusCode": status,
		"message":    message,
		"data":       data,
		"count":      0,
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *InventoryClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewInventoryClient(srv.URL, time.Second, StaticCredentialProvider{Token: "secret"})
}

func TestInventoryClient_GetStock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inventory/items/1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "item reads are anonymous")
		writeEnvelope(w, 200, "Product found", map[string]any{"id": 1, "name": "Laptop", "stock": 8, "price": "1999.99"})
	})

	snap, err := client.GetStock(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, StockSnapshot{ItemID: 1, Exists: true, Available: 8, Name: "Laptop"}, snap)
}

func TestInventoryClient_GetStockNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 404, "Product not found", nil)
	})

	snap, err := client.GetStock(context.Background(), 99)

	require.NoError(t, err)
	assert.False(t, snap.Exists)
}

func TestInventoryClient_GetStockServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 500, "boom", nil)
	})

	_, err := client.GetStock(context.Background(), 1)

	assert.ErrorIs(t, err, ErrRemoteServiceUnavailable)
}

func TestInventoryClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeEnvelope(w, 200, "late", nil)
	}))
	t.Cleanup(srv.Close)
	client := NewInventoryClient(srv.URL, 20*time.Millisecond, StaticCredentialProvider{Token: "secret"})

	_, err := client.GetStock(context.Background(), 1)

	assert.ErrorIs(t, err, ErrRemoteServiceUnavailable)
}

func TestInventoryClient_Decrease(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/inventory/items/5/decrease", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "res-1", body["reservation_id"])
		assert.EqualValues(t, 1, body["line"])
		assert.EqualValues(t, 3, body["quantity"])

		writeEnvelope(w, 200, "Stock updated", map[string]any{"result": "success"})
	})

	err := client.Decrease(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 5, Line: 1, Quantity: 3})

	assert.NoError(t, err)
}

func TestInventoryClient_DecreaseRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 400, "Insufficient stock for Phone. Only 1 unit(s) available (requested 3).",
			map[string]any{"reason": "INSUFFICIENT_STOCK", "available": 1})
	})

	err := client.Decrease(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 5, Quantity: 3})

	var rejected *StockRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 1, rejected.Available)
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestInventoryClient_DecreaseOutOfStock(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 400, "Product out of stock: Phone. No units available.",
			map[string]any{"reason": "OUT_OF_STOCK", "available": 0})
	})

	err := client.Decrease(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 5, Quantity: 1})

	assert.ErrorIs(t, err, ErrProductOutOfStock)
}

func TestInventoryClient_DecreaseNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 404, "Product not found", nil)
	})

	err := client.Decrease(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 99, Quantity: 1})

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestInventoryClient_CredentialRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 401, "A system credential is required to change stock", nil)
	})

	err := client.Increase(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 1, Quantity: 1})

	assert.ErrorIs(t, err, ErrSystemCredential)
	assert.NotErrorIs(t, err, ErrRemoteServiceUnavailable)
	assert.Equal(t, 500, HTTPStatus(err), "a rejected system credential is a server fault")
}

func TestInventoryClient_Increase(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inventory/items/1/compensate", r.URL.Path)
		writeEnvelope(w, 200, "Stock updated", nil)
	})

	err := client.Increase(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 1, Quantity: 1})

	assert.NoError(t, err)
}

type brokenCredentials struct{}

func (brokenCredentials) SystemToken(context.Context) (string, error) {
	return "", ErrUnauthorized
}

func TestInventoryClient_MissingCredentialSkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeEnvelope(w, 200, "Stock updated", nil)
	}))
	t.Cleanup(srv.Close)
	client := NewInventoryClient(srv.URL, time.Second, brokenCredentials{})

	err := client.Decrease(context.Background(), StockAdjustment{ReservationID: "res-1", ItemID: 1, Quantity: 1})

	assert.ErrorIs(t, err, ErrSystemCredential)
	assert.Equal(t, 500, HTTPStatus(err))
	assert.False(t, called)
}
