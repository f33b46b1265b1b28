package main

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewOrderRepository(t *testing.T) {
	// Arrange
	var db *pgxpool.Pool

	// Act
	repo := NewOrderRepository(db)

	// Assert
	assert.NotNil(t, repo)
	assert.IsType(t, &OrderRepository{}, repo)
}

func TestNullDecimal(t *testing.T) {
	assert.False(t, nullDecimal(nil).Valid)

	price := decimal.RequireFromString("19.90")
	nd := nullDecimal(&price)
	assert.True(t, nd.Valid)
	assert.True(t, price.Equal(nd.Decimal))
}
