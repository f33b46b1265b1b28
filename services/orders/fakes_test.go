package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

type fakeItem struct {
	name  string
	stock int
}

type movementKey struct {
	reservationID string
	line          int
}

type fakeMovement struct {
	itemID   int64
	quantity int
}

// fakeInventory is an in-memory inventory store with the same atomic
// decrement and idempotent give-back as the real service.
type fakeInventory struct {
	mu          sync.Mutex
	items       map[int64]*fakeItem
	decreased   map[movementKey]fakeMovement
	increased   map[movementKey]bool
	unreachable map[int64]bool
	// items whose stock changes answer 401
	credentialRejected map[int64]bool

	// beforeDecrease runs outside the lock, before the decrement of an item
	beforeDecrease func(itemID int64)

	getCalls      int
	decreaseCalls []StockAdjustment
	increaseCalls []StockAdjustment
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{
		items:       map[int64]*fakeItem{},
		decreased:          map[movementKey]fakeMovement{},
		increased:          map[movementKey]bool{},
		unreachable:        map[int64]bool{},
		credentialRejected: map[int64]bool{},
	}
}

func (f *fakeInventory) with(id int64, name string, stock int) *fakeInventory {
	f.items[id] = &fakeItem{name: name, stock: stock}
	return f
}

func (f *fakeInventory) stock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].stock
}

func (f *fakeInventory) GetStock(ctx context.Context, itemID int64) (StockSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++

	if f.unreachable[itemID] {
		return StockSnapshot{}, &RemoteError{Op: "get item", Err: context.DeadlineExceeded}
	}
	item, ok := f.items[itemID]
	if !ok {
		return StockSnapshot{ItemID: itemID}, nil
	}
	return StockSnapshot{ItemID: itemID, Exists: true, Available: item.stock, Name: item.name}, nil
}

func (f *fakeInventory) Decrease(ctx context.Context, adj StockAdjustment) error {
	if f.beforeDecrease != nil {
		f.beforeDecrease(adj.ItemID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.decreaseCalls = append(f.decreaseCalls, adj)

	if f.unreachable[adj.ItemID] {
		return &RemoteError{Op: "decrease", Err: context.DeadlineExceeded}
	}
	if f.credentialRejected[adj.ItemID] {
		return fmt.Errorf("inventory decrease: %w", ErrSystemCredential)
	}
	item, ok := f.items[adj.ItemID]
	if !ok {
		return &ProductNotFoundError{IDs: []int64{adj.ItemID}}
	}
	key := movementKey{adj.ReservationID, adj.Line}
	if _, done := f.decreased[key]; done {
		return nil
	}
	if item.stock <= 0 {
		return &StockRejectedError{ItemID: adj.ItemID, Reason: "OUT_OF_STOCK", Message: "out of stock"}
	}
	if item.stock < adj.Quantity {
		return &StockRejectedError{ItemID: adj.ItemID, Reason: "INSUFFICIENT_STOCK", Available: item.stock, Message: "insufficient"}
	}
	item.stock -= adj.Quantity
	f.decreased[key] = fakeMovement{itemID: adj.ItemID, quantity: adj.Quantity}
	return nil
}

func (f *fakeInventory) Increase(ctx context.Context, adj StockAdjustment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increaseCalls = append(f.increaseCalls, adj)

	key := movementKey{adj.ReservationID, adj.Line}
	if f.credentialRejected[adj.ItemID] {
		return fmt.Errorf("inventory compensate: %w", ErrSystemCredential)
	}
	moved, ok := f.decreased[key]
	if !ok || f.increased[key] {
		return nil
	}
	if moved.itemID != adj.ItemID {
		return fmt.Errorf("compensation for item %d does not match the decrease of item %d", adj.ItemID, moved.itemID)
	}
	f.items[moved.itemID].stock += moved.quantity
	f.increased[key] = true
	return nil
}

func newTestCoordinator(t *testing.T, inventory InventoryAccessor, compensator Compensator) *ReservationCoordinator {
	t.Helper()
	c, err := NewReservationCoordinator(inventory, compensator, time.Second,
		tracenoop.NewTracerProvider().Tracer("test"), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return c
}

func lines(pairs ...int) []LineItem {
	items := make([]LineItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		items = append(items, LineItem{ItemID: int64(pairs[i]), Quantity: pairs[i+1]})
	}
	return items
}

// memoryRepository is an in-memory order ledger
type memoryRepository struct {
	mu     sync.Mutex
	orders map[string]*Order
	err    error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{orders: map[string]*Order{}}
}

func (m *memoryRepository) CreateOrder(ctx context.Context, order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	copied := *order
	m.orders[order.ID] = &copied
	return nil
}

func (m *memoryRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *memoryRepository) UpdateOrderStatus(ctx context.Context, orderID string, status string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if _, err := order.TransitionTo(status); err != nil {
		return nil, err
	}
	copied := *order
	return &copied, nil
}

func (m *memoryRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type staticBuyer string

func (s staticBuyer) ResolveBuyer(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no buyer: %w", ErrUnauthorized)
	}
	return string(s), nil
}
