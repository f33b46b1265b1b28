package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_SufficientStock(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 5)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// Act
	outcomes, err := c.Reserve(context.Background(), "res-1", lines(1, 2, 5, 1))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 6, inv.stock(1))
	assert.Equal(t, 4, inv.stock(5))
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, ResultReserved, o.Result)
	}
}

func TestReserve_MissingItemWinsOverStockProblems(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 0)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// Act
	_, err := c.Reserve(context.Background(), "res-1", lines(1, 1, 99, 1))

	// Assert
	var notFound *ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []int64{99}, notFound.IDs)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 2, inv.getCalls, "every line is checked before reporting")
	assert.Empty(t, inv.decreaseCalls)
}

func TestReserve_OutOfStockIsDistinctFromInsufficient(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 0).with(2, "Mouse", 3)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	_, errEmpty := c.Reserve(context.Background(), "res-1", lines(1, 1))
	_, errShort := c.Reserve(context.Background(), "res-2", lines(2, 5))

	assert.ErrorIs(t, errEmpty, ErrProductOutOfStock)
	assert.ErrorIs(t, errEmpty, ErrInsufficientStock, "an empty item is the extreme case of insufficient stock")
	assert.Equal(t, "Product out of stock: Laptop. No units available.", errEmpty.Error())

	assert.ErrorIs(t, errShort, ErrInsufficientStock)
	assert.NotErrorIs(t, errShort, ErrProductOutOfStock)
	assert.Equal(t, "Insufficient stock for Mouse. Only 3 unit(s) available (requested 5).", errShort.Error())

	assert.NotEqual(t, errEmpty.Error(), errShort.Error())
	assert.Empty(t, inv.decreaseCalls)
}

func TestReserve_SeveralStockProblemsAreJoined(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 0).with(2, "Mouse", 3)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	_, err := c.Reserve(context.Background(), "res-1", lines(1, 1, 2, 5))

	require.Error(t, err)
	assert.Equal(t,
		"Stock problems: Product out of stock: Laptop. No units available. "+
			"Insufficient stock for Mouse. Only 3 unit(s) available (requested 5).",
		err.Error())
	assert.Equal(t, 400, HTTPStatus(err))
}

func TestReserve_RepeatedItemIsReportedOnce(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 0).with(2, "Mouse", 3)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	_, errEmpty := c.Reserve(context.Background(), "res-1", lines(1, 1, 1, 1))
	_, errShort := c.Reserve(context.Background(), "res-2", lines(2, 4, 1, 1, 2, 5))
	_, errMissing := c.Reserve(context.Background(), "res-3", lines(99, 1, 99, 1))

	assert.Equal(t, "Product out of stock: Laptop. No units available.", errEmpty.Error())
	assert.ErrorIs(t, errEmpty, ErrProductOutOfStock)
	assert.Equal(t,
		"Stock problems: Insufficient stock for Mouse. Only 3 unit(s) available (requested 9). "+
			"Product out of stock: Laptop. No units available.",
		errShort.Error())
	assert.Equal(t, "One or more products were not found: [99]", errMissing.Error())
	assert.Empty(t, inv.decreaseCalls)
}

func TestReserve_UnreachableDuringValidation(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 8)
	inv.unreachable[1] = true
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	_, err := c.Reserve(context.Background(), "res-1", lines(1, 1))

	assert.ErrorIs(t, err, ErrRemoteServiceUnavailable)
	assert.Empty(t, inv.decreaseCalls)
}

func TestReserve_ConcurrentBuyersOfLastUnit(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 1)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// both buyers pass validation before either decrements
	var barrier sync.WaitGroup
	barrier.Add(2)
	inv.beforeDecrease = func(int64) {
		barrier.Done()
		barrier.Wait()
	}

	// Act
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Reserve(context.Background(), []string{"res-a", "res-b"}[i], lines(1, 1))
		}(i)
	}
	wg.Wait()

	// Assert
	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientStock)
			assert.ErrorIs(t, err, ErrProductOutOfStock)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, inv.stock(1))
}

func TestReserve_StaleSnapshotLosesToConcurrentWinner(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 1)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// another buyer takes the last phone between validation and reservation
	inv.beforeDecrease = func(itemID int64) {
		if itemID == 5 {
			inv.mu.Lock()
			inv.items[5].stock = 0
			inv.mu.Unlock()
		}
	}

	// Act
	outcomes, err := c.Reserve(context.Background(), "res-1", lines(1, 2, 5, 1))

	// Assert
	assert.ErrorIs(t, err, ErrProductOutOfStock)
	assert.Equal(t, "Product out of stock: Phone. No units available.", err.Error())
	require.Len(t, outcomes, 2)
	assert.Equal(t, ResultReserved, outcomes[0].Result)
	assert.Equal(t, ResultInsufficientStock, outcomes[1].Result)
	assert.Equal(t, 8, inv.stock(1), "the laptop decrement is given back")
}

func TestReserve_DuplicateIDsAreNotCoalesced(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 1)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// Act
	outcomes, err := c.Reserve(context.Background(), "res-1", lines(1, 1, 1, 1))

	// Assert
	assert.ErrorIs(t, err, ErrProductOutOfStock, "each line passes validation on its own but the second decrement fails")
	require.Len(t, outcomes, 2)
	assert.Equal(t, ResultReserved, outcomes[0].Result)
	assert.Equal(t, ResultInsufficientStock, outcomes[1].Result)
	assert.Equal(t, 1, inv.stock(1))
}

func TestReserve_StopsAtFirstFailureAndCompensatesInReverse(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 8).with(2, "Mouse", 8).with(3, "Phone", 1).with(4, "Cable", 8)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))
	inv.beforeDecrease = func(itemID int64) {
		if itemID == 3 {
			inv.mu.Lock()
			inv.items[3].stock = 0
			inv.mu.Unlock()
		}
	}

	// Act
	_, err := c.Reserve(context.Background(), "res-1", lines(1, 1, 2, 1, 3, 1, 4, 1))

	// Assert
	require.Error(t, err)
	require.Len(t, inv.decreaseCalls, 3, "item 4 is never attempted")
	require.Len(t, inv.increaseCalls, 2)
	assert.Equal(t, int64(2), inv.increaseCalls[0].ItemID)
	assert.Equal(t, int64(1), inv.increaseCalls[1].ItemID)
	assert.Equal(t, 8, inv.stock(1))
	assert.Equal(t, 8, inv.stock(2))
	assert.Equal(t, 8, inv.stock(4))
}

func TestReserve_UnreachableDuringReservation(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 5)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))
	inv.beforeDecrease = func(itemID int64) {
		if itemID == 5 {
			inv.mu.Lock()
			inv.unreachable[5] = true
			inv.mu.Unlock()
		}
	}

	// Act
	outcomes, err := c.Reserve(context.Background(), "res-1", lines(1, 2, 5, 1))

	// Assert
	assert.ErrorIs(t, err, ErrRemoteServiceUnavailable)
	assert.Equal(t, 500, HTTPStatus(err))
	require.Len(t, outcomes, 2)
	assert.Equal(t, ResultUnreachable, outcomes[1].Result)
	assert.Len(t, inv.increaseCalls, 2, "the unreachable line is given back too")
	assert.Equal(t, 8, inv.stock(1))
	assert.Equal(t, 5, inv.stock(5))
}

func TestReserve_NoCompensatorLeavesStockDecremented(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 1)
	c := newTestCoordinator(t, inv, NoCompensator{})
	inv.beforeDecrease = func(itemID int64) {
		if itemID == 5 {
			inv.mu.Lock()
			inv.items[5].stock = 0
			inv.mu.Unlock()
		}
	}

	_, err := c.Reserve(context.Background(), "res-1", lines(1, 2, 5, 1))

	assert.Error(t, err)
	assert.Empty(t, inv.increaseCalls)
	assert.Equal(t, 6, inv.stock(1))
}

func TestRelease_GivesBackEveryLine(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 5)
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))
	items := lines(1, 2, 5, 1)

	_, err := c.Reserve(context.Background(), "res-1", items)
	require.NoError(t, err)

	c.Release(context.Background(), "res-1", items)

	assert.Equal(t, 8, inv.stock(1))
	assert.Equal(t, 5, inv.stock(5))
}

type failingCompensator struct{ calls int }

func (f *failingCompensator) Compensate(context.Context, string, []StockAdjustment) error {
	f.calls++
	return errors.New("dtm unavailable")
}

func TestReserve_CompensationFailureKeepsReservationError(t *testing.T) {
	inv := newFakeInventory().with(1, "Laptop", 8)
	comp := &failingCompensator{}
	c := newTestCoordinator(t, inv, comp)

	_, err := c.Reserve(context.Background(), "res-1", lines(1, 1, 1, 8))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, comp.calls)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ResultReserved, classify(nil))
	assert.Equal(t, ResultInsufficientStock, classify(&StockRejectedError{Reason: "INSUFFICIENT_STOCK"}))
	assert.Equal(t, ResultInsufficientStock, classify(&StockRejectedError{Reason: "OUT_OF_STOCK"}))
	assert.Equal(t, ResultNotFound, classify(&ProductNotFoundError{IDs: []int64{1}}))
	assert.Equal(t, ResultUnreachable, classify(&RemoteError{Op: "decrease", Err: context.Canceled}))
	assert.Equal(t, ResultRejected, classify(fmt.Errorf("inventory decrease: %w", ErrSystemCredential)))
}

func TestReserve_RejectedCredentialLineIsNotCompensated(t *testing.T) {
	// Arrange
	inv := newFakeInventory().with(1, "Laptop", 8).with(5, "Phone", 5)
	inv.credentialRejected[5] = true
	c := newTestCoordinator(t, inv, NewSagaCompensator(inv))

	// Act
	outcomes, err := c.Reserve(context.Background(), "res-1", lines(1, 2, 5, 1))

	// Assert
	assert.ErrorIs(t, err, ErrSystemCredential)
	assert.Equal(t, 500, HTTPStatus(err))
	require.Len(t, outcomes, 2)
	assert.Equal(t, ResultRejected, outcomes[1].Result)
	require.Len(t, inv.increaseCalls, 1, "only the committed line is given back")
	assert.Equal(t, int64(1), inv.increaseCalls[0].ItemID)
	assert.Equal(t, 8, inv.stock(1))
	assert.Equal(t, 5, inv.stock(5))
}
