package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrProductNotFound          = errors.New("product not found")
	ErrProductOutOfStock        = errors.New("product out of stock")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrRemoteServiceUnavailable = errors.New("remote service unavailable")
	ErrValidation               = errors.New("validation error")
	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrIdempotencyKeyInProgress = errors.New("request with this idempotency key is in progress")

	// ErrSystemCredential means a stock change was refused before it ran.
	// It is a server fault, so it maps to 500 and not to the caller's 401.
	ErrSystemCredential = errors.New("system credential missing or rejected")
)

// ValidationError rejects a malformed create request
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ProductNotFoundError lists every requested id the inventory does not know
type ProductNotFoundError struct {
	IDs []int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("One or more products were not found: %v", e.IDs)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// StockProblem describes one line that cannot be served
type StockProblem struct {
	ItemID    int64
	Name      string
	Available int
	Requested int
}

func (p StockProblem) OutOfStock() bool {
	return p.Available <= 0
}

func (p StockProblem) Message() string {
	if p.OutOfStock() {
		return fmt.Sprintf("Product out of stock: %s. No units available.", p.Name)
	}
	return fmt.Sprintf("Insufficient stock for %s. Only %d unit(s) available (requested %d).",
		p.Name, p.Available, p.Requested)
}

// StockError carries every stock problem found for a request. A single
// problem is reported with its own message; several are joined.
type StockError struct {
	Problems []StockProblem
}

func (e *StockError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Message()
	}
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message())
	}
	return "Stock problems: " + strings.Join(msgs, " ")
}

// Is matches ErrInsufficientStock for every stock problem, and also
// ErrProductOutOfStock when the only problem is an empty item.
func (e *StockError) Is(target error) bool {
	if target == ErrInsufficientStock {
		return true
	}
	return target == ErrProductOutOfStock && len(e.Problems) == 1 && e.Problems[0].OutOfStock()
}

// RemoteError wraps a failure to reach the inventory
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("inventory %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteServiceUnavailable
}

// InvalidStatusTransitionError rejects a forbidden status change
type InvalidStatusTransitionError struct {
	From string
	To   string
}

func (e *InvalidStatusTransitionError) Error() string {
	if !ValidStatus(e.To) {
		return fmt.Sprintf("unknown order status %q", e.To)
	}
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// HTTPStatus maps an error of the order service to its response code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrProductOutOfStock),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidStatusTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrIdempotencyKeyInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
