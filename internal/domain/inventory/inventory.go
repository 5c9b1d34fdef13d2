package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: item not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrBatchUnsupported is returned by a StockChecker whose backend has no batched endpoint.
	ErrBatchUnsupported = errors.New("inventory: batch stock check unsupported")
)

const (
	FailureReasonNotFound          = "not_found"
	FailureReasonInsufficientStock = "insufficient_stock"
	FailureReasonInvalidQuantity   = "invalid_quantity"
	FailureReasonUnavailable       = "unavailable"
)

// Line is a requested quantity of one catalog item.
type Line struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// StockFailure names a line that cannot be fulfilled and why.
type StockFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// StockCheckResult aggregates availability for a whole snapshot. OK is false when any line failed.
type StockCheckResult struct {
	OK       bool           `json:"ok"`
	Message  string         `json:"message,omitempty"`
	Failures []StockFailure `json:"failures,omitempty"`
}

// Item is an in-process stock level, used by the memory-backed inventory service.
type Item struct {
	ID        string
	Available int
	UpdatedAt time.Time
}

func NewItem(id string, available int) (*Item, error) {
	if available < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Item{
		ID:        id,
		Available: available,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// CanFulfil reports whether quantity units can be taken without going negative.
func (i *Item) CanFulfil(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > i.Available {
		return ErrInsufficientStock
	}
	return nil
}

func (i *Item) Deduct(quantity int) error {
	if err := i.CanFulfil(quantity); err != nil {
		return err
	}
	i.Available -= quantity
	i.touch()
	return nil
}

func (i *Item) touch() {
	i.UpdatedAt = time.Now().UTC()
}

// FailureReason maps a checker/decrementer error to a stable reason code.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return FailureReasonNotFound
	case errors.Is(err, ErrInsufficientStock):
		return FailureReasonInsufficientStock
	case errors.Is(err, ErrInvalidQuantity):
		return FailureReasonInvalidQuantity
	default:
		return FailureReasonUnavailable
	}
}
