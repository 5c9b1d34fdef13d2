package checkout

import (
	"errors"
	"fmt"
	"strings"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

var (
	ErrValidation         = errors.New("checkout: validation failed")
	ErrStockUnavailable   = errors.New("checkout: stock unavailable")
	ErrGatewayLoad        = errors.New("checkout: payment gateway failed to load")
	ErrOrderPersist       = errors.New("checkout: order could not be recorded")
	ErrInventorySync      = errors.New("checkout: inventory adjustment incomplete")
	ErrCheckoutInProgress = errors.New("checkout: already in progress")
	ErrCheckoutCompleted  = errors.New("checkout: already completed")
	ErrCartUnavailable    = errors.New("checkout: cart unavailable")
	ErrInvalidTransition  = errors.New("checkout: invalid state transition")
	ErrEmptyCart          = errors.New("checkout: cart is empty")
	ErrInvalidCart        = errors.New("checkout: invalid cart")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every customer field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StockUnavailableError carries every failing line reported by the inventory service.
type StockUnavailableError struct {
	Failures []dominv.StockFailure
	Message  string
	Err      error
}

func (e *StockUnavailableError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrStockUnavailable, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", ErrStockUnavailable, e.Message)
	default:
		return fmt.Sprintf("%s: %d line(s)", ErrStockUnavailable, len(e.Failures))
	}
}

func (e *StockUnavailableError) Unwrap() []error { return []error{ErrStockUnavailable, e.Err} }

// ServiceUnavailable reports whether the inventory service failed to answer, as opposed to
// refusing at least one line.
func (e *StockUnavailableError) ServiceUnavailable() bool {
	if e.Err != nil {
		return true
	}
	for _, f := range e.Failures {
		if f.Reason != dominv.FailureReasonUnavailable {
			return false
		}
	}
	return len(e.Failures) > 0
}

// GatewayLoadError is an infrastructure fault while opening the hosted payment flow.
type GatewayLoadError struct {
	Err error
}

func (e *GatewayLoadError) Error() string {
	return fmt.Sprintf("%s: %v", ErrGatewayLoad, e.Err)
}

func (e *GatewayLoadError) Unwrap() []error { return []error{ErrGatewayLoad, e.Err} }

// OrderPersistError means the gateway captured funds but no local order exists.
type OrderPersistError struct {
	PaymentReference string
	Amount           int64
	Err              error
}

func (e *OrderPersistError) Error() string {
	return fmt.Sprintf("%s (payment reference %s): %v", ErrOrderPersist, e.PaymentReference, e.Err)
}

func (e *OrderPersistError) Unwrap() []error { return []error{ErrOrderPersist, e.Err} }

// InventorySyncError lists lines whose stock decrement failed. It never reaches the shopper.
type InventorySyncError struct {
	OrderID string
	Failed  []dominv.LineAdjustment
}

func (e *InventorySyncError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, l := range e.Failed {
		ids = append(ids, l.ID)
	}
	return fmt.Sprintf("%s for order %s: %s", ErrInventorySync, e.OrderID, strings.Join(ids, ","))
}

func (e *InventorySyncError) Unwrap() error { return ErrInventorySync }
