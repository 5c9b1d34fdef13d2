package order

import "context"

// Repository persists orders. Insert must fail with ErrConflict when the payment reference
// (or id) already exists so callers can replay the stored order.
type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*Order, error)
}
