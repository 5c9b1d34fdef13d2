package inventory

import (
	"context"
)

// StockChecker asks the inventory service whether lines are available.
type StockChecker interface {
	// CheckBatch checks every line in one round trip. Returns ErrBatchUnsupported when the
	// backend cannot batch, in which case callers fall back to CheckItem.
	CheckBatch(ctx context.Context, lines []Line) (StockCheckResult, error)
	// CheckItem returns nil when the line is available, ErrInsufficientStock or ErrNotFound
	// (possibly wrapped) when it is not, and any other error on transport failure.
	CheckItem(ctx context.Context, line Line) error
}

// StockDecrementer removes purchased units from stock after an order is recorded.
type StockDecrementer interface {
	Decrement(ctx context.Context, itemID string, quantity int) error
}
