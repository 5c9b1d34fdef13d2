package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
)

// InventoryRepository is an in-process stock service. It implements both StockChecker and
// StockDecrementer and supports batched checks.
type InventoryRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Item
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		items: make(map[string]*domain.Item),
	}
}

// Seed sets the available quantity for id, replacing any previous level.
func (r *InventoryRepository) Seed(id string, available int) error {
	item, err := domain.NewItem(id, available)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = item
	return nil
}

func (r *InventoryRepository) Get(ctx context.Context, id string) (*domain.Item, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *InventoryRepository) CheckBatch(ctx context.Context, lines []domain.Line) (domain.StockCheckResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockCheckResult{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	res := domain.StockCheckResult{OK: true}
	for _, l := range lines {
		if err := r.checkLocked(l); err != nil {
			res.OK = false
			res.Failures = append(res.Failures, domain.StockFailure{ID: l.ID, Reason: domain.FailureReason(err)})
		}
	}
	return res, nil
}

func (r *InventoryRepository) CheckItem(ctx context.Context, line domain.Line) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkLocked(line)
}

func (r *InventoryRepository) Decrement(ctx context.Context, id string, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return fmt.Errorf("decrement %s: %w", id, domain.ErrNotFound)
	}
	if err := item.Deduct(quantity); err != nil {
		return fmt.Errorf("decrement %s: %w", id, err)
	}
	return nil
}

func (r *InventoryRepository) checkLocked(l domain.Line) error {
	item, ok := r.items[l.ID]
	if !ok {
		return domain.ErrNotFound
	}
	return item.CanFulfil(l.Quantity)
}

func cloneItem(item *domain.Item) *domain.Item {
	if item == nil {
		return nil
	}
	clone := *item
	return &clone
}
