package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	byReference map[string]string
	accounts    map[string]struct{}
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:      make(map[string]*domain.Order),
		byReference: make(map[string]string),
		accounts:    make(map[string]struct{}),
	}
}

// Insert stores order. The first order for an unseen email marks AccountCreated, mirroring
// the order service auto-creating a shopper account.
func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byReference[order.PaymentReference]; exists {
		return domain.ErrConflict
	}

	email := strings.ToLower(order.Customer.Email)
	if _, known := r.accounts[email]; !known && email != "" {
		r.accounts[email] = struct{}{}
		order.AccountCreated = true
	}

	r.orders[order.ID] = order.Clone()
	r.byReference[order.PaymentReference] = order.ID
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	_ = ctx
	if reference == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, found := r.orders[id]
	if !found {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

// Count returns the number of stored orders.
func (r *OrderRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}

// LookupCustomer returns the contact details from the most recent order placed with email.
func (r *OrderRepository) LookupCustomer(ctx context.Context, email string) (domcheckout.Customer, error) {
	_ = ctx
	email = strings.ToLower(strings.TrimSpace(email))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.Order
	for _, o := range r.orders {
		if strings.ToLower(o.Customer.Email) != email {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return domcheckout.Customer{}, domain.ErrNotFound
	}
	return latest.Customer, nil
}
