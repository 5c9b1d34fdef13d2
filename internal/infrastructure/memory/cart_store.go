package memory

import (
	"context"
	"sync"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
)

// CartStore keeps carts per key (session or user id) in process memory.
type CartStore struct {
	mu        sync.RWMutex
	carts     map[string][]domcheckout.CartLine
	listeners map[string]map[int]func()
	nextID    int
}

func NewCartStore() *CartStore {
	return &CartStore{
		carts:     make(map[string][]domcheckout.CartLine),
		listeners: make(map[string]map[int]func()),
	}
}

// For returns the CartStore view bound to one key.
func (s *CartStore) For(key string) *SessionCart {
	return &SessionCart{store: s, key: key}
}

func (s *CartStore) write(key string, lines []domcheckout.CartLine) {
	s.mu.Lock()
	if lines == nil {
		delete(s.carts, key)
	} else {
		s.carts[key] = append([]domcheckout.CartLine(nil), lines...)
	}
	fns := make([]func(), 0, len(s.listeners[key]))
	for _, fn := range s.listeners[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// SessionCart implements checkout.CartStore for a single key.
type SessionCart struct {
	store *CartStore
	key   string
}

func (c *SessionCart) Read(ctx context.Context) ([]domcheckout.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return append([]domcheckout.CartLine(nil), c.store.carts[c.key]...), nil
}

func (c *SessionCart) Write(ctx context.Context, lines []domcheckout.CartLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if lines == nil {
		lines = []domcheckout.CartLine{}
	}
	c.store.write(c.key, lines)
	return nil
}

func (c *SessionCart) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.write(c.key, nil)
	return nil
}

func (c *SessionCart) OnChange(_ context.Context, fn func()) (func(), error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	id := c.store.nextID
	c.store.nextID++
	if c.store.listeners[c.key] == nil {
		c.store.listeners[c.key] = make(map[int]func())
	}
	c.store.listeners[c.key][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.store.mu.Lock()
			defer c.store.mu.Unlock()
			delete(c.store.listeners[c.key], id)
		})
	}, nil
}
