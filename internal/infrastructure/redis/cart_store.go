package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultCartTTL = 24 * time.Hour

// CartStore keeps carts as JSON under cart:<session> and announces every write on
// cart-changed:<session> so other processes can observe edits.
type CartStore struct {
	client *goredis.Client
	ttl    time.Duration
	log    observability.Logger
}

func NewCartStore(client *goredis.Client, ttl time.Duration, logger observability.Logger) *CartStore {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CartStore{
		client: client,
		ttl:    ttl,
		log:    logger.With(observability.F("component", "redis_cart_store")),
	}
}

// For returns the cart bound to sessionID.
func (s *CartStore) For(sessionID string) domcheckout.CartStore {
	return &SessionCart{store: s, session: sessionID}
}

type SessionCart struct {
	store   *CartStore
	session string
}

func (c *SessionCart) Read(ctx context.Context) ([]domcheckout.CartLine, error) {
	data, err := c.store.client.Get(ctx, cartKey(c.session)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var lines []domcheckout.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return lines, nil
}

func (c *SessionCart) Write(ctx context.Context, lines []domcheckout.CartLine) error {
	if lines == nil {
		lines = []domcheckout.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	if err := c.store.client.Set(ctx, cartKey(c.session), data, c.store.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	c.announce(ctx)
	return nil
}

func (c *SessionCart) Clear(ctx context.Context) error {
	if err := c.store.client.Del(ctx, cartKey(c.session)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	c.announce(ctx)
	return nil
}

// OnChange subscribes to the session's change channel. fn runs on a dedicated goroutine.
func (c *SessionCart) OnChange(ctx context.Context, fn func()) (func(), error) {
	sub := c.store.client.Subscribe(ctx, changeChannel(c.session))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe cart changes: %w", err)
	}

	msgs := sub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range msgs {
			fn()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = sub.Close()
			<-done
		})
	}, nil
}

func (c *SessionCart) announce(ctx context.Context) {
	if err := c.store.client.Publish(ctx, changeChannel(c.session), "changed").Err(); err != nil {
		c.store.log.Warn("cart_change_publish_failed",
			observability.F("session_id", c.session),
			observability.Err(err),
		)
	}
}

func cartKey(session string) string {
	return fmt.Sprintf("cart:%s", session)
}

func changeChannel(session string) string {
	return fmt.Sprintf("cart-changed:%s", session)
}
