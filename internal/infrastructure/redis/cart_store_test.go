package redis

import (
	"context"
	"testing"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*CartStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCartStore(client, time.Hour, nil), mr
}

func TestCartRoundTripKeepsPromo(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	cart := store.For("s-1")
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	lines := []domcheckout.CartLine{
		{ID: "shirt", Name: "Shirt", UnitPrice: 5000, Quantity: 2, Promo: &domcheckout.Promo{
			Enabled: true, Kind: domcheckout.PromoPercent, Value: decimal.RequireFromString("12.5"),
			WindowStart: start, WindowEnd: start.Add(48 * time.Hour),
		}},
		{ID: "mug", UnitPrice: 3000, Quantity: 1},
	}
	require.NoError(t, cart.(*SessionCart).Write(ctx, lines))

	got, err := cart.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Promo.Value.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, got[0].Promo.WindowEnd.Equal(start.Add(48*time.Hour)))
	assert.True(t, mr.Exists("cart:s-1"))
	assert.Equal(t, time.Hour, mr.TTL("cart:s-1"))
}

func TestReadMissingCartIsEmpty(t *testing.T) {
	store, _ := setupStore(t)

	got, err := store.For("nobody").Read(context.Background())

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClearRemovesKey(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()
	cart := store.For("s-1").(*SessionCart)
	require.NoError(t, cart.Write(ctx, []domcheckout.CartLine{{ID: "a", UnitPrice: 1, Quantity: 1}}))

	require.NoError(t, cart.Clear(ctx))

	assert.False(t, mr.Exists("cart:s-1"))
}

func TestOnChangeFiresForOtherWriters(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	changed := make(chan struct{}, 4)

	stop, err := store.For("s-1").OnChange(ctx, func() { changed <- struct{}{} })
	require.NoError(t, err)
	t.Cleanup(stop)

	other := store.For("s-1").(*SessionCart)
	require.NoError(t, other.Write(ctx, []domcheckout.CartLine{{ID: "a", UnitPrice: 1, Quantity: 1}}))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("change was not observed")
	}

	stop()
	stop()
}

func TestCorruptCartIsAnError(t *testing.T) {
	store, mr := setupStore(t)
	require.NoError(t, mr.Set("cart:s-1", "{not json"))

	_, err := store.For("s-1").Read(context.Background())

	assert.Error(t, err)
}
