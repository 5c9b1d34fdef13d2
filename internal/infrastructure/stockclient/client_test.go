package stockclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, FailureThreshold: 2}, nil)
	require.NoError(t, err)
	return c
}

func TestCheckBatchDecodesFailures(t *testing.T) {
	var got batchRequest
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/stock/check", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(dominv.StockCheckResult{
			OK:       false,
			Message:  "1 item unavailable",
			Failures: []dominv.StockFailure{{ID: "mug", Reason: dominv.FailureReasonInsufficientStock}},
		})
	}))

	res, err := c.CheckBatch(context.Background(), []dominv.Line{{ID: "shirt", Quantity: 2}, {ID: "mug", Quantity: 1}})

	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "mug", res.Failures[0].ID)
	assert.Len(t, got.Items, 2)
}

func TestCheckBatchUnsupported(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := c.CheckBatch(context.Background(), []dominv.Line{{ID: "a", Quantity: 1}})

		assert.ErrorIs(t, err, dominv.ErrBatchUnsupported, "status %d", status)
	}
}

func TestCheckItem(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stock/shirt":
			assert.Equal(t, "2", r.URL.Query().Get("quantity"))
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/stock/mug":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"ok":false,"reason":"insufficient_stock"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	assert.NoError(t, c.CheckItem(ctx, dominv.Line{ID: "shirt", Quantity: 2}))
	assert.ErrorIs(t, c.CheckItem(ctx, dominv.Line{ID: "mug", Quantity: 1}), dominv.ErrInsufficientStock)
	assert.ErrorIs(t, c.CheckItem(ctx, dominv.Line{ID: "ghost", Quantity: 1}), dominv.ErrNotFound)
}

func TestDecrement(t *testing.T) {
	var body decrementRequest
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stock/mug/decrement" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		assert.Equal(t, "/stock/shirt/decrement", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	ctx := context.Background()

	require.NoError(t, c.Decrement(ctx, "shirt", 3))
	assert.Equal(t, 3, body.Quantity)
	assert.ErrorIs(t, c.Decrement(ctx, "mug", 1), dominv.ErrInsufficientStock)
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	ctx := context.Background()

	for range 2 {
		err := c.Decrement(ctx, "a", 1)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
	}
	err := c.Decrement(ctx, "a", 1)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
