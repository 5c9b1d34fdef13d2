package stripepay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeSessions struct {
	mu       sync.Mutex
	created  *stripe.CheckoutSessionParams
	newErr   error
	polls    []*stripe.CheckoutSession
	pollIdx  int
	expired  []string
	expireCh chan string
	// after is returned once polls run out. Nil means an open session.
	after *stripe.CheckoutSession
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = params
	if f.newErr != nil {
		return nil, f.newErr
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeSessions) Get(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.expired) > 0 {
		return &stripe.CheckoutSession{ID: "cs_test_1", Status: stripe.CheckoutSessionStatusExpired}, nil
	}
	if f.pollIdx >= len(f.polls) {
		if f.after != nil {
			return f.after, nil
		}
		return &stripe.CheckoutSession{ID: "cs_test_1", Status: stripe.CheckoutSessionStatusOpen}, nil
	}
	s := f.polls[f.pollIdx]
	f.pollIdx++
	return s, nil
}

func (f *fakeSessions) Expire(id string, _ *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	f.expired = append(f.expired, id)
	f.mu.Unlock()
	if f.expireCh != nil {
		f.expireCh <- id
	}
	return &stripe.CheckoutSession{ID: id, Status: stripe.CheckoutSessionStatusExpired}, nil
}

var invocation = dompay.Invocation{
	Amount:    1300000,
	Currency:  "NGN",
	Email:     "ada@example.com",
	Reference: "tag-1",
	SessionID: "s-1",
	Metadata:  dompay.Metadata{Name: "Ada", Region: "Lagos", DeliveryFee: 2000},
}

func newWidget(t *testing.T, api *fakeSessions, opts ...func(*Config)) *Widget {
	t.Helper()
	cfg := Config{
		SuccessURL:   "https://shop.test/ok",
		CancelURL:    "https://shop.test/cancel",
		PollInterval: time.Millisecond,
		sessions:     api,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	w, err := NewWidget(cfg, nil)
	require.NoError(t, err)
	return w
}

func callbacks() (dompay.Callbacks, chan string, chan struct{}) {
	success := make(chan string, 1)
	closed := make(chan struct{}, 1)
	return dompay.Callbacks{
		OnSuccess: func(ref string) { success <- ref },
		OnClose:   func() { closed <- struct{}{} },
	}, success, closed
}

func TestOpenCreatesIdempotentSessionAndReportsPaymentIntent(t *testing.T) {
	api := &fakeSessions{polls: []*stripe.CheckoutSession{
		{ID: "cs_test_1", Status: stripe.CheckoutSessionStatusOpen},
		{ID: "cs_test_1", Status: stripe.CheckoutSessionStatusComplete, PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_123"}},
	}}
	w := newWidget(t, api)
	cb, success, _ := callbacks()

	require.NoError(t, w.Open(context.Background(), invocation, cb))

	url, ok := w.PaymentURL("s-1")
	if ok {
		assert.Contains(t, url, "cs_test_1")
	}

	select {
	case ref := <-success:
		assert.Equal(t, "pi_123", ref)
	case <-time.After(2 * time.Second):
		t.Fatal("no success callback")
	}

	require.NotNil(t, api.created)
	assert.Equal(t, "tag-1", *api.created.IdempotencyKey)
	assert.Equal(t, "tag-1", *api.created.ClientReferenceID)
	assert.Equal(t, "ngn", *api.created.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(1300000), *api.created.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "2000", api.created.Metadata["delivery_fee"])
	assert.Equal(t, "tag-1", api.created.Metadata["transaction_tag"])
}

func TestExpiredSessionCloses(t *testing.T) {
	api := &fakeSessions{polls: []*stripe.CheckoutSession{
		{ID: "cs_test_1", Status: stripe.CheckoutSessionStatusExpired},
	}}
	w := newWidget(t, api)
	cb, _, closed := callbacks()

	require.NoError(t, w.Open(context.Background(), invocation, cb))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("no close callback")
	}
}

func TestCreateFailureIsReturned(t *testing.T) {
	api := &fakeSessions{newErr: errors.New("invalid api key")}
	w := newWidget(t, api)
	cb, _, _ := callbacks()

	err := w.Open(context.Background(), invocation, cb)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	_, ok := w.PaymentURL("s-1")
	assert.False(t, ok)
}

func TestCancelledContextExpiresSession(t *testing.T) {
	api := &fakeSessions{expireCh: make(chan string, 1)}
	w := newWidget(t, api)
	cb, _, _ := callbacks()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, w.Open(ctx, invocation, cb))
	cancel()

	select {
	case id := <-api.expireCh:
		assert.Equal(t, "cs_test_1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not expired")
	}
}

func TestCancelPaymentExpiresSessionAndCloses(t *testing.T) {
	api := &fakeSessions{}
	w := newWidget(t, api, func(c *Config) { c.PollInterval = time.Hour })
	cb, success, closed := callbacks()

	assert.ErrorIs(t, w.CancelPayment(context.Background(), "s-1"), dompay.ErrNoOpenAttempt)

	require.NoError(t, w.Open(context.Background(), invocation, cb))
	require.NoError(t, w.CancelPayment(context.Background(), "s-1"))

	select {
	case <-closed:
	case <-success:
		t.Fatal("cancelled attempt reported success")
	case <-time.After(2 * time.Second):
		t.Fatal("no close callback after cancel")
	}
	api.mu.Lock()
	assert.Equal(t, []string{"cs_test_1"}, api.expired)
	api.mu.Unlock()

	assert.Eventually(t, func() bool {
		_, ok := w.PaymentURL("s-1")
		return !ok
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.CancelPayment(context.Background(), "s-1"), dompay.ErrNoOpenAttempt)
}

func TestCompleteButUnpaidSessionIsNotPolledForever(t *testing.T) {
	api := &fakeSessions{after: &stripe.CheckoutSession{
		ID:            "cs_test_1",
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	}}
	w := newWidget(t, api, func(c *Config) { c.PendingTimeout = 20 * time.Millisecond })
	cb, success, closed := callbacks()

	require.NoError(t, w.Open(context.Background(), invocation, cb))

	select {
	case <-closed:
	case <-success:
		t.Fatal("unpaid session reported success")
	case <-time.After(2 * time.Second):
		t.Fatal("unpaid session was polled past its pending timeout")
	}
	assert.Eventually(t, func() bool {
		_, ok := w.PaymentURL("s-1")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestNewWidgetRequiresKey(t *testing.T) {
	_, err := NewWidget(Config{}, nil)
	assert.Error(t, err)
}
