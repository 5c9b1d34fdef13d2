package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticID string

func (s staticID) NewID() string { return string(s) }

type widgetFunc func(ctx context.Context, inv dompay.Invocation, cb dompay.Callbacks) error

func (f widgetFunc) Open(ctx context.Context, inv dompay.Invocation, cb dompay.Callbacks) error {
	return f(ctx, inv, cb)
}

var input = PayInput{
	Customer: domcheckout.Customer{
		Name: "Ada", Email: "ada@example.com", Phone: "08012345678",
		Address: "12 Marina", Region: "Lagos", Subregion: "Ikeja",
	},
	Totals:    domcheckout.NewTotals(11000, 2000),
	SessionID: "s-1",
}

func newAdapter(w dompay.Widget) *GatewayAdapter {
	return NewGatewayAdapter(w, GatewayConfig{PublicKey: "pk_test", Currency: "NGN"}, staticID("tag-1"), nil)
}

func TestGatewaySuccessCarriesReferenceAndInvocation(t *testing.T) {
	var seen dompay.Invocation
	a := newAdapter(widgetFunc(func(_ context.Context, inv dompay.Invocation, cb dompay.Callbacks) error {
		seen = inv
		go cb.OnSuccess("gw-ref-77")
		return nil
	}))

	res, err := a.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, dompay.OutcomeSuccess, res.Outcome.Kind)
	assert.Equal(t, "gw-ref-77", res.Outcome.Reference)
	assert.Equal(t, int64(1300000), seen.Amount)
	assert.Equal(t, "NGN", seen.Currency)
	assert.Equal(t, "tag-1", seen.Reference)
	assert.Equal(t, "ada@example.com", seen.Email)
	assert.Equal(t, "2000", seen.Metadata.AsMap()["delivery_fee"])
	assert.Equal(t, "Ikeja", seen.Metadata.Subregion)
}

func TestGatewayCloseIsCancelledNotError(t *testing.T) {
	a := newAdapter(widgetFunc(func(_ context.Context, _ dompay.Invocation, cb dompay.Callbacks) error {
		cb.OnClose()
		cb.OnSuccess("late")
		return nil
	}))

	res, err := a.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, dompay.OutcomeCancelled, res.Outcome.Kind)
	assert.Empty(t, res.Outcome.Reference)
}

func TestGatewayOpenErrorIsLoadFailure(t *testing.T) {
	a := newAdapter(widgetFunc(func(context.Context, dompay.Invocation, dompay.Callbacks) error {
		return errors.New("script blocked")
	}))

	res, err := a.Execute(context.Background(), input)

	require.Error(t, err)
	assert.ErrorIs(t, err, domcheckout.ErrGatewayLoad)
	assert.Equal(t, dompay.OutcomeLoadFailure, res.Outcome.Kind)
}

func TestGatewayInvalidInvocationIsLoadFailure(t *testing.T) {
	called := false
	a := newAdapter(widgetFunc(func(context.Context, dompay.Invocation, dompay.Callbacks) error {
		called = true
		return nil
	}))
	in := input
	in.Totals = domcheckout.NewTotals(0, 0)

	res, err := a.Execute(context.Background(), in)

	require.Error(t, err)
	assert.ErrorIs(t, err, dompay.ErrInvalidInvocation)
	assert.Equal(t, dompay.OutcomeLoadFailure, res.Outcome.Kind)
	assert.False(t, called)
}

func TestGatewayEmptyReferenceFallsBackToTag(t *testing.T) {
	a := newAdapter(widgetFunc(func(_ context.Context, _ dompay.Invocation, cb dompay.Callbacks) error {
		cb.OnSuccess("")
		return nil
	}))

	res, err := a.Execute(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "tag-1", res.Outcome.Reference)
}

func TestGatewayContextCancelWhileWaiting(t *testing.T) {
	a := newAdapter(widgetFunc(func(context.Context, dompay.Invocation, dompay.Callbacks) error {
		return nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := a.Execute(ctx, input)

	require.NoError(t, err)
	assert.Equal(t, dompay.OutcomeCancelled, res.Outcome.Kind)
}
