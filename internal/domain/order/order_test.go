package order

import (
	"testing"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrder(t *testing.T) {
	paid := time.Date(2024, 5, 1, 13, 0, 0, 0, time.FixedZone("WAT", 3600))
	o, err := New("o-1", domcheckout.Snapshot{}, domcheckout.Customer{Name: " Ada ", Email: "ada@example.com "},
		"PSK-1", domcheckout.NewTotals(13000, 2000), paid)

	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, "Ada", o.Customer.Name)
	assert.Equal(t, "ada@example.com", o.Customer.Email)
	assert.Equal(t, int64(15000), o.GrandTotal)
	assert.Equal(t, time.UTC, o.PaidAt.Location())
	assert.Equal(t, domcheckout.NewTotals(13000, 2000), o.Totals())
}

func TestNewOrderRejects(t *testing.T) {
	_, err := New("o-1", domcheckout.Snapshot{}, domcheckout.Customer{}, "  ", domcheckout.NewTotals(1, 0), time.Now())
	assert.ErrorIs(t, err, ErrMissingReference)

	_, err = New("o-1", domcheckout.Snapshot{}, domcheckout.Customer{}, "R", domcheckout.Totals{Subtotal: 10, DeliveryFee: 2, GrandTotal: 13}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = New("o-1", domcheckout.Snapshot{}, domcheckout.Customer{}, "R", domcheckout.NewTotals(-5, 5), time.Now())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCloneIsIndependent(t *testing.T) {
	o := &Order{ID: "o-1", Status: StatusPaid}
	c := o.Clone()
	c.Status = StatusRecordFailed

	assert.Equal(t, StatusPaid, o.Status)
	assert.Nil(t, (*Order)(nil).Clone())
}
