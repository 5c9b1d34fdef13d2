package order

import (
	"errors"
	"strings"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
)

var (
	ErrNotFound         = errors.New("order: not found")
	ErrConflict         = errors.New("order: conflict")
	ErrInvalidAmount    = errors.New("order: amounts must be zero or greater and add up")
	ErrMissingReference = errors.New("order: payment reference is required")
)

type Status string

const (
	StatusPaid         Status = "paid"
	StatusRecordFailed Status = "record_failed"
)

// Order is the durable record of a completed payment. PaymentReference is unique across orders.
type Order struct {
	ID               string
	Snapshot         domcheckout.Snapshot
	Customer         domcheckout.Customer
	PaymentReference string
	Subtotal         int64
	DeliveryFee      int64
	GrandTotal       int64
	Status           Status
	// AccountCreated is set by the store when it had to create a user for Customer.Email.
	AccountCreated bool
	PaidAt         time.Time
	CreatedAt      time.Time
}

func New(id string, snap domcheckout.Snapshot, customer domcheckout.Customer, reference string, totals domcheckout.Totals, paidAt time.Time) (*Order, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, ErrMissingReference
	}
	if totals.Subtotal < 0 || totals.DeliveryFee < 0 || totals.GrandTotal != totals.Subtotal+totals.DeliveryFee {
		return nil, ErrInvalidAmount
	}

	return &Order{
		ID:               id,
		Snapshot:         snap,
		Customer:         customer.Normalize(),
		PaymentReference: reference,
		Subtotal:         totals.Subtotal,
		DeliveryFee:      totals.DeliveryFee,
		GrandTotal:       totals.GrandTotal,
		Status:           StatusPaid,
		PaidAt:           paidAt.UTC(),
		CreatedAt:        time.Now().UTC(),
	}, nil
}

func (o *Order) Totals() domcheckout.Totals {
	return domcheckout.Totals{Subtotal: o.Subtotal, DeliveryFee: o.DeliveryFee, GrandTotal: o.GrandTotal}
}

// Clone returns a copy safe to hand out of a repository. Snapshot lines are copied on access.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
