package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidInvocation = errors.New("payment: invalid invocation")
	ErrNoOpenAttempt     = errors.New("payment: no open attempt")
)

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeCancelled   OutcomeKind = "cancelled"
	OutcomeLoadFailure OutcomeKind = "load_failure"
)

// Outcome is exactly one of Success (Reference set), Cancelled, or LoadFailure (Err set).
type Outcome struct {
	Kind      OutcomeKind
	Reference string
	Err       error
}

func Success(reference string) Outcome { return Outcome{Kind: OutcomeSuccess, Reference: reference} }
func Cancelled() Outcome               { return Outcome{Kind: OutcomeCancelled} }
func LoadFailure(err error) Outcome    { return Outcome{Kind: OutcomeLoadFailure, Err: err} }

// Metadata is attached to the gateway transaction for audit and display on the gateway side.
type Metadata struct {
	Name        string
	Phone       string
	Region      string
	Subregion   string
	Address     string
	DeliveryFee int64
}

func (m Metadata) AsMap() map[string]string {
	return map[string]string{
		"name":         m.Name,
		"phone":        m.Phone,
		"region":       m.Region,
		"subregion":    m.Subregion,
		"address":      m.Address,
		"delivery_fee": strconv.FormatInt(m.DeliveryFee, 10),
	}
}

// Invocation configures one hosted payment attempt. Amount is in the currency's minor unit.
type Invocation struct {
	PublicKey string
	Amount    int64
	Currency  string
	Email     string
	// Reference is generated locally, unique per attempt.
	Reference string
	// SessionID ties the attempt to the checkout session; it is not sent to the gateway.
	SessionID string
	Metadata  Metadata
}

func (i Invocation) Validate() error {
	switch {
	case i.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInvocation)
	case i.Email == "":
		return fmt.Errorf("%w: email is required", ErrInvalidInvocation)
	case i.Reference == "":
		return fmt.Errorf("%w: reference is required", ErrInvalidInvocation)
	case i.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidInvocation)
	}
	return nil
}

// Callbacks receive the widget's terminal signal. OnSuccess gets the gateway transaction reference.
type Callbacks struct {
	OnSuccess func(reference string)
	OnClose   func()
}

// Widget is a hosted payment flow. Open returns an error when the flow cannot be launched;
// otherwise exactly one callback fires once the shopper finishes or abandons it.
type Widget interface {
	Open(ctx context.Context, inv Invocation, cb Callbacks) error
}

// Canceller abandons the attempt open for a checkout session, as when the shopper returns from
// the hosted page without paying. The widget then fires OnClose.
type Canceller interface {
	CancelPayment(ctx context.Context, sessionID string) error
}
