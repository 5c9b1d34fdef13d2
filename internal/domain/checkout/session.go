package checkout

import "errors"

const RoleAdmin = "admin"

// Session identifies the shopper driving a checkout. It is fixed when the orchestrator is built.
type Session struct {
	ID     string
	UserID string
	Role   string
}

func (s Session) Validate() error {
	if s.ID == "" {
		return errors.New("checkout: session id is required")
	}
	return nil
}

func (s Session) IsAdmin() bool { return s.Role == RoleAdmin }

// Totals is the priced view of a snapshot. GrandTotal always equals Subtotal plus DeliveryFee.
type Totals struct {
	Subtotal    int64 `json:"subtotal"`
	DeliveryFee int64 `json:"delivery_fee"`
	GrandTotal  int64 `json:"grand_total"`
}

func NewTotals(subtotal, deliveryFee int64) Totals {
	return Totals{Subtotal: subtotal, DeliveryFee: deliveryFee, GrandTotal: subtotal + deliveryFee}
}
