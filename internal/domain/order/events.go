package order

import "time"

// RecordedEvent is emitted once an order is durably stored.
type RecordedEvent struct {
	OrderID          string    `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	GrandTotal       int64     `json:"grand_total"`
	Email            string    `json:"email"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (RecordedEvent) EventName() string { return "order.recorded" }

func NewRecordedEvent(o *Order) RecordedEvent {
	return RecordedEvent{
		OrderID:          o.ID,
		PaymentReference: o.PaymentReference,
		GrandTotal:       o.GrandTotal,
		Email:            o.Customer.Email,
		OccurredAt:       time.Now().UTC(),
	}
}

// RecordingFailedEvent is the reconciliation record for a captured payment with no local order.
type RecordingFailedEvent struct {
	SessionID        string    `json:"session_id"`
	PaymentReference string    `json:"payment_reference"`
	GrandTotal       int64     `json:"grand_total"`
	Email            string    `json:"email"`
	Error            string    `json:"error"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (RecordingFailedEvent) EventName() string { return "order.recording_failed" }

func (e RecordedEvent) EventKey() string        { return e.PaymentReference }
func (e RecordingFailedEvent) EventKey() string { return e.PaymentReference }
