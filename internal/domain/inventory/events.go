package inventory

import "time"

// LineAdjustment is the outcome of a single decrement call.
type LineAdjustment struct {
	ID       string
	Quantity int
	OK       bool
	Reason   string
	Err      error
}

// AdjustmentResult collects every per-line decrement outcome for one order.
type AdjustmentResult struct {
	OrderID string
	Lines   []LineAdjustment
}

// Failed returns the lines whose decrement did not succeed.
func (r AdjustmentResult) Failed() []LineAdjustment {
	var out []LineAdjustment
	for _, l := range r.Lines {
		if !l.OK {
			out = append(out, l)
		}
	}
	return out
}

// AdjustmentFailedEvent flags a line whose stock was not decremented for out-of-band reconciliation.
type AdjustmentFailedEvent struct {
	OrderID          string    `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	ItemID           string    `json:"item_id"`
	Quantity         int       `json:"quantity"`
	Reason           string    `json:"reason"`
	Error            string    `json:"error"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (AdjustmentFailedEvent) EventName() string { return "inventory.adjustment_failed" }

func NewAdjustmentFailedEvent(orderID, reference string, line LineAdjustment, at time.Time) AdjustmentFailedEvent {
	evt := AdjustmentFailedEvent{
		OrderID:          orderID,
		PaymentReference: reference,
		ItemID:           line.ID,
		Quantity:         line.Quantity,
		Reason:           line.Reason,
		OccurredAt:       at.UTC(),
	}
	if line.Err != nil {
		evt.Error = line.Err.Error()
	}
	return evt
}

func (e AdjustmentFailedEvent) EventKey() string { return e.OrderID }
