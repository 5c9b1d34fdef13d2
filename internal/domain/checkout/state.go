package checkout

// State is a checkout session's position in the flow.
type State string

const (
	StateDraft           State = "draft"
	StateValidating      State = "validating"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaying          State = "paying"
	StateRecording       State = "recording"
	StateAdjusting       State = "adjusting"
	StateCompleted       State = "completed"

	StateValidationFailed  State = "validation_failed"
	StateStockFailed       State = "stock_failed"
	StatePaymentCancelled  State = "payment_cancelled"
	StatePaymentLoadFailed State = "payment_load_failed"
	StateRecordingFailed   State = "recording_failed"
)

var transitions = map[State][]State{
	StateDraft:             {StateValidating},
	StateValidating:        {StateValidationFailed, StateStockFailed, StateAwaitingPayment},
	StateAwaitingPayment:   {StateValidating, StatePaying},
	StatePaying:            {StateRecording, StatePaymentCancelled, StatePaymentLoadFailed},
	StatePaymentCancelled:  {StateAwaitingPayment},
	StatePaymentLoadFailed: {StateDraft, StateValidating},
	StateRecording:         {StateAdjusting, StateRecordingFailed},
	StateRecordingFailed:   {StateRecording},
	StateAdjusting:         {StateCompleted},
	StateValidationFailed:  {StateDraft},
	StateStockFailed:       {StateDraft},
	StateCompleted:         nil,
}

// CanTransition reports whether to is a legal next state from s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Busy states have an external call in flight.
func (s State) Busy() bool {
	switch s {
	case StateValidating, StatePaying, StateRecording, StateAdjusting:
		return true
	}
	return false
}

// AcceptsSubmit reports whether a fresh submission may start from s.
func (s State) AcceptsSubmit() bool {
	switch s {
	case StateDraft, StateValidationFailed, StateStockFailed, StatePaymentLoadFailed:
		return true
	}
	return false
}

// AcceptsPay reports whether the gateway may be (re)opened from s.
func (s State) AcceptsPay() bool {
	return s == StateAwaitingPayment || s == StatePaymentLoadFailed
}

// Terminal states admit no automatic transitions. RecordingFailed only moves on manual retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRecordingFailed
}

func (s State) String() string { return string(s) }
