package checkout

import "fmt"

type BannerKind string

const (
	BannerInfo     BannerKind = "info"
	BannerRetry    BannerKind = "retry"
	BannerCritical BannerKind = "critical"
)

// Banner is the user-facing message for the current state.
type Banner struct {
	Kind             BannerKind `json:"kind"`
	Message          string     `json:"message"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	Dismissible      bool       `json:"dismissible"`
}

// BannerFor derives the message shown for state. Inventory adjustment problems never produce one.
func BannerFor(state State, paymentReference string) *Banner {
	switch state {
	case StateValidationFailed:
		return &Banner{Kind: BannerInfo, Message: "Please correct the highlighted fields and try again.", Dismissible: true}
	case StateStockFailed:
		return &Banner{Kind: BannerInfo, Message: "Some items are no longer available in the requested quantity. Nothing was charged.", Dismissible: true}
	case StateAwaitingPayment:
		return nil
	case StatePaymentCancelled:
		return &Banner{Kind: BannerRetry, Message: "Payment was cancelled. Nothing happened, you can try again.", Dismissible: true}
	case StatePaymentLoadFailed:
		return &Banner{Kind: BannerRetry, Message: "The payment window could not be opened. Nothing happened, please try again shortly.", Dismissible: true}
	case StateRecordingFailed:
		return &Banner{
			Kind:             BannerCritical,
			Message:          fmt.Sprintf("Your payment succeeded but we could not record your order. Please contact support with payment reference %s.", paymentReference),
			PaymentReference: paymentReference,
			Dismissible:      false,
		}
	case StateCompleted:
		return &Banner{Kind: BannerInfo, Message: "Thank you, your order has been placed.", PaymentReference: paymentReference, Dismissible: true}
	}
	return nil
}

// StockCheckUnavailableBanner stands in for the stock_failed banner when the inventory
// service could not answer at all.
func StockCheckUnavailableBanner() *Banner {
	return &Banner{Kind: BannerRetry, Message: "We could not confirm stock right now. Nothing was charged, please try again shortly.", Dismissible: true}
}

// CartUnavailableBanner is shown when the cart could not be read. The form is not at fault.
func CartUnavailableBanner() *Banner {
	return &Banner{Kind: BannerRetry, Message: "We could not load your cart right now. Nothing was charged, please try again shortly.", Dismissible: true}
}
