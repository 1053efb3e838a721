package billing

import (
	"context"
	"time"
)

// CheckoutRequest captures what is needed to open a hosted checkout for a
// credit pack purchase.
type CheckoutRequest struct {
	CaregiverID string
	Pack        Pack
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutIntent is the minimal provider response for a created checkout.
type CheckoutIntent struct {
	SessionID   string
	RedirectURL string
}

// Provider abstracts the operations required from the billing provider.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutIntent, error)
	VerifySignature(body []byte, header string, now time.Time) error
}
