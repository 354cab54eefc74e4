package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// Normalised webhook event types shared across providers.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventChargeRefunded        = "charge.refunded"
)

// SessionUnpaid is the provider payment status of a completed session whose
// delayed payment method has not settled yet.
const SessionUnpaid = "unpaid"

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name     string
	Quantity int64
	Amount   int64
	Currency string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession represents the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// WebhookEvent is the provider delivery normalised for the webhook pipeline.
// PaymentStatus carries the session payment state for checkout events; delayed
// payment methods complete a session before the money settles.
type WebhookEvent struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	AmountRefunded  int64
	Metadata        map[string]string
	Raw             json.RawMessage
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	// ParseWebhookEvent verifies the delivery signature and normalises the
	// payload. Verification failures return ErrInvalidSignature.
	ParseWebhookEvent(payload []byte, signature string) (WebhookEvent, error)
}
