package services

import (
	"context"
	"errors"

	domain "github.com/loomline/api/internal/domain"
)

// Service-level failures mapped to transport codes by the handlers.
var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates a line item references an unknown product.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrProductUnavailable indicates a referenced product is inactive or deleted.
	ErrProductUnavailable = errors.New("order: product unavailable")
	// ErrPriceMismatch indicates the declared price drifted from the server price.
	ErrPriceMismatch = errors.New("order: price mismatch")
	// ErrInsufficientStock indicates the transactional stock re-check failed.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrReconciliationRequired flags a paid session whose order could not be
	// materialised. The money is captured but the goods are gone; an operator
	// must refund manually.
	ErrReconciliationRequired = errors.New("checkout: paid session requires manual reconciliation")
)

// OrderItemInput is one requested line before server-side verification.
// DeclaredPrice is the unit price the client saw; the server price is
// authoritative and any drift beyond the configured tolerance rejects the
// request.
type OrderItemInput struct {
	ProductID     string  `json:"productId"`
	Size          string  `json:"size"`
	Color         string  `json:"color,omitempty"`
	Quantity      int     `json:"quantity"`
	DeclaredPrice float64 `json:"price"`
}

// CreateOrderCommand materialises one order. PaymentStatus, StripeSessionID,
// and StripePaymentIntent are set only on the webhook path, where payment
// precedes creation.
type CreateOrderCommand struct {
	Items               []OrderItemInput
	CustomerEmail       string
	ShippingAddress     domain.ShippingAddress
	DiscountCode        string
	IdempotencyKey      string
	PaymentStatus       string
	StripeSessionID     string
	StripePaymentIntent string
}

// CreateOrderResult reports the persisted order. Duplicate marks an
// idempotent replay that performed no mutation.
type CreateOrderResult struct {
	Order     domain.Order
	Duplicate bool
}

// MarkPaidCommand links payment identifiers to an existing order. When
// OrderID is empty the order is resolved through StripeSessionID, the path
// taken when a delayed payment settles after the session completed unpaid.
type MarkPaidCommand struct {
	OrderID             string
	StripeSessionID     string
	StripePaymentIntent string
}

// RefundCommand restores stock and marks the order refunded. Amount zero
// means the full order total.
type RefundCommand struct {
	PaymentIntentID string
	Amount          float64
}

// OrderService orchestrates order materialisation, payment linkage, and refunds.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (domain.Order, error)
	RefundByPaymentIntent(ctx context.Context, cmd RefundCommand) (domain.Order, error)
}

// StockCheckItem is one line of a pre-checkout availability probe.
type StockCheckItem struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
}

// StockIssue reports one unavailable line. Remaining counts are deliberately
// withheld so the endpoint cannot be used to enumerate inventory levels.
type StockIssue struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color,omitempty"`
	Available bool   `json:"available"`
}

// StockCheckResult aggregates availability across all requested lines.
type StockCheckResult struct {
	Valid  bool         `json:"valid"`
	Issues []StockIssue `json:"errors"`
}

// CatalogService exposes read-only product lookups and availability probes.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ValidateStock(ctx context.Context, items []StockCheckItem) (StockCheckResult, error)
}

// CreateCheckoutSessionCommand opens a hosted payment session carrying the
// full order contents as opaque metadata.
type CreateCheckoutSessionCommand struct {
	Items           []OrderItemInput
	CustomerEmail   string
	ShippingAddress domain.ShippingAddress
	DiscountCode    string
}

// CheckoutSessionResult is returned to the client for redirect.
type CheckoutSessionResult struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"url"`
}

// CompleteSessionCommand materialises the order recorded in a finished
// session. PaymentStatus is the provider-reported session payment state; an
// unpaid session produces a pending order that is marked paid when the
// delayed payment settles.
type CompleteSessionCommand struct {
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	Metadata        map[string]string
}

// CheckoutService bridges hosted checkout sessions to order materialisation.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	// CompleteSession materialises the order recorded in the session metadata
	// after the session finishes. Replays of an already-materialised session
	// return the existing order.
	CompleteSession(ctx context.Context, cmd CompleteSessionCommand) (CreateOrderResult, error)
}

// WebhookResult reports the outcome of one provider delivery.
type WebhookResult struct {
	EventID   string
	Duplicate bool
	OrderID   string
}

// WebhookService verifies, deduplicates, and dispatches provider deliveries.
type WebhookService interface {
	Process(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

// StockEventPublisher notifies downstream tooling of committed stock mutations.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event domain.StockEvent) (string, error)
}
