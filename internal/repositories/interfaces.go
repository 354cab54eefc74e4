package repositories

import (
	"context"
	"time"

	domain "github.com/loomline/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog documents. The engine never writes products
// outside the order transaction.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// OrderRepository persists orders and owns the transactions that mutate stock.
type OrderRepository interface {
	// Create materialises the order atomically with its stock decrements and
	// inventory log entries. The transaction body is side-effect free and safe
	// to retry under contention.
	Create(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIdempotencyKey returns the existing order for a client key, with
	// found=false when no order carries it.
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error)
	FindByStripeSession(ctx context.Context, sessionID string) (domain.Order, bool, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, bool, error)
	UpdatePayment(ctx context.Context, req OrderPaymentUpdate) (domain.Order, error)
	// Refund restores stock for every line and marks the payment refunded, in
	// one transaction. Already-refunded orders are returned unchanged.
	Refund(ctx context.Context, req OrderRefundRequest) (OrderRefundResult, error)
}

// OrderCreateRequest carries the fully priced order into the store transaction.
type OrderCreateRequest struct {
	Order domain.Order
	Now   time.Time
}

// OrderCreateResult returns the persisted order and the audit entries written
// alongside it, for post-commit event publication.
type OrderCreateResult struct {
	Order domain.Order
	Logs  []domain.InventoryLogEntry
}

// OrderPaymentUpdate mutates payment linkage fields on an existing order.
type OrderPaymentUpdate struct {
	OrderID             string
	PaymentStatus       string
	StripeSessionID     string
	StripePaymentIntent string
	Now                 time.Time
}

// OrderRefundRequest restores stock and records the refunded amount.
type OrderRefundRequest struct {
	OrderID string
	Amount  float64
	Now     time.Time
}

// OrderRefundResult reports the updated order and the restock audit entries.
type OrderRefundResult struct {
	Order domain.Order
	Logs  []domain.InventoryLogEntry
}

// DiscountRepository validates and reserves promotional codes.
type DiscountRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	// Reserve atomically re-validates the code, increments the usage counter,
	// and records the per-customer use marker. It fails with the domain
	// discount errors when eligibility no longer holds.
	Reserve(ctx context.Context, req DiscountReserveRequest) (domain.Discount, error)
	// Rollback compensates a reservation whose order transaction failed. It
	// never drives the counter negative and tolerates a missing use marker.
	Rollback(ctx context.Context, req DiscountRollbackRequest) error
}

// DiscountReserveRequest identifies the code, customer, and order context.
type DiscountReserveRequest struct {
	Code     string
	Email    string
	OrderID  string
	Subtotal float64
	Now      time.Time
}

// DiscountRollbackRequest identifies the reservation to compensate.
type DiscountRollbackRequest struct {
	Code  string
	Email string
}

// WebhookEventRepository guarantees at-most-once processing of provider deliveries.
type WebhookEventRepository interface {
	// Begin checks for a prior delivery and writes the processing marker in
	// the same transaction. It returns false when the event was already seen.
	Begin(ctx context.Context, event domain.WebhookEvent) (bool, error)
	Complete(ctx context.Context, eventID, orderID string, now time.Time) error
	Fail(ctx context.Context, eventID, message string, now time.Time) error
}
