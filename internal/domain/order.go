package domain

import (
	"math"
	"time"
)

// Order fulfillment states, independent of payment.
const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Payment states.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
	PaymentStatusFailed   = "failed"
)

// OrderItem is one line of an order. Price is always the server-verified unit
// price at transaction time, never a client-declared value.
type OrderItem struct {
	ProductID string  `firestore:"productId" json:"productId"`
	Size      string  `firestore:"size" json:"size"`
	Color     string  `firestore:"color,omitempty" json:"color,omitempty"`
	Quantity  int     `firestore:"quantity" json:"quantity"`
	Price     float64 `firestore:"price" json:"price"`
}

// ShippingAddress is the destination captured at order time.
type ShippingAddress struct {
	Name    string `firestore:"name" json:"name"`
	Line1   string `firestore:"line1" json:"line1"`
	Line2   string `firestore:"line2,omitempty" json:"line2,omitempty"`
	City    string `firestore:"city" json:"city"`
	Region  string `firestore:"region,omitempty" json:"region,omitempty"`
	Postal  string `firestore:"postal" json:"postal"`
	Country string `firestore:"country" json:"country"`
}

// Order is created exactly once per logical purchase, atomically with its
// stock decrements. Total is never negative.
type Order struct {
	ID                  string          `firestore:"-" json:"id"`
	Items               []OrderItem     `firestore:"items" json:"items"`
	CustomerEmail       string          `firestore:"customer_email" json:"customer_email"`
	ShippingAddress     ShippingAddress `firestore:"shipping_address" json:"shipping_address"`
	Subtotal            float64         `firestore:"subtotal" json:"subtotal"`
	Discount            float64         `firestore:"discount" json:"discount"`
	DiscountCode        string          `firestore:"discount_code,omitempty" json:"discount_code,omitempty"`
	Total               float64         `firestore:"total" json:"total"`
	Donation            float64         `firestore:"donation" json:"donation"`
	Status              string          `firestore:"status" json:"status"`
	PaymentStatus       string          `firestore:"payment_status" json:"payment_status"`
	IdempotencyKey      string          `firestore:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	StripeSessionID     string          `firestore:"stripe_session_id,omitempty" json:"stripe_session_id,omitempty"`
	StripePaymentIntent string          `firestore:"stripe_payment_intent,omitempty" json:"stripe_payment_intent,omitempty"`
	RefundedAmount      float64         `firestore:"refunded_amount,omitempty" json:"refunded_amount,omitempty"`
	CreatedAt           time.Time       `firestore:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `firestore:"updated_at" json:"updated_at"`
}

// RoundCents normalises a monetary amount to two decimal places.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// OrderTotal computes subtotal minus discount, floored at zero.
func OrderTotal(subtotal, discount float64) float64 {
	total := RoundCents(subtotal - discount)
	if total < 0 {
		return 0
	}
	return total
}

// DonationFor computes the fixed-rate donation attached to an order total.
func DonationFor(total, rate float64) float64 {
	if total <= 0 || rate <= 0 {
		return 0
	}
	return RoundCents(total * rate)
}
