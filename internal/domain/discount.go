package domain

import (
	"errors"
	"strings"
	"time"
)

// Discount types.
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// Validation failures, ordered by the check sequence the validator applies.
var (
	ErrDiscountNotFound    = errors.New("discount: invalid code")
	ErrDiscountInactive    = errors.New("discount: no longer active")
	ErrDiscountExpired     = errors.New("discount: expired")
	ErrDiscountExhausted   = errors.New("discount: usage limit reached")
	ErrDiscountMinOrder    = errors.New("discount: minimum order not met")
	ErrDiscountAlreadyUsed = errors.New("discount: already used")
)

// Discount is a promotional code document. Codes are case-insensitive and
// stored uppercase; the document ID is the normalised code. CurrentUses never
// exceeds MaxUses when MaxUses > 0 and is only mutated inside the reservation
// and rollback transactions.
type Discount struct {
	ID          string    `firestore:"-" json:"id"`
	Code        string    `firestore:"code" json:"code"`
	Type        string    `firestore:"type" json:"type"`
	Value       float64   `firestore:"value" json:"value"`
	MinOrder    float64   `firestore:"minOrder" json:"minOrder"`
	MaxUses     int       `firestore:"maxUses" json:"maxUses"`
	CurrentUses int       `firestore:"currentUses" json:"currentUses"`
	ExpiresAt   time.Time `firestore:"expiresAt" json:"expiresAt"`
	Active      bool      `firestore:"active" json:"active"`
}

// DiscountUse enforces one use per customer per code. It lives in a
// subcollection under the discount and is created/deleted in lockstep with the
// usage counter.
type DiscountUse struct {
	Email     string    `firestore:"email" json:"email"`
	OrderID   string    `firestore:"order_id,omitempty" json:"order_id,omitempty"`
	CreatedAt time.Time `firestore:"created_at" json:"created_at"`
}

// NormalizeDiscountCode folds a code to its stored representation.
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate applies the eligibility checks in their specified order.
// alreadyUsed is the existence of this customer's DiscountUse record, supplied
// by the caller since only the store can answer it.
func (d Discount) Validate(subtotal float64, now time.Time, alreadyUsed bool) error {
	if !d.Active {
		return ErrDiscountInactive
	}
	if !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(now) {
		return ErrDiscountExpired
	}
	if d.MaxUses > 0 && d.CurrentUses >= d.MaxUses {
		return ErrDiscountExhausted
	}
	if subtotal < d.MinOrder {
		return ErrDiscountMinOrder
	}
	if alreadyUsed {
		return ErrDiscountAlreadyUsed
	}
	return nil
}

// Amount computes the capped discount for the subtotal. Percentage values are
// capped at 100%; fixed values are capped at the subtotal so a discount can
// never drive a total negative.
func (d Discount) Amount(subtotal float64) float64 {
	switch d.Type {
	case DiscountTypePercentage:
		pct := d.Value
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		return RoundCents(subtotal * pct / 100)
	case DiscountTypeFixed:
		amount := d.Value
		if amount > subtotal {
			amount = subtotal
		}
		if amount < 0 {
			amount = 0
		}
		return RoundCents(amount)
	default:
		return 0
	}
}
