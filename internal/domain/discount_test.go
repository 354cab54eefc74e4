package domain

import (
	"errors"
	"testing"
	"time"
)

func activeDiscount() Discount {
	return Discount{
		ID:        "SAVE10",
		Code:      "SAVE10",
		Type:      DiscountTypePercentage,
		Value:     10,
		MinOrder:  20,
		MaxUses:   5,
		ExpiresAt: time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}
}

func TestDiscountValidateCheckOrder(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		mutate  func(*Discount)
		subtot  float64
		used    bool
		wantErr error
	}{
		{"inactive", func(d *Discount) { d.Active = false }, 100, false, ErrDiscountInactive},
		{"expired", func(d *Discount) { d.ExpiresAt = now.Add(-time.Hour) }, 100, false, ErrDiscountExpired},
		{"exhausted", func(d *Discount) { d.CurrentUses = 5 }, 100, false, ErrDiscountExhausted},
		{"min order", nil, 10, false, ErrDiscountMinOrder},
		{"already used", nil, 100, true, ErrDiscountAlreadyUsed},
		{"valid", nil, 100, false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := activeDiscount()
			if tc.mutate != nil {
				tc.mutate(&d)
			}
			err := d.Validate(tc.subtot, now, tc.used)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDiscountValidateInactiveBeatsExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	d := activeDiscount()
	d.Active = false
	d.ExpiresAt = now.Add(-time.Hour)
	if err := d.Validate(100, now, false); !errors.Is(err, ErrDiscountInactive) {
		t.Fatalf("expected inactive to be checked first, got %v", err)
	}
}

func TestDiscountValidateUnlimitedUses(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	d := activeDiscount()
	d.MaxUses = 0
	d.CurrentUses = 9999
	if err := d.Validate(100, now, false); err != nil {
		t.Fatalf("maxUses=0 means unlimited, got %v", err)
	}
}

func TestDiscountValidateZeroExpiryNeverExpires(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	d := activeDiscount()
	d.ExpiresAt = time.Time{}
	if err := d.Validate(100, now, false); err != nil {
		t.Fatalf("zero expiry should never expire, got %v", err)
	}
}

func TestDiscountAmountPercentageCappedAtFull(t *testing.T) {
	d := Discount{Type: DiscountTypePercentage, Value: 150}
	if got := d.Amount(100); got != 100 {
		t.Fatalf("expected cap at 100%%, got %v", got)
	}
	d.Value = 25
	if got := d.Amount(80); got != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
}

func TestDiscountAmountFixedCappedAtSubtotal(t *testing.T) {
	d := Discount{Type: DiscountTypeFixed, Value: 100}
	if got := d.Amount(50); got != 50 {
		t.Fatalf("expected cap at subtotal, got %v", got)
	}
	d.Value = 15
	if got := d.Amount(50); got != 15 {
		t.Fatalf("expected 15, got %v", got)
	}
}

func TestDiscountAmountNegativeValueClamped(t *testing.T) {
	d := Discount{Type: DiscountTypeFixed, Value: -5}
	if got := d.Amount(50); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	d = Discount{Type: DiscountTypePercentage, Value: -5}
	if got := d.Amount(50); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestNormalizeDiscountCode(t *testing.T) {
	if got := NormalizeDiscountCode("  save10 "); got != "SAVE10" {
		t.Fatalf("expected SAVE10, got %q", got)
	}
}
