package domain

import "testing"

func TestOrderTotalFloorsAtZero(t *testing.T) {
	if got := OrderTotal(50, 100); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := OrderTotal(100, 25.5); got != 74.5 {
		t.Fatalf("expected 74.5, got %v", got)
	}
}

func TestDonationFor(t *testing.T) {
	if got := DonationFor(100, 0.10); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
	if got := DonationFor(0, 0.10); got != 0 {
		t.Fatalf("expected 0 for zero total, got %v", got)
	}
	if got := DonationFor(100, 0); got != 0 {
		t.Fatalf("expected 0 for zero rate, got %v", got)
	}
}

func TestRoundCents(t *testing.T) {
	if got := RoundCents(19.999); got != 20 {
		t.Fatalf("expected 20, got %v", got)
	}
	if got := RoundCents(10.456); got != 10.46 {
		t.Fatalf("expected 10.46, got %v", got)
	}
}
