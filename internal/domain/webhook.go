package domain

import "time"

// Webhook event processing states.
const (
	WebhookStatusProcessing = "processing"
	WebhookStatusCompleted  = "completed"
	WebhookStatusFailed     = "failed"
)

// WebhookEvent guarantees at-most-once processing of provider deliveries. The
// document ID is the provider's event ID; the processing marker is written in
// the same transaction that checks for prior delivery.
type WebhookEvent struct {
	ID        string    `firestore:"-" json:"id"`
	Type      string    `firestore:"type" json:"type"`
	Status    string    `firestore:"status" json:"status"`
	OrderID   string    `firestore:"order_id,omitempty" json:"order_id,omitempty"`
	Error     string    `firestore:"error,omitempty" json:"error,omitempty"`
	CreatedAt time.Time `firestore:"created_at" json:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at" json:"updated_at"`
}
