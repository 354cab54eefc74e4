package domain

import "time"

// Inventory log reasons written by the engine. Admin tooling writes its own
// reasons (restock, manual adjustment) into the same collection.
const (
	InventoryReasonOrder  = "order"
	InventoryReasonRefund = "refund"
)

// InventoryLogEntry is the append-only audit record for a single stock
// mutation, written inside the same transaction as the mutation it documents.
// Entries are never updated or deleted.
type InventoryLogEntry struct {
	ID        string    `firestore:"-" json:"id"`
	OrderID   string    `firestore:"order_id,omitempty" json:"order_id,omitempty"`
	ProductID string    `firestore:"product_id" json:"product_id"`
	Size      string    `firestore:"size" json:"size"`
	Color     string    `firestore:"color,omitempty" json:"color,omitempty"`
	Change    int       `firestore:"change" json:"change"`
	Reason    string    `firestore:"reason" json:"reason"`
	CreatedAt time.Time `firestore:"created_at" json:"created_at"`
}

// StockEvent is the post-commit notification published for admin tooling
// (restock alerts, low-stock dashboards). It mirrors the log entry but is
// delivered over Pub/Sub rather than read from Firestore.
type StockEvent struct {
	OrderID    string    `json:"orderId"`
	ProductID  string    `json:"productId"`
	Size       string    `json:"size"`
	Color      string    `json:"color,omitempty"`
	Change     int       `json:"change"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}
