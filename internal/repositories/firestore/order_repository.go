package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

const (
	ordersCollection        = "orders"
	inventoryLogsCollection = "inventoryLogs"
)

// OrderRepository persists orders and owns the stock mutation transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[domain.Order]
	logs     *pfirestore.BaseRepository[domain.InventoryLogEntry]
	logID    func() string
	attempts int
}

// NewOrderRepository constructs a Firestore backed order repository. logID
// generates document IDs for inventory log entries; txAttempts bounds the
// optimistic retry loop.
func NewOrderRepository(provider *pfirestore.Provider, logID func() string, txAttempts int) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if logID == nil {
		return nil, errors.New("order repository requires log id generator")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, nil, nil),
		logs:     pfirestore.NewBaseRepository[domain.InventoryLogEntry](provider, inventoryLogsCollection, nil, nil),
		logID:    logID,
		attempts: txAttempts,
	}, nil
}

// Create materialises the order atomically with its stock decrements. All
// document reads happen before the first write so the transaction satisfies
// the store's read-then-write ordering, and the body mutates only local copies
// so automatic retries observe a clean slate.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: id is required")
	}
	if len(order.Items) == 0 {
		return repositories.OrderCreateResult{}, errors.New("order create: at least one item is required")
	}

	now := req.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.OrderCreateResult{}, err
	}

	var result repositories.OrderCreateResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := client.Collection(ordersCollection).Doc(order.ID)

		productIDs := uniqueProductIDs(order.Items)
		productRefs := make([]*firestore.DocumentRef, len(productIDs))
		for i, id := range productIDs {
			productRefs[i] = client.Collection(productsCollection).Doc(id)
		}

		snaps, err := tx.GetAll(productRefs)
		if err != nil {
			return err
		}

		products := make(map[string]*domain.Product, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				return repositories.NewOrderError(repositories.OrderErrorProductNotFound, fmt.Sprintf("product %s not found", snap.Ref.ID), nil)
			}
			var product domain.Product
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
			}
			product.ID = snap.Ref.ID
			if !product.Purchasable() {
				return repositories.NewOrderError(repositories.OrderErrorProductUnavailable, fmt.Sprintf("product %s is unavailable", snap.Ref.ID), nil)
			}
			products[snap.Ref.ID] = &product
		}

		logs := make([]domain.InventoryLogEntry, 0, len(order.Items))
		for _, item := range order.Items {
			product, ok := products[item.ProductID]
			if !ok {
				return repositories.NewOrderError(repositories.OrderErrorProductNotFound, fmt.Sprintf("product %s not found", item.ProductID), nil)
			}
			if err := product.Decrement(item.Size, item.Color, item.Quantity); err != nil {
				return mapStockError(err)
			}
			logs = append(logs, domain.InventoryLogEntry{
				ID:        r.logID(),
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Size:      item.Size,
				Color:     item.Color,
				Change:    -item.Quantity,
				Reason:    domain.InventoryReasonOrder,
				CreatedAt: now,
			})
		}

		for _, id := range productIDs {
			product := products[id]
			product.UpdatedAt = now
			if err := tx.Set(client.Collection(productsCollection).Doc(id), *product); err != nil {
				return err
			}
		}

		for _, entry := range logs {
			if err := tx.Create(client.Collection(inventoryLogsCollection).Doc(entry.ID), entry); err != nil {
				return err
			}
		}

		persisted := order
		persisted.CreatedAt = now
		persisted.UpdatedAt = now
		if err := tx.Create(orderRef, persisted); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorDuplicate, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}

		result = repositories.OrderCreateResult{Order: persisted, Logs: logs}
		return nil
	}, pfirestore.WithTxAttempts(r.attempts))
	if err != nil {
		return repositories.OrderCreateResult{}, wrapOrderError("orders.create", err)
	}
	return result, nil
}

// FindByID fetches an order document.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByIdempotencyKey locates an existing order for a client key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, bool, error) {
	return r.findOneBy(ctx, "idempotency_key", strings.TrimSpace(key))
}

// FindByStripeSession locates an order linked to a checkout session.
func (r *OrderRepository) FindByStripeSession(ctx context.Context, sessionID string) (domain.Order, bool, error) {
	return r.findOneBy(ctx, "stripe_session_id", strings.TrimSpace(sessionID))
}

// FindByPaymentIntent locates an order linked to a payment intent.
func (r *OrderRepository) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (domain.Order, bool, error) {
	return r.findOneBy(ctx, "stripe_payment_intent", strings.TrimSpace(paymentIntentID))
}

func (r *OrderRepository) findOneBy(ctx context.Context, field, value string) (domain.Order, bool, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, false, errors.New("order repository not initialised")
	}
	if value == "" {
		return domain.Order{}, false, nil
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	if len(docs) == 0 {
		return domain.Order{}, false, nil
	}
	order := docs[0].Data
	order.ID = docs[0].ID
	return order, true, nil
}

// UpdatePayment mutates payment linkage fields on an existing order.
func (r *OrderRepository) UpdatePayment(ctx context.Context, req repositories.OrderPaymentUpdate) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order payment update: id is required")
	}

	updates := []firestore.Update{
		{Path: "updated_at", Value: req.Now.UTC()},
	}
	if req.PaymentStatus != "" {
		updates = append(updates, firestore.Update{Path: "payment_status", Value: req.PaymentStatus})
	}
	if req.StripeSessionID != "" {
		updates = append(updates, firestore.Update{Path: "stripe_session_id", Value: req.StripeSessionID})
	}
	if req.StripePaymentIntent != "" {
		updates = append(updates, firestore.Update{Path: "stripe_payment_intent", Value: req.StripePaymentIntent})
	}

	if _, err := r.orders.Update(ctx, orderID, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

// Refund records the refunded amount and, once the refund covers the full
// order total, restores stock for every line and marks the payment refunded
// in one transaction. Orders already refunded are returned unchanged, keeping
// the operation safe under duplicate webhook delivery.
func (r *OrderRepository) Refund(ctx context.Context, req repositories.OrderRefundRequest) (repositories.OrderRefundResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderRefundResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderRefundResult{}, errors.New("order refund: id is required")
	}

	now := req.Now.UTC()
	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.OrderRefundResult{}, err
	}

	var result repositories.OrderRefundResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := client.Collection(ordersCollection).Doc(orderID)
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order domain.Order
		if err := orderSnap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order.ID = orderID

		if order.PaymentStatus == domain.PaymentStatusRefunded {
			result = repositories.OrderRefundResult{Order: order}
			return nil
		}

		// The provider reports amount_refunded cumulatively. A partial refund
		// only records the running amount; stock is released once the refund
		// covers the full order total.
		if isPartialRefund(req.Amount, order.Total) {
			order.RefundedAmount = domain.RoundCents(req.Amount)
			order.UpdatedAt = now
			if err := tx.Set(orderRef, order); err != nil {
				return err
			}
			result = repositories.OrderRefundResult{Order: order}
			return nil
		}

		productIDs := uniqueProductIDs(order.Items)
		productRefs := make([]*firestore.DocumentRef, len(productIDs))
		for i, id := range productIDs {
			productRefs[i] = client.Collection(productsCollection).Doc(id)
		}
		snaps, err := tx.GetAll(productRefs)
		if err != nil {
			return err
		}

		// Products removed from the catalog after purchase cannot be
		// restocked; the refund still completes for the remaining lines.
		products := make(map[string]*domain.Product, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			var product domain.Product
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
			}
			product.ID = snap.Ref.ID
			products[snap.Ref.ID] = &product
		}

		logs := make([]domain.InventoryLogEntry, 0, len(order.Items))
		touched := make(map[string]struct{}, len(products))
		for _, item := range order.Items {
			product, ok := products[item.ProductID]
			if !ok {
				continue
			}
			if err := product.Restock(item.Size, item.Color, item.Quantity); err != nil {
				return mapStockError(err)
			}
			touched[item.ProductID] = struct{}{}
			logs = append(logs, domain.InventoryLogEntry{
				ID:        r.logID(),
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Size:      item.Size,
				Color:     item.Color,
				Change:    item.Quantity,
				Reason:    domain.InventoryReasonRefund,
				CreatedAt: now,
			})
		}

		for _, id := range productIDs {
			if _, ok := touched[id]; !ok {
				continue
			}
			product := products[id]
			product.UpdatedAt = now
			if err := tx.Set(client.Collection(productsCollection).Doc(id), *product); err != nil {
				return err
			}
		}
		for _, entry := range logs {
			if err := tx.Create(client.Collection(inventoryLogsCollection).Doc(entry.ID), entry); err != nil {
				return err
			}
		}

		amount := req.Amount
		if amount <= 0 {
			amount = order.Total
		}
		order.PaymentStatus = domain.PaymentStatusRefunded
		order.Status = domain.OrderStatusCancelled
		order.RefundedAmount = domain.RoundCents(amount)
		order.UpdatedAt = now
		if err := tx.Set(orderRef, order); err != nil {
			return err
		}

		result = repositories.OrderRefundResult{Order: order, Logs: logs}
		return nil
	}, pfirestore.WithTxAttempts(r.attempts))
	if err != nil {
		return repositories.OrderRefundResult{}, wrapOrderError("orders.refund", err)
	}
	return result, nil
}

// Helper functions -----------------------------------------------------------

// isPartialRefund reports whether the cumulative refunded amount still falls
// short of the order total. Half a cent of float noise is tolerated.
func isPartialRefund(amount, total float64) bool {
	return amount > 0 && amount+0.005 < total
}

func uniqueProductIDs(items []domain.OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func mapStockError(err error) error {
	var insufficient *domain.ErrInsufficientStock
	if errors.As(err, &insufficient) {
		return repositories.NewOrderError(repositories.OrderErrorInsufficientStock, insufficient.Error(), err)
	}
	var unknownColor *domain.ErrUnknownColor
	if errors.As(err, &unknownColor) {
		return repositories.NewOrderError(repositories.OrderErrorVariantMismatch, unknownColor.Error(), err)
	}
	var unknownSize *domain.ErrUnknownSize
	if errors.As(err, &unknownSize) {
		return repositories.NewOrderError(repositories.OrderErrorVariantMismatch, unknownSize.Error(), err)
	}
	return err
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
