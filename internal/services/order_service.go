package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

const (
	orderEventCreated  = "order.created"
	orderEventPaid     = "order.paid"
	orderEventRefunded = "order.refunded"

	orderIDPrefix        = "ord_"
	inventoryLogIDPrefix = "il_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Discounts   repositories.DiscountRepository
	StockEvents StockEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	DonationRate    float64
	PriceTolerance  float64
	MaxItemQuantity int
}

type orderService struct {
	products    repositories.ProductRepository
	orders      repositories.OrderRepository
	discounts   repositories.DiscountRepository
	stockEvents StockEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)

	donationRate   float64
	priceTolerance float64
	maxQty         int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("order service: discount repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	tolerance := deps.PriceTolerance
	if tolerance <= 0 {
		tolerance = 0.01
	}
	maxQty := deps.MaxItemQuantity
	if maxQty <= 0 {
		maxQty = 10
	}

	return &orderService{
		products:    deps.Products,
		orders:      deps.Orders,
		discounts:   deps.Discounts,
		stockEvents: deps.StockEvents,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		donationRate:   deps.DonationRate,
		priceTolerance: tolerance,
		maxQty:         maxQty,
	}, nil
}

// CreateOrder runs the three-phase materialisation: advisory pre-checks,
// discount reservation, then the atomic order transaction. A reserved discount
// is compensated when the order transaction fails.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	email, err := validateCreateOrderInput(cmd, s.maxQty)
	if err != nil {
		return CreateOrderResult{}, err
	}

	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		existing, found, err := s.orders.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if found {
			s.logger(ctx, "order.idempotent_replay", map[string]any{
				"order_id": existing.ID,
			})
			return CreateOrderResult{Order: existing, Duplicate: true}, nil
		}
	}

	// Phase 0: advisory price and availability checks. The order transaction
	// re-verifies everything; this pass exists to fail fast before any write.
	items, subtotal, err := s.verifyItems(ctx, cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}

	now := s.now()
	orderID := orderIDPrefix + s.newID()

	// Phase 1: discount reservation in its own transaction. The discount lives
	// outside the order's document set, so this is a saga step with an explicit
	// compensator rather than part of the order transaction.
	var (
		discountAmount float64
		discountCode   string
		reserved       bool
	)
	if code := domain.NormalizeDiscountCode(cmd.DiscountCode); code != "" {
		discount, err := s.discounts.Reserve(ctx, repositories.DiscountReserveRequest{
			Code:     code,
			Email:    email,
			OrderID:  orderID,
			Subtotal: subtotal,
			Now:      now,
		})
		if err != nil {
			return CreateOrderResult{}, err
		}
		discountAmount = discount.Amount(subtotal)
		discountCode = code
		reserved = true
	}

	total := domain.OrderTotal(subtotal, discountAmount)
	paymentStatus := cmd.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPending
	}

	order := domain.Order{
		ID:                  orderID,
		Items:               items,
		CustomerEmail:       email,
		ShippingAddress:     cmd.ShippingAddress,
		Subtotal:            domain.RoundCents(subtotal),
		Discount:            discountAmount,
		DiscountCode:        discountCode,
		Total:               total,
		Donation:            domain.DonationFor(total, s.donationRate),
		Status:              domain.OrderStatusPending,
		PaymentStatus:       paymentStatus,
		IdempotencyKey:      strings.TrimSpace(cmd.IdempotencyKey),
		StripeSessionID:     strings.TrimSpace(cmd.StripeSessionID),
		StripePaymentIntent: strings.TrimSpace(cmd.StripePaymentIntent),
	}

	// Phase 2: the atomic transaction. Stock re-validation, decrements, audit
	// log entries, and the order document commit together or not at all.
	result, err := s.orders.Create(ctx, repositories.OrderCreateRequest{Order: order, Now: now})
	if err != nil {
		if reserved {
			s.compensateDiscount(ctx, discountCode, email, orderID)
		}
		return CreateOrderResult{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"order_id": result.Order.ID,
		"total":    result.Order.Total,
		"items":    len(result.Order.Items),
	})
	s.publishStockEvents(ctx, result.Logs, now)

	return CreateOrderResult{Order: result.Order}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return domain.Order{}, err
	}
	return order, nil
}

// MarkPaid settles payment on an existing order, resolving it by ID or by the
// checkout session it was materialised from. Orders already paid are returned
// unchanged so redelivered confirmations stay harmless.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (domain.Order, error) {
	id := strings.TrimSpace(cmd.OrderID)
	sessionID := strings.TrimSpace(cmd.StripeSessionID)
	if id == "" && sessionID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id or session id is required", ErrOrderInvalidInput)
	}
	if id == "" {
		existing, found, err := s.orders.FindByStripeSession(ctx, sessionID)
		if err != nil {
			return domain.Order{}, err
		}
		if !found {
			return domain.Order{}, fmt.Errorf("%w: no order for session %s", ErrOrderNotFound, sessionID)
		}
		if existing.PaymentStatus == domain.PaymentStatusPaid {
			return existing, nil
		}
		id = existing.ID
	}
	order, err := s.orders.UpdatePayment(ctx, repositories.OrderPaymentUpdate{
		OrderID:             id,
		PaymentStatus:       domain.PaymentStatusPaid,
		StripeSessionID:     strings.TrimSpace(cmd.StripeSessionID),
		StripePaymentIntent: strings.TrimSpace(cmd.StripePaymentIntent),
		Now:                 s.now(),
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return domain.Order{}, err
	}
	s.logger(ctx, orderEventPaid, map[string]any{"order_id": order.ID})
	return order, nil
}

// RefundByPaymentIntent restores stock and marks the order refunded. Repeat
// deliveries of the same refund are harmless: an already-refunded order is
// returned unchanged.
func (s *orderService) RefundByPaymentIntent(ctx context.Context, cmd RefundCommand) (domain.Order, error) {
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	if intentID == "" {
		return domain.Order{}, fmt.Errorf("%w: payment intent id is required", ErrOrderInvalidInput)
	}
	order, found, err := s.orders.FindByPaymentIntent(ctx, intentID)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, fmt.Errorf("%w: no order for payment intent %s", ErrOrderNotFound, intentID)
	}

	now := s.now()
	result, err := s.orders.Refund(ctx, repositories.OrderRefundRequest{
		OrderID: order.ID,
		Amount:  cmd.Amount,
		Now:     now,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger(ctx, orderEventRefunded, map[string]any{
		"order_id": result.Order.ID,
		"amount":   result.Order.RefundedAmount,
	})
	s.publishStockEvents(ctx, result.Logs, now)
	return result.Order, nil
}

// verifyItems enforces price authority: the server price always wins, and any
// declared price drifting beyond the tolerance rejects the whole request.
func (s *orderService) verifyItems(ctx context.Context, inputs []OrderItemInput) ([]domain.OrderItem, float64, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		ids = append(ids, strings.TrimSpace(input.ProductID))
	}
	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	subtotal := 0.0
	for _, input := range inputs {
		id := strings.TrimSpace(input.ProductID)
		product, ok := products[id]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if !product.Purchasable() {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
		}
		if math.Abs(product.Price-input.DeclaredPrice) > s.priceTolerance {
			return nil, 0, fmt.Errorf("%w: product %s", ErrPriceMismatch, id)
		}
		items = append(items, domain.OrderItem{
			ProductID: id,
			Size:      input.Size,
			Color:     strings.TrimSpace(input.Color),
			Quantity:  input.Quantity,
			Price:     product.Price,
		})
		subtotal += product.Price * float64(input.Quantity)
	}
	return items, domain.RoundCents(subtotal), nil
}

// compensateDiscount reverses a Phase-1 reservation after a Phase-2 failure.
// Compensation failures never surface to the caller; they are logged for
// manual reconciliation.
func (s *orderService) compensateDiscount(ctx context.Context, code, email, orderID string) {
	err := s.discounts.Rollback(ctx, repositories.DiscountRollbackRequest{Code: code, Email: email})
	if err != nil {
		s.logger(ctx, "order.discount_rollback_failed", map[string]any{
			"order_id": orderID,
			"code":     code,
			"error":    err.Error(),
		})
		return
	}
	s.logger(ctx, "order.discount_rolled_back", map[string]any{
		"order_id": orderID,
		"code":     code,
	})
}

// publishStockEvents emits one event per committed log entry. Publication is
// best effort; the transaction already committed and a lost event only delays
// downstream dashboards.
func (s *orderService) publishStockEvents(ctx context.Context, logs []domain.InventoryLogEntry, now time.Time) {
	if s.stockEvents == nil {
		return
	}
	for _, entry := range logs {
		_, err := s.stockEvents.PublishStockEvent(ctx, domain.StockEvent{
			OrderID:    entry.OrderID,
			ProductID:  entry.ProductID,
			Size:       entry.Size,
			Color:      entry.Color,
			Change:     entry.Change,
			Reason:     entry.Reason,
			OccurredAt: now,
		})
		if err != nil {
			s.logger(ctx, "order.stock_event_publish_failed", map[string]any{
				"order_id":   entry.OrderID,
				"product_id": entry.ProductID,
				"error":      err.Error(),
			})
		}
	}
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func validateCreateOrderInput(cmd CreateOrderCommand, maxQty int) (string, error) {
	if len(cmd.Items) == 0 {
		return "", fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(cmd.CustomerEmail))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddress.Line1) == "" || strings.TrimSpace(cmd.ShippingAddress.Country) == "" {
		return "", fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return "", fmt.Errorf("%w: items[%d] product id is required", ErrOrderInvalidInput, i)
		}
		if !domain.KnownSize(item.Size) {
			return "", fmt.Errorf("%w: items[%d] size %q is not recognised", ErrOrderInvalidInput, i, item.Size)
		}
		if item.Quantity < 1 || item.Quantity > maxQty {
			return "", fmt.Errorf("%w: items[%d] quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxQty)
		}
		if item.DeclaredPrice < 0 {
			return "", fmt.Errorf("%w: items[%d] price must not be negative", ErrOrderInvalidInput, i)
		}
	}
	return email, nil
}

// mapOrderRepositoryError translates typed store failures into the service
// sentinels the handlers key on.
func mapOrderRepositoryError(err error) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, orderErr.Message)
		case repositories.OrderErrorProductUnavailable:
			return fmt.Errorf("%w: %s", ErrProductUnavailable, orderErr.Message)
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, orderErr.Message)
		case repositories.OrderErrorVariantMismatch:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, orderErr.Message)
		case repositories.OrderErrorDuplicate:
			return fmt.Errorf("%w: %s", ErrOrderConflict, orderErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	return err
}
