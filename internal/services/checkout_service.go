package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
)

// checkoutMetadataKey carries the full order contents through the PSP session.
// The cart may change between session creation and payment completion, so the
// webhook materialises the order from this snapshot, never from a live cart.
const checkoutMetadataKey = "order_payload"

const defaultCheckoutCurrency = "usd"

// checkoutOrderPayload is the order snapshot serialised into session metadata.
type checkoutOrderPayload struct {
	Items           []OrderItemInput       `json:"items"`
	CustomerEmail   string                 `json:"customerEmail"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	DiscountCode    string                 `json:"discountCode,omitempty"`
}

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Products  repositories.ProductRepository
	Orders    repositories.OrderRepository
	Discounts repositories.DiscountRepository
	OrderSvc  OrderService
	Provider  payments.Provider
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)

	SuccessURL      string
	CancelURL       string
	Currency        string
	PriceTolerance  float64
	MaxItemQuantity int
}

type checkoutService struct {
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	discounts repositories.DiscountRepository
	orderSvc  OrderService
	provider  payments.Provider
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)

	successURL string
	cancelURL  string
	currency   string
	tolerance  float64
	maxQty     int
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount repository is required")
	}
	if deps.OrderSvc == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	if strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "" {
		return nil, errors.New("checkout service: success and cancel urls are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	tolerance := deps.PriceTolerance
	if tolerance <= 0 {
		tolerance = 0.01
	}
	maxQty := deps.MaxItemQuantity
	if maxQty <= 0 {
		maxQty = 10
	}

	return &checkoutService{
		products:  deps.Products,
		orders:    deps.Orders,
		discounts: deps.Discounts,
		orderSvc:  deps.OrderSvc,
		provider:  deps.Provider,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:     logger,
		successURL: strings.TrimSpace(deps.SuccessURL),
		cancelURL:  strings.TrimSpace(deps.CancelURL),
		currency:   currency,
		tolerance:  tolerance,
		maxQty:     maxQty,
	}, nil
}

// CreateSession verifies prices, applies an advisory discount check, and opens
// a hosted payment session whose metadata carries the full order snapshot.
// Nothing is reserved here; the authoritative checks run when the payment
// confirmation arrives.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	email, err := validateCreateOrderInput(CreateOrderCommand{
		Items:           cmd.Items,
		CustomerEmail:   cmd.CustomerEmail,
		ShippingAddress: cmd.ShippingAddress,
	}, s.maxQty)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	ids := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	subtotal := 0.0
	lineItems := make([]payments.CheckoutLineItem, 0, len(cmd.Items))
	snapshot := make([]OrderItemInput, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		id := strings.TrimSpace(item.ProductID)
		product, ok := products[id]
		if !ok {
			return CheckoutSessionResult{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if !product.Purchasable() {
			return CheckoutSessionResult{}, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
		}
		if math.Abs(product.Price-item.DeclaredPrice) > s.tolerance {
			return CheckoutSessionResult{}, fmt.Errorf("%w: product %s", ErrPriceMismatch, id)
		}
		subtotal += product.Price * float64(item.Quantity)
		lineItems = append(lineItems, payments.CheckoutLineItem{
			Name:     product.Name,
			Quantity: int64(item.Quantity),
			Amount:   toCents(product.Price),
			Currency: s.currency,
		})
		snapshot = append(snapshot, OrderItemInput{
			ProductID:     id,
			Size:          item.Size,
			Color:         strings.TrimSpace(item.Color),
			Quantity:      item.Quantity,
			DeclaredPrice: product.Price,
		})
	}
	subtotal = domain.RoundCents(subtotal)

	discountCode := domain.NormalizeDiscountCode(cmd.DiscountCode)
	discountAmount := 0.0
	if discountCode != "" {
		discount, err := s.discounts.FindByCode(ctx, discountCode)
		if err != nil {
			return CheckoutSessionResult{}, err
		}
		if err := discount.Validate(subtotal, s.clock(), false); err != nil {
			return CheckoutSessionResult{}, err
		}
		discountAmount = discount.Amount(subtotal)
	}
	total := domain.OrderTotal(subtotal, discountAmount)

	payload := checkoutOrderPayload{
		Items:           snapshot,
		CustomerEmail:   email,
		ShippingAddress: cmd.ShippingAddress,
		DiscountCode:    discountCode,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("checkout: encode order payload: %w", err)
	}

	req := payments.CheckoutSessionRequest{
		Amount:        toCents(total),
		Currency:      s.currency,
		CustomerEmail: email,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		Metadata: map[string]string{
			checkoutMetadataKey: string(encoded),
		},
		Items: lineItems,
	}
	// A discounted total cannot be expressed as per-product line items, so the
	// session collapses to a single aggregated line.
	if discountAmount > 0 {
		req.Items = nil
	}

	session, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSessionResult{}, err
	}

	s.logger(ctx, "checkout.session_created", map[string]any{
		"session_id": session.ID,
		"total":      total,
	})
	return CheckoutSessionResult{SessionID: session.ID, RedirectURL: session.RedirectURL}, nil
}

// CompleteSession materialises the order recorded in the session metadata. The
// customer has committed to the purchase, so a materialisation failure is
// surfaced as a reconciliation error rather than absorbed: stock may have run
// out between session creation and completion, and only a manual refund
// resolves that. Sessions completed with a delayed payment method produce a
// pending order; MarkPaid settles it when the async confirmation arrives.
func (s *checkoutService) CompleteSession(ctx context.Context, cmd CompleteSessionCommand) (CreateOrderResult, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}

	existing, found, err := s.orders.FindByStripeSession(ctx, sessionID)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if found {
		return CreateOrderResult{Order: existing, Duplicate: true}, nil
	}

	paymentStatus := domain.PaymentStatusPaid
	if cmd.PaymentStatus == payments.SessionUnpaid {
		paymentStatus = domain.PaymentStatusPending
	}

	raw, ok := cmd.Metadata[checkoutMetadataKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: session %s carries no order payload", ErrReconciliationRequired, sessionID)
	}
	var payload checkoutOrderPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return CreateOrderResult{}, fmt.Errorf("%w: session %s payload is malformed: %v", ErrReconciliationRequired, sessionID, err)
	}

	result, err := s.orderSvc.CreateOrder(ctx, CreateOrderCommand{
		Items:               payload.Items,
		CustomerEmail:       payload.CustomerEmail,
		ShippingAddress:     payload.ShippingAddress,
		DiscountCode:        payload.DiscountCode,
		IdempotencyKey:      sessionID,
		PaymentStatus:       paymentStatus,
		StripeSessionID:     sessionID,
		StripePaymentIntent: strings.TrimSpace(cmd.PaymentIntentID),
	})
	if err != nil {
		s.logger(ctx, "checkout.reconciliation_required", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return CreateOrderResult{}, fmt.Errorf("%w: session %s: %v", ErrReconciliationRequired, sessionID, err)
	}

	s.logger(ctx, "checkout.session_completed", map[string]any{
		"session_id": sessionID,
		"order_id":   result.Order.ID,
	})
	return result, nil
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
