package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/repositories"
)

// WebhookServiceDeps bundles collaborators required to construct the webhook service.
type WebhookServiceDeps struct {
	Provider payments.Provider
	Events   repositories.WebhookEventRepository
	Checkout CheckoutService
	Orders   OrderService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	provider payments.Provider
	events   repositories.WebhookEventRepository
	checkout CheckoutService
	orders   OrderService
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewWebhookService wires dependencies into a concrete WebhookService implementation.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Provider == nil {
		return nil, errors.New("webhook service: payment provider is required")
	}
	if deps.Events == nil {
		return nil, errors.New("webhook service: event repository is required")
	}
	if deps.Checkout == nil {
		return nil, errors.New("webhook service: checkout service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		provider: deps.Provider,
		events:   deps.Events,
		checkout: deps.Checkout,
		orders:   deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Process verifies the delivery signature, claims the event ID, and dispatches
// by type. Redeliveries short-circuit after the claim check and perform no
// mutation. Unknown event types are acknowledged without action.
func (s *webhookService) Process(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := s.provider.ParseWebhookEvent(payload, signature)
	if err != nil {
		return WebhookResult{}, err
	}

	now := s.clock()
	claimed, err := s.events.Begin(ctx, domain.WebhookEvent{
		ID:        event.ID,
		Type:      event.Type,
		CreatedAt: now,
	})
	if err != nil {
		return WebhookResult{}, err
	}
	if !claimed {
		s.logger(ctx, "webhook.duplicate_delivery", map[string]any{
			"event_id": event.ID,
			"type":     event.Type,
		})
		return WebhookResult{EventID: event.ID, Duplicate: true}, nil
	}

	orderID, err := s.dispatch(ctx, event)
	if err != nil {
		if failErr := s.events.Fail(ctx, event.ID, err.Error(), s.clock()); failErr != nil {
			s.logger(ctx, "webhook.mark_failed_error", map[string]any{
				"event_id": event.ID,
				"error":    failErr.Error(),
			})
		}
		return WebhookResult{EventID: event.ID}, err
	}

	if completeErr := s.events.Complete(ctx, event.ID, orderID, s.clock()); completeErr != nil {
		s.logger(ctx, "webhook.mark_completed_error", map[string]any{
			"event_id": event.ID,
			"error":    completeErr.Error(),
		})
	}
	return WebhookResult{EventID: event.ID, OrderID: orderID}, nil
}

func (s *webhookService) dispatch(ctx context.Context, event payments.WebhookEvent) (string, error) {
	switch event.Type {
	case payments.EventCheckoutCompleted:
		result, err := s.checkout.CompleteSession(ctx, CompleteSessionCommand{
			SessionID:       event.SessionID,
			PaymentIntentID: event.PaymentIntentID,
			PaymentStatus:   event.PaymentStatus,
			Metadata:        event.Metadata,
		})
		if err != nil {
			return "", err
		}
		return result.Order.ID, nil
	case payments.EventAsyncPaymentSucceeded:
		order, err := s.orders.MarkPaid(ctx, MarkPaidCommand{
			StripeSessionID:     event.SessionID,
			StripePaymentIntent: event.PaymentIntentID,
		})
		if err == nil {
			return order.ID, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return "", err
		}
		// The completed delivery may have been lost; the async confirmation
		// carries the same session snapshot, so materialise from it directly.
		result, err := s.checkout.CompleteSession(ctx, CompleteSessionCommand{
			SessionID:       event.SessionID,
			PaymentIntentID: event.PaymentIntentID,
			Metadata:        event.Metadata,
		})
		if err != nil {
			return "", err
		}
		return result.Order.ID, nil
	case payments.EventChargeRefunded:
		order, err := s.orders.RefundByPaymentIntent(ctx, RefundCommand{
			PaymentIntentID: event.PaymentIntentID,
			Amount:          float64(event.AmountRefunded) / 100,
		})
		if err != nil {
			return "", err
		}
		return order.ID, nil
	default:
		s.logger(ctx, "webhook.ignored_event", map[string]any{
			"event_id": event.ID,
			"type":     event.Type,
		})
		return "", nil
	}
}
