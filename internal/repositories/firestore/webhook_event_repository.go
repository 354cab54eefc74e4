package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
)

const webhookEventsCollection = "webhookEvents"

// WebhookEventRepository records provider deliveries for at-most-once
// processing. The document ID is the provider's event ID.
type WebhookEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[domain.WebhookEvent]
}

// NewWebhookEventRepository constructs a Firestore backed webhook event repository.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	return &WebhookEventRepository{
		provider: provider,
		events:   pfirestore.NewBaseRepository[domain.WebhookEvent](provider, webhookEventsCollection, nil, nil),
	}, nil
}

// Begin claims the event for processing. The existence check and the
// processing marker write share one transaction, so concurrent deliveries of
// the same event ID cannot both claim it. Returns false when already seen.
func (r *WebhookEventRepository) Begin(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("webhook event repository not initialised")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return false, errors.New("webhook event begin: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}

	claimed := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(webhookEventsCollection).Doc(eventID)

		if _, err := tx.Get(ref); err == nil {
			claimed = false
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		marker := event
		marker.Status = domain.WebhookStatusProcessing
		if marker.CreatedAt.IsZero() {
			marker.CreatedAt = time.Now().UTC()
		}
		marker.UpdatedAt = marker.CreatedAt
		if err := tx.Create(ref, marker); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				claimed = false
				return nil
			}
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("webhookEvents.begin", err)
	}
	return claimed, nil
}

// Complete marks the event as processed, optionally linking the order it produced.
func (r *WebhookEventRepository) Complete(ctx context.Context, eventID, orderID string, now time.Time) error {
	return r.finish(ctx, eventID, domain.WebhookStatusCompleted, orderID, "", now)
}

// Fail records a processing failure so the delivery is never retried blind.
func (r *WebhookEventRepository) Fail(ctx context.Context, eventID, message string, now time.Time) error {
	return r.finish(ctx, eventID, domain.WebhookStatusFailed, "", message, now)
}

func (r *WebhookEventRepository) finish(ctx context.Context, eventID, state, orderID, message string, now time.Time) error {
	if r == nil || r.events == nil {
		return errors.New("webhook event repository not initialised")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return errors.New("webhook event finish: id is required")
	}

	updates := []firestore.Update{
		{Path: "status", Value: state},
		{Path: "updated_at", Value: now.UTC()},
	}
	if orderID != "" {
		updates = append(updates, firestore.Update{Path: "order_id", Value: orderID})
	}
	if message != "" {
		updates = append(updates, firestore.Update{Path: "error", Value: message})
	}

	_, err := r.events.Update(ctx, eventID, updates)
	return err
}
