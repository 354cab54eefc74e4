package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const maxWebhookBody = 256 * 1024

// WebhookHandlers ingests provider deliveries.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

// stripe acknowledges every verified delivery with 200. Processing failures
// are recorded against the event marker for reconciliation, so a provider
// retry would short-circuit as a duplicate rather than re-run the work.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, "could not read request body", http.StatusBadRequest))
		return
	}

	result, err := h.webhooks.Process(ctx, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, services.ErrReconciliationRequired):
			// The event is marked failed; acknowledge so the provider stops
			// redelivering while operators reconcile.
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		default:
			httpx.WriteError(ctx, w, httpx.NewError(codeInternal, "unexpected error", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}
