package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes hosted checkout session endpoints.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/session", h.createSession)
}

type checkoutSessionRequest struct {
	Items           []services.OrderItemInput `json:"items"`
	CustomerEmail   string                    `json:"customerEmail"`
	ShippingAddress domain.ShippingAddress    `json:"shippingAddress"`
	DiscountCode    string                    `json:"discountCode,omitempty"`
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, err.Error(), status))
		return
	}

	var req checkoutSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateCheckoutSessionCommand{
		Items:           req.Items,
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		DiscountCode:    req.DiscountCode,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, session)
}
