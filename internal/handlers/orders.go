package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/platform/httpx"
	"github.com/loomline/api/internal/services"
)

const maxOrderRequestBody = 64 * 1024

// Machine-readable error codes returned by the order endpoints.
const (
	codeProductNotFound    = "PRODUCT_NOT_FOUND"
	codeProductUnavailable = "PRODUCT_UNAVAILABLE"
	codePriceMismatch      = "PRICE_MISMATCH"
	codeStockInsufficient  = "STOCK_INSUFFICIENT"
	codeValidation         = "VALIDATION_ERROR"
	codeDiscountRejected   = "DISCOUNT_REJECTED"
	codeConflict           = "CONFLICT"
	codeNotFound           = "NOT_FOUND"
	codeInternal           = "INTERNAL_ERROR"
)

// OrderHandlers exposes order creation and stock validation endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	catalog services.CatalogService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, catalog services.CatalogService) *OrderHandlers {
	return &OrderHandlers{orders: orders, catalog: catalog}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Post("/validate", h.validateStock)
	r.Get("/{orderID}", h.getOrder)
}

type createOrderRequest struct {
	Items           []services.OrderItemInput `json:"items"`
	CustomerEmail   string                    `json:"customerEmail"`
	ShippingAddress domain.ShippingAddress    `json:"shippingAddress"`
	DiscountCode    string                    `json:"discountCode,omitempty"`
	IdempotencyKey  string                    `json:"idempotencyKey,omitempty"`
}

type createOrderResponse struct {
	OrderID   string  `json:"orderId"`
	Total     float64 `json:"total"`
	Duplicate bool    `json:"duplicate,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, err.Error(), status))
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Items:           req.Items,
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		DiscountCode:    req.DiscountCode,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, createOrderResponse{
		OrderID:   result.Order.ID,
		Total:     result.Order.Total,
		Duplicate: result.Duplicate,
	})
}

func (h *OrderHandlers) validateStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, err.Error(), status))
		return
	}

	var req struct {
		Items []services.StockCheckItem `json:"items"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.catalog.ValidateStock(ctx, req.Items)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if result.Issues == nil {
		result.Issues = []services.StockIssue{}
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, order)
}

// writeOrderError maps service failures to the machine-readable envelope.
// Internal details never leave the process; unexpected failures carry only the
// request correlation identifier.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError(codeValidation, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(codeProductNotFound, err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(codeProductUnavailable, err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPriceMismatch):
		httpx.WriteError(ctx, w, httpx.NewError(codePriceMismatch, err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError(codeStockInsufficient, "items unavailable, please refresh", http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(codeNotFound, err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError(codeConflict, "order could not be created, please retry", http.StatusConflict))
	case isDiscountRejection(err):
		httpx.WriteError(ctx, w, httpx.NewError(codeDiscountRejected, err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(codeInternal, "unexpected error", http.StatusInternalServerError))
	}
}

func isDiscountRejection(err error) bool {
	return errors.Is(err, domain.ErrDiscountNotFound) ||
		errors.Is(err, domain.ErrDiscountInactive) ||
		errors.Is(err, domain.ErrDiscountExpired) ||
		errors.Is(err, domain.ErrDiscountExhausted) ||
		errors.Is(err, domain.ErrDiscountMinOrder) ||
		errors.Is(err, domain.ErrDiscountAlreadyUsed)
}
