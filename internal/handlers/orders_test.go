package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/services"
)

type stubOrderService struct {
	createFunc func(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFunc    func(ctx context.Context, id string) (domain.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.getFunc(ctx, id)
}

func (s *stubOrderService) MarkPaid(context.Context, services.MarkPaidCommand) (domain.Order, error) {
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RefundByPaymentIntent(context.Context, services.RefundCommand) (domain.Order, error) {
	return domain.Order{}, errors.New("not implemented")
}

type stubCatalogService struct {
	validateFunc func(ctx context.Context, items []services.StockCheckItem) (services.StockCheckResult, error)
}

func (s *stubCatalogService) GetProduct(context.Context, string) (domain.Product, error) {
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ValidateStock(ctx context.Context, items []services.StockCheckItem) (services.StockCheckResult, error) {
	return s.validateFunc(ctx, items)
}

func newOrderRouter(orders services.OrderService, catalog services.CatalogService) http.Handler {
	h := NewOrderHandlers(orders, catalog)
	return NewRouter(WithOrderRoutes(h.Routes))
}

const validOrderBody = `{
	"items": [{"productId": "prod-1", "size": "M", "quantity": 1, "price": 20}],
	"customerEmail": "jo@example.com",
	"shippingAddress": {"name": "Jo", "line1": "1 Main St", "city": "Springfield", "postal": "12345", "country": "US"}
}`

func TestCreateOrderReturns201(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			if len(cmd.Items) != 1 || cmd.Items[0].ProductID != "prod-1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.CreateOrderResult{Order: domain.Order{ID: "ord_1", Total: 20}}, nil
		},
	}
	router := newOrderRouter(orders, &stubCatalogService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(validOrderBody)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OrderID   string  `json:"orderId"`
		Total     float64 `json:"total"`
		Duplicate bool    `json:"duplicate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderID != "ord_1" || resp.Total != 20 || resp.Duplicate {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateOrderDuplicateReturns200(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{Order: domain.Order{ID: "ord_1", Total: 20}, Duplicate: true}, nil
		},
	}
	router := newOrderRouter(orders, &stubCatalogService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(validOrderBody)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"duplicate":true`) {
		t.Fatalf("expected duplicate marker, got %s", rec.Body.String())
	}
}

func TestCreateOrderErrorCodes(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"product not found", services.ErrProductNotFound, http.StatusBadRequest, "PRODUCT_NOT_FOUND"},
		{"product unavailable", services.ErrProductUnavailable, http.StatusConflict, "PRODUCT_UNAVAILABLE"},
		{"price mismatch", services.ErrPriceMismatch, http.StatusConflict, "PRICE_MISMATCH"},
		{"insufficient stock", services.ErrInsufficientStock, http.StatusConflict, "STOCK_INSUFFICIENT"},
		{"invalid input", services.ErrOrderInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"conflict", services.ErrOrderConflict, http.StatusConflict, "CONFLICT"},
		{"discount rejected", domain.ErrDiscountAlreadyUsed, http.StatusBadRequest, "DISCOUNT_REJECTED"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{
				createFunc: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
					return services.CreateOrderResult{}, fmt.Errorf("wrapped: %w", tc.err)
				},
			}
			router := newOrderRouter(orders, &stubCatalogService{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(validOrderBody)))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, resp.Error)
			}
		})
	}
}

func TestCreateOrderInternalErrorHidesDetails(t *testing.T) {
	orders := &stubOrderService{
		createFunc: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{}, errors.New("firestore: document projects/x/orders/y broke")
		},
	}
	router := newOrderRouter(orders, &stubCatalogService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(validOrderBody)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "firestore") || strings.Contains(body, "projects/x") {
		t.Fatalf("internal details leaked: %s", body)
	}
	if !strings.Contains(body, "request_id") {
		t.Fatalf("expected correlation id in response, got %s", body)
	}
}

func TestCreateOrderRejectsMalformedJSON(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubCatalogService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestValidateStockEndpoint(t *testing.T) {
	catalog := &stubCatalogService{
		validateFunc: func(_ context.Context, items []services.StockCheckItem) (services.StockCheckResult, error) {
			if len(items) != 1 {
				t.Fatalf("expected 1 item, got %d", len(items))
			}
			return services.StockCheckResult{
				Valid: false,
				Issues: []services.StockIssue{
					{ProductID: "prod-1", Size: "M", Available: false},
				},
			}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, catalog)

	body := `{"items": [{"productId": "prod-1", "size": "M", "quantity": 5}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/validate", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Valid  bool `json:"valid"`
		Errors []struct {
			ProductID string `json:"productId"`
			Available bool   `json:"available"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Valid || len(resp.Errors) != 1 || resp.Errors[0].Available {
		t.Fatalf("unexpected response %+v", resp)
	}
	if strings.Contains(rec.Body.String(), "available\":true") || strings.Contains(rec.Body.String(), "remaining") {
		t.Fatalf("stock counts must not leak: %s", rec.Body.String())
	}
}

func TestGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(orders, &stubCatalogService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
