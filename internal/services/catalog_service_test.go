package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/loomline/api/internal/domain"
)

func newTestCatalogService(t *testing.T, products *stubProductRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: products, MaxItemQuantity: 10})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	return svc
}

func TestValidateStockReportsIssuesWithoutCounts(t *testing.T) {
	products := &stubProductRepository{
		findManyFunc: func(context.Context, []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-1": {ID: "prod-1", IsActive: true, Stock: domain.StockMap{"M": 2}},
				"prod-2": {ID: "prod-2", IsActive: false, Stock: domain.StockMap{"M": 50}},
			}, nil
		},
	}
	svc := newTestCatalogService(t, products)

	result, err := svc.ValidateStock(context.Background(), []StockCheckItem{
		{ProductID: "prod-1", Size: "M", Quantity: 2},
		{ProductID: "prod-1", Size: "L", Quantity: 1},
		{ProductID: "prod-2", Size: "M", Quantity: 1},
		{ProductID: "prod-3", Size: "M", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result")
	}
	if len(result.Issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %+v", len(result.Issues), result.Issues)
	}
	for _, issue := range result.Issues {
		if issue.Available {
			t.Fatalf("issues must report available=false only: %+v", issue)
		}
	}
}

func TestValidateStockAllAvailable(t *testing.T) {
	products := &stubProductRepository{
		findManyFunc: func(context.Context, []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-1": {
					ID:       "prod-1",
					IsActive: true,
					Colors: []domain.ColorVariant{
						{Name: "Black", Stock: domain.StockMap{"M": 3}},
					},
					Stock: domain.StockMap{"M": 3},
				},
			}, nil
		},
	}
	svc := newTestCatalogService(t, products)

	result, err := svc.ValidateStock(context.Background(), []StockCheckItem{
		{ProductID: "prod-1", Size: "M", Color: "Black", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || len(result.Issues) != 0 {
		t.Fatalf("expected valid result, got %+v", result)
	}
}

func TestValidateStockRejectsBadInput(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})
	if _, err := svc.ValidateStock(context.Background(), nil); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.ValidateStock(context.Background(), []StockCheckItem{{ProductID: "p", Size: "M", Quantity: 11}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected quantity cap rejection, got %v", err)
	}
	// A size outside the catalog enumeration is a malformed request, not a
	// sold-out line, matching how order creation treats it.
	if _, err := svc.ValidateStock(context.Background(), []StockCheckItem{{ProductID: "p", Size: "FREE", Quantity: 1}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown size rejection, got %v", err)
	}
}

func TestGetProductNotFound(t *testing.T) {
	products := &stubProductRepository{
		findByIDFunc: func(context.Context, string) (domain.Product, error) {
			return domain.Product{}, notFoundRepoError{}
		},
	}
	svc := newTestCatalogService(t, products)
	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }
