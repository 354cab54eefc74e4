package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products        repositories.ProductRepository
	MaxItemQuantity int
}

type catalogService struct {
	products repositories.ProductRepository
	maxQty   int
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	maxQty := deps.MaxItemQuantity
	if maxQty <= 0 {
		maxQty = 10
	}
	return &catalogService{products: deps.Products, maxQty: maxQty}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		return domain.Product{}, err
	}
	return product, nil
}

// ValidateStock probes availability for every line without reserving anything.
// The result never carries remaining counts, only a per-line available flag.
func (s *catalogService) ValidateStock(ctx context.Context, items []StockCheckItem) (StockCheckResult, error) {
	if len(items) == 0 {
		return StockCheckResult{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	ids := make([]string, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return StockCheckResult{}, fmt.Errorf("%w: items[%d] product id is required", ErrOrderInvalidInput, i)
		}
		if !domain.KnownSize(item.Size) {
			return StockCheckResult{}, fmt.Errorf("%w: items[%d] size %q is not recognised", ErrOrderInvalidInput, i, item.Size)
		}
		if item.Quantity < 1 || item.Quantity > s.maxQty {
			return StockCheckResult{}, fmt.Errorf("%w: items[%d] quantity must be between 1 and %d", ErrOrderInvalidInput, i, s.maxQty)
		}
		ids = append(ids, id)
	}

	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return StockCheckResult{}, err
	}

	result := StockCheckResult{Valid: true}
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		product, ok := products[id]
		available := ok &&
			product.Purchasable() &&
			product.Available(item.Size, item.Color) >= item.Quantity
		if !available {
			result.Valid = false
			result.Issues = append(result.Issues, StockIssue{
				ProductID: id,
				Size:      item.Size,
				Color:     strings.TrimSpace(item.Color),
				Available: false,
			})
		}
	}
	return result, nil
}
