package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sizes is the authoritative size enumeration shared by every component.
// Stock maps, requests, and variant recomputation all operate on this set;
// a size outside it is a configuration error, never silently dropped.
var Sizes = []string{"XS", "S", "M", "L", "XL", "XXL"}

// KnownSize reports whether the label belongs to the authoritative enumeration.
func KnownSize(size string) bool {
	for _, s := range Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// StockMap records available units per size label.
type StockMap map[string]int

// ColorVariant is a per-color stock bucket with its own size map.
type ColorVariant struct {
	Name   string   `firestore:"name" json:"name"`
	Hex    string   `firestore:"hex" json:"hex"`
	Images []string `firestore:"images" json:"images"`
	Stock  StockMap `firestore:"stock" json:"stock"`
}

// Product is the catalog document. When Colors is non-empty the root Stock map
// is derived: for every size it must equal the sum across all variants.
type Product struct {
	ID        string         `firestore:"-" json:"id"`
	Name      string         `firestore:"name" json:"name"`
	Price     float64        `firestore:"price" json:"price"`
	Stock     StockMap       `firestore:"stock" json:"stock"`
	Colors    []ColorVariant `firestore:"colors" json:"colors,omitempty"`
	IsActive  bool           `firestore:"is_active" json:"is_active"`
	IsDeleted bool           `firestore:"is_deleted" json:"is_deleted"`
	UpdatedAt time.Time      `firestore:"updated_at" json:"updated_at"`
}

// Purchasable reports whether the engine may decrement stock on this product.
func (p Product) Purchasable() bool {
	return p.IsActive && !p.IsDeleted
}

// Variant returns the color variant matching name (case-insensitive).
func (p Product) Variant(name string) (ColorVariant, bool) {
	trimmed := strings.TrimSpace(name)
	for _, v := range p.Colors {
		if strings.EqualFold(v.Name, trimmed) {
			return v, true
		}
	}
	return ColorVariant{}, false
}

// Available returns the units on hand for the size, looked up on the named
// color variant when one is given, otherwise on the root stock map. A missing
// size key means zero.
func (p Product) Available(size, color string) int {
	if strings.TrimSpace(color) != "" {
		variant, ok := p.Variant(color)
		if !ok {
			return 0
		}
		return variant.Stock[size]
	}
	return p.Stock[size]
}

// ErrUnknownSize flags a stock map carrying a size outside the authoritative
// enumeration. It indicates catalog misconfiguration, not a client error.
type ErrUnknownSize struct {
	ProductID string
	Size      string
}

func (e *ErrUnknownSize) Error() string {
	return fmt.Sprintf("product %s: size %q is not in the authoritative size set", e.ProductID, e.Size)
}

// ErrInsufficientStock reports a decrement that would drive a counter negative.
type ErrInsufficientStock struct {
	ProductID string
	Size      string
	Color     string
	Requested int
	Available int
}

func (e *ErrInsufficientStock) Error() string {
	if e.Color != "" {
		return fmt.Sprintf("product %s: insufficient stock for size %s color %s (requested %d, available %d)", e.ProductID, e.Size, e.Color, e.Requested, e.Available)
	}
	return fmt.Sprintf("product %s: insufficient stock for size %s (requested %d, available %d)", e.ProductID, e.Size, e.Requested, e.Available)
}

// ErrUnknownColor reports a line item referencing a color the product does not carry.
type ErrUnknownColor struct {
	ProductID string
	Color     string
}

func (e *ErrUnknownColor) Error() string {
	return fmt.Sprintf("product %s: unknown color variant %q", e.ProductID, e.Color)
}

// Decrement reduces stock for one size (and optional color) by qty, mutating
// the product in place. For variant products the touched variant is
// decremented and the root map is rebuilt as the elementwise sum across all
// variants. The product is left unchanged when an error is returned.
func (p *Product) Decrement(size, color string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("product %s: decrement quantity must be positive", p.ID)
	}
	if !KnownSize(size) {
		return &ErrUnknownSize{ProductID: p.ID, Size: size}
	}

	if strings.TrimSpace(color) != "" {
		idx := -1
		for i, v := range p.Colors {
			if strings.EqualFold(v.Name, strings.TrimSpace(color)) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &ErrUnknownColor{ProductID: p.ID, Color: color}
		}
		available := p.Colors[idx].Stock[size]
		if available < qty {
			return &ErrInsufficientStock{ProductID: p.ID, Size: size, Color: color, Requested: qty, Available: available}
		}
		variant := p.Colors[idx]
		stock := make(StockMap, len(variant.Stock))
		for k, v := range variant.Stock {
			stock[k] = v
		}
		stock[size] = available - qty
		variant.Stock = stock
		p.Colors[idx] = variant
		return p.RecomputeRootStock()
	}

	if len(p.Colors) > 0 {
		// Variant products must be decremented through a variant; decrementing
		// the derived root directly would break the root-sum invariant.
		return &ErrUnknownColor{ProductID: p.ID, Color: color}
	}

	available := p.Stock[size]
	if available < qty {
		return &ErrInsufficientStock{ProductID: p.ID, Size: size, Requested: qty, Available: available}
	}
	stock := make(StockMap, len(p.Stock))
	for k, v := range p.Stock {
		stock[k] = v
	}
	stock[size] = available - qty
	p.Stock = stock
	return nil
}

// Restock returns qty units for one size (and optional color), mutating the
// product in place. It is the inverse of Decrement and follows the same
// variant rules.
func (p *Product) Restock(size, color string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("product %s: restock quantity must be positive", p.ID)
	}
	if !KnownSize(size) {
		return &ErrUnknownSize{ProductID: p.ID, Size: size}
	}

	if strings.TrimSpace(color) != "" {
		idx := -1
		for i, v := range p.Colors {
			if strings.EqualFold(v.Name, strings.TrimSpace(color)) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &ErrUnknownColor{ProductID: p.ID, Color: color}
		}
		variant := p.Colors[idx]
		stock := make(StockMap, len(variant.Stock))
		for k, v := range variant.Stock {
			stock[k] = v
		}
		stock[size] += qty
		variant.Stock = stock
		p.Colors[idx] = variant
		return p.RecomputeRootStock()
	}

	if len(p.Colors) > 0 {
		return &ErrUnknownColor{ProductID: p.ID, Color: color}
	}

	stock := make(StockMap, len(p.Stock))
	for k, v := range p.Stock {
		stock[k] = v
	}
	stock[size] += qty
	p.Stock = stock
	return nil
}

// RecomputeRootStock rebuilds the root stock map as the elementwise sum of all
// color variants over the full size enumeration. Variants carrying sizes
// outside the enumeration abort with ErrUnknownSize.
func (p *Product) RecomputeRootStock() error {
	if len(p.Colors) == 0 {
		return nil
	}
	for _, variant := range p.Colors {
		for size := range variant.Stock {
			if !KnownSize(size) {
				return &ErrUnknownSize{ProductID: p.ID, Size: size}
			}
		}
	}
	root := make(StockMap, len(Sizes))
	for _, size := range Sizes {
		sum := 0
		for _, variant := range p.Colors {
			sum += variant.Stock[size]
		}
		root[size] = sum
	}
	p.Stock = root
	return nil
}
