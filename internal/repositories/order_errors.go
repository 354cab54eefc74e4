package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order materialisation.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorProductNotFound indicates a line references a missing product document.
	OrderErrorProductNotFound OrderErrorCode = "order_product_not_found"
	// OrderErrorProductUnavailable indicates the product is inactive or soft-deleted.
	OrderErrorProductUnavailable OrderErrorCode = "order_product_unavailable"
	// OrderErrorInsufficientStock indicates requested quantity exceeds availability.
	OrderErrorInsufficientStock OrderErrorCode = "order_insufficient_stock"
	// OrderErrorVariantMismatch indicates the line names a color or size the product does not carry.
	OrderErrorVariantMismatch OrderErrorCode = "order_variant_mismatch"
	// OrderErrorDuplicate indicates an order with the same document ID already exists.
	OrderErrorDuplicate OrderErrorCode = "order_duplicate"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
