package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for inventory operations.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product row does not exist.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorInvalidQuantity indicates a non-positive or negative quantity was supplied.
	InventoryErrorInvalidQuantity InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError wraps inventory-specific failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Code)
	switch e.Code {
	case InventoryErrorInsufficientStock:
		msg = fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	case InventoryErrorProductNotFound:
		msg = fmt.Sprintf("product %s not found", e.ProductID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound lets InventoryError satisfy RepositoryError for missing products.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorProductNotFound
}

// IsConflict reports a lost stock race.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

func (e *InventoryError) IsUnavailable() bool { return false }

// NewInsufficientStockError builds the error returned when a conditional deduct matched no row.
func NewInsufficientStockError(op, productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// NewProductNotFoundError builds the error returned for unknown products.
func NewProductNotFoundError(op, productID string) *InventoryError {
	return &InventoryError{Op: op, Code: InventoryErrorProductNotFound, ProductID: productID}
}
