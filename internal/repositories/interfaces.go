package repositories

import (
	"context"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Discounts() DiscountRepository
	Carts() CartRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called
// with the ctx passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository owns product stock counts. Stock mutations are single conditional
// updates evaluated by the store so concurrent callers can never drive stock below zero.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// Deduct decrements stock only when stock_quantity >= quantity. It returns an
	// *InventoryError with InventoryErrorInsufficientStock (carrying the available
	// quantity) or InventoryErrorProductNotFound otherwise.
	Deduct(ctx context.Context, productID string, quantity int) (domain.Product, error)
	Restock(ctx context.Context, productID string, quantity int) (domain.Product, error)
	SetStock(ctx context.Context, productID string, quantity int) (domain.Product, error)
}

// OrderRepository persists order headers, line items and the status timeline.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	InsertItem(ctx context.Context, item domain.OrderItem) error
	// Update persists mutable fields when the stored version equals expectedVersion and
	// bumps the version. A stale version yields a conflict RepositoryError.
	Update(ctx context.Context, order domain.Order, expectedVersion int) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Delete removes line items before the order header.
	Delete(ctx context.Context, orderID string) error
}

// DiscountRepository stores discount definitions and their usage ledger.
type DiscountRepository interface {
	FindByID(ctx context.Context, discountID string) (domain.Discount, error)
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	HasUsage(ctx context.Context, discountID, userID string) (bool, error)
	// InsertUsage records a redemption. A second per-user row for the same user yields a
	// *DiscountUsageError with DiscountUsageErrorAlreadyUsed.
	InsertUsage(ctx context.Context, usage domain.DiscountUsage) error
	// IncrementUsed bumps the used counter only while below the usage limit and returns
	// the new value, or a *DiscountUsageError with DiscountUsageErrorLimitReached.
	IncrementUsed(ctx context.Context, discountID string) (int, error)
}

// CartRepository is the external session cart provider.
type CartRepository interface {
	GetCart(ctx context.Context, sessionID string) (domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) error
	ClearCart(ctx context.Context, sessionID string) error
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
