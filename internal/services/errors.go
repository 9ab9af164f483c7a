package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

var (
	// ErrInsufficientStock indicates a requested quantity exceeds available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryInvalidInput signals malformed inventory commands.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the product does not exist.
	ErrInventoryNotFound = errors.New("inventory: product not found")
	// ErrInventoryUnavailable indicates the stock store could not be reached.
	ErrInventoryUnavailable = errors.New("inventory: repository unavailable")

	// ErrInvalidStatus indicates an unknown status or a transition not allowed from the current one.
	ErrInvalidStatus = errors.New("order: invalid status transition")
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")

	// ErrNotCancellable indicates the order progressed past the cancellable window.
	ErrNotCancellable = errors.New("order: not cancellable")
	// ErrAlreadyRequested indicates a cancellation request already exists.
	ErrAlreadyRequested = errors.New("order: cancellation already requested")
	// ErrAlreadyProcessed indicates the cancellation request was already approved or rejected.
	ErrAlreadyProcessed = errors.New("order: cancellation already processed")
	// ErrCancellationNotRequested indicates there is no request to process.
	ErrCancellationNotRequested = errors.New("order: cancellation not requested")

	// ErrInvalidDiscount indicates one of the discount validation rules failed.
	ErrInvalidDiscount = errors.New("discount: invalid")
	// ErrDiscountUsageLimitExceeded is the usage-cap case of ErrInvalidDiscount.
	ErrDiscountUsageLimitExceeded = fmt.Errorf("%w: usage limit exceeded", ErrInvalidDiscount)
	// ErrDiscountInvalidInput signals malformed discount commands.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountNotFound indicates the discount does not exist.
	ErrDiscountNotFound = errors.New("discount: not found")
	// ErrDiscountUnavailable indicates the discount store could not be reached.
	ErrDiscountUnavailable = errors.New("discount: repository unavailable")
)

// StockShortage describes one product that cannot cover the requested quantity.
type StockShortage struct {
	ProductID string
	Requested int
	Available int
}

// InsufficientStockError lists every short product with its remaining quantity.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	if e == nil || len(e.Shortages) == 0 {
		return ErrInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Shortages))
	for _, shortage := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", shortage.ProductID, shortage.Requested, shortage.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, ", "))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Discount validation failure reasons.
const (
	DiscountReasonNotFound          = "not_found"
	DiscountReasonInactive          = "inactive"
	DiscountReasonNotStarted        = "not_started"
	DiscountReasonExpired           = "expired"
	DiscountReasonMinPurchaseNotMet = "min_purchase_not_met"
	DiscountReasonUsageLimitReached = "usage_limit_reached"
	DiscountReasonAlreadyUsed       = "already_used"
)

var discountReasonMessages = map[string]string{
	DiscountReasonNotFound:          "Discount code not found",
	DiscountReasonInactive:          "Discount code is not active",
	DiscountReasonNotStarted:        "Discount code is not yet valid",
	DiscountReasonExpired:           "Discount code has expired",
	DiscountReasonMinPurchaseNotMet: "Cart total is below the minimum purchase for this discount",
	DiscountReasonUsageLimitReached: "Discount code usage limit has been reached",
	DiscountReasonAlreadyUsed:       "You have already used this discount code",
}

// DiscountReasonMessage returns the user-facing text for a validation reason.
func DiscountReasonMessage(reason string) string {
	if msg, ok := discountReasonMessages[reason]; ok {
		return msg
	}
	return "Discount code is not valid"
}

// DiscountValidationError reports the specific rule a discount failed.
type DiscountValidationError struct {
	DiscountID string
	Reason     string
	Message    string
}

func (e *DiscountValidationError) Error() string {
	if e == nil {
		return ErrInvalidDiscount.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidDiscount, e.Reason)
}

func (e *DiscountValidationError) Unwrap() error {
	if e != nil && e.Reason == DiscountReasonUsageLimitReached {
		return ErrDiscountUsageLimitExceeded
	}
	return ErrInvalidDiscount
}

// CancellationStateError carries the current order and workflow state for cancellation
// violations so callers can hide stale actions.
type CancellationStateError struct {
	Err         error
	Status      domain.OrderStatus
	State       domain.CancellationState
	RequestedAt *time.Time
}

func (e *CancellationStateError) Error() string {
	if e == nil || e.Err == nil {
		return "order: cancellation state error"
	}
	return fmt.Sprintf("%s (status %s, cancellation %s)", e.Err, e.Status, e.State)
}

func (e *CancellationStateError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newCancellationStateError(err error, order domain.Order) *CancellationStateError {
	return &CancellationStateError{
		Err:         err,
		Status:      order.Status,
		State:       order.Cancellation.State(),
		RequestedAt: order.Cancellation.RequestedAt,
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func noopLogger(context.Context, string, map[string]any) {}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return optionalString(*v)
}
