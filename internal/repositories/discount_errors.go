package repositories

import "fmt"

// DiscountUsageErrorCode enumerates why a redemption could not be recorded.
type DiscountUsageErrorCode string

const (
	// DiscountUsageErrorLimitReached indicates used already equals usage_limit.
	DiscountUsageErrorLimitReached DiscountUsageErrorCode = "discount_usage_limit_reached"
	// DiscountUsageErrorAlreadyUsed indicates the per-user usage row already exists.
	DiscountUsageErrorAlreadyUsed DiscountUsageErrorCode = "discount_already_used"
	// DiscountUsageErrorNotFound indicates the discount row does not exist.
	DiscountUsageErrorNotFound DiscountUsageErrorCode = "discount_not_found"
)

// DiscountUsageError reports a rejected redemption.
type DiscountUsageError struct {
	Op         string
	Code       DiscountUsageErrorCode
	DiscountID string
	Err        error
}

func (e *DiscountUsageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Code, e.DiscountID)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.DiscountID)
}

func (e *DiscountUsageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DiscountUsageError) IsNotFound() bool {
	return e != nil && e.Code == DiscountUsageErrorNotFound
}

func (e *DiscountUsageError) IsConflict() bool {
	return e != nil && (e.Code == DiscountUsageErrorLimitReached || e.Code == DiscountUsageErrorAlreadyUsed)
}

func (e *DiscountUsageError) IsUnavailable() bool { return false }

// NewDiscountUsageError constructs a typed redemption error.
func NewDiscountUsageError(op string, code DiscountUsageErrorCode, discountID string, err error) *DiscountUsageError {
	return &DiscountUsageError{Op: op, Code: code, DiscountID: discountID, Err: err}
}
