package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/textutil"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	discountUsageIDPrefix = "dus_"

	eventDiscountRejected = "discount.validation.rejected"
	eventDiscountApplied  = "discount.applied"
)

// DiscountServiceDeps bundles collaborators required to construct the discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.DiscountRepository
	UnitOfWork  repositories.UnitOfWork
	Metrics     MetricsRecorder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type discountService struct {
	discounts  repositories.DiscountRepository
	unitOfWork repositories.UnitOfWork
	metrics    MetricsRecorder
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewDiscountService wires dependencies into a concrete DiscountService implementation.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &discountService{
		discounts:  deps.Discounts,
		unitOfWork: unit,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Validate evaluates the rules in order and stops at the first failure. A failed rule is
// reported through the result, not as an error.
func (s *discountService) Validate(ctx context.Context, cmd DiscountValidateCommand) (domain.DiscountValidationResult, error) {
	code := textutil.NormalizeCode(cmd.Code)
	discountID := strings.TrimSpace(cmd.DiscountID)
	if code == "" && discountID == "" {
		return domain.DiscountValidationResult{}, fmt.Errorf("%w: discount code or id is required", ErrDiscountInvalidInput)
	}
	if cmd.CartTotal != nil && *cmd.CartTotal < 0 {
		return domain.DiscountValidationResult{}, fmt.Errorf("%w: cart total cannot be negative", ErrDiscountInvalidInput)
	}

	var (
		discount domain.Discount
		err      error
	)
	if code != "" {
		discount, err = s.discounts.FindByCode(ctx, code)
	} else {
		discount, err = s.discounts.FindByID(ctx, discountID)
	}
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return s.reject(ctx, nil, DiscountReasonNotFound), nil
		}
		return domain.DiscountValidationResult{}, s.mapRepositoryError(err)
	}

	if reason := s.checkStatic(discount, cmd.CartTotal); reason != "" {
		return s.reject(ctx, &discount, reason), nil
	}

	if userID := trimmedPtr(cmd.UserID); discount.PerUser && userID != nil {
		used, err := s.discounts.HasUsage(ctx, discount.ID, *userID)
		if err != nil {
			return domain.DiscountValidationResult{}, s.mapRepositoryError(err)
		}
		if used {
			return s.reject(ctx, &discount, DiscountReasonAlreadyUsed), nil
		}
	}

	result := domain.DiscountValidationResult{
		Valid:    true,
		Discount: &discount,
	}
	if cmd.CartTotal != nil {
		result.Amount, result.FreeShipping = discountAmount(discount, *cmd.CartTotal)
	} else {
		result.FreeShipping = discount.Type == domain.DiscountTypeShipping
	}
	return result, nil
}

// checkStatic runs the rules that need no usage lookup: status, window, minimum purchase
// and the global cap.
func (s *discountService) checkStatic(discount domain.Discount, cartTotal *int64) string {
	if discount.Status != domain.DiscountStatusActive {
		return DiscountReasonInactive
	}
	now := s.clock()
	if discount.StartDate != nil && now.Before(*discount.StartDate) {
		return DiscountReasonNotStarted
	}
	if discount.EndDate != nil && now.After(*discount.EndDate) {
		return DiscountReasonExpired
	}
	if cartTotal != nil && discount.MinPurchase > 0 && *cartTotal < discount.MinPurchase {
		return DiscountReasonMinPurchaseNotMet
	}
	if discount.UsageLimit > 0 && discount.Used >= discount.UsageLimit {
		return DiscountReasonUsageLimitReached
	}
	return ""
}

func (s *discountService) reject(ctx context.Context, discount *domain.Discount, reason string) domain.DiscountValidationResult {
	s.metrics.DiscountRejected(reason)
	fields := map[string]any{"reason": reason}
	if discount != nil {
		fields["discountId"] = discount.ID
	}
	s.logger(ctx, eventDiscountRejected, fields)
	return domain.DiscountValidationResult{
		Valid:    false,
		Discount: discount,
		Reason:   reason,
		Message:  DiscountReasonMessage(reason),
	}
}

// Apply records a usage row and bumps the used counter in one unit of work. It trusts a
// prior Validate for status, window and minimum purchase.
func (s *discountService) Apply(ctx context.Context, cmd DiscountApplyCommand) (domain.DiscountUsage, error) {
	discountID := strings.TrimSpace(cmd.DiscountID)
	if discountID == "" {
		return domain.DiscountUsage{}, fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}

	usage := domain.DiscountUsage{
		ID:         discountUsageIDPrefix + s.newID(),
		DiscountID: discountID,
		UserID:     trimmedPtr(cmd.UserID),
		OrderID:    trimmedPtr(cmd.OrderID),
		SessionID:  trimmedPtr(cmd.SessionID),
		UsedAt:     s.clock(),
	}

	var used int
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		discount, err := s.discounts.FindByID(txCtx, discountID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		usage.PerUser = discount.PerUser && usage.UserID != nil

		if err := s.discounts.InsertUsage(txCtx, usage); err != nil {
			return s.mapRepositoryError(err)
		}
		used, err = s.discounts.IncrementUsed(txCtx, discountID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		var validationErr *DiscountValidationError
		if errors.As(err, &validationErr) {
			s.metrics.DiscountRejected(validationErr.Reason)
		} else if errors.Is(err, ErrDiscountUsageLimitExceeded) {
			s.metrics.DiscountRejected(DiscountReasonUsageLimitReached)
		}
		return domain.DiscountUsage{}, err
	}

	s.metrics.DiscountApplied()
	s.logger(ctx, eventDiscountApplied, map[string]any{
		"discountId": discountID,
		"usageId":    usage.ID,
		"used":       used,
	})
	return usage, nil
}

func (s *discountService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var usageErr *repositories.DiscountUsageError
	if errors.As(err, &usageErr) {
		switch usageErr.Code {
		case repositories.DiscountUsageErrorAlreadyUsed:
			return &DiscountValidationError{
				DiscountID: usageErr.DiscountID,
				Reason:     DiscountReasonAlreadyUsed,
				Message:    DiscountReasonMessage(DiscountReasonAlreadyUsed),
			}
		case repositories.DiscountUsageErrorLimitReached:
			return fmt.Errorf("%w: %s", ErrDiscountUsageLimitExceeded, usageErr.DiscountID)
		case repositories.DiscountUsageErrorNotFound:
			return fmt.Errorf("%w: %s", ErrDiscountNotFound, usageErr.DiscountID)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDiscountNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDiscountUnavailable, err)
		}
	}
	return err
}

// discountAmount computes the reduction for a cart total in minor units.
func discountAmount(discount domain.Discount, total int64) (int64, bool) {
	switch discount.Type {
	case domain.DiscountTypePercentage:
		value := min(max(discount.Value, 0), 100)
		return total * value / 100, false
	case domain.DiscountTypeFixed:
		return min(max(discount.Value, 0), total), false
	case domain.DiscountTypeShipping:
		return 0, true
	default:
		return 0, false
	}
}
