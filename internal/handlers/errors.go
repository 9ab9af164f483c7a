package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type shortagePayload struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// writeServiceError maps service sentinels and typed errors onto the error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		shortages := make([]shortagePayload, 0, len(stockErr.Shortages))
		for _, shortage := range stockErr.Shortages {
			shortages = append(shortages, shortagePayload{
				ProductID: shortage.ProductID,
				Requested: shortage.Requested,
				Available: shortage.Available,
			})
		}
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock", http.StatusConflict).
			WithDetails(map[string]any{"shortages": shortages}))
		return
	}

	var stateErr *services.CancellationStateError
	if errors.As(err, &stateErr) {
		writeCancellationStateError(ctx, w, stateErr)
		return
	}

	var discountErr *services.DiscountValidationError
	if errors.As(err, &discountErr) {
		message := discountErr.Message
		if message == "" {
			message = services.DiscountReasonMessage(discountErr.Reason)
		}
		details := map[string]any{"reason": discountErr.Reason}
		if discountErr.DiscountID != "" {
			details["discount_id"] = discountErr.DiscountID
		}
		if errors.Is(err, services.ErrDiscountUsageLimitExceeded) {
			httpx.WriteError(ctx, w, httpx.NewError("discount_usage_limit_exceeded", message, http.StatusConflict).WithDetails(details))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_discount", message, http.StatusBadRequest).WithDetails(details))
		return
	}

	switch {
	case errors.Is(err, services.ErrDiscountUsageLimitExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("discount_usage_limit_exceeded", "discount usage limit reached", http.StatusConflict))
	case errors.Is(err, services.ErrInvalidDiscount):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_discount", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidStatus):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another customer", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrInventoryUnavailable),
		errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writeCancellationStateError(ctx context.Context, w http.ResponseWriter, err *services.CancellationStateError) {
	switch {
	case errors.Is(err, services.ErrNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "order cannot be cancelled in its current status", http.StatusBadRequest).
			WithDetails(map[string]any{"current_status": string(err.Status)}))
	case errors.Is(err, services.ErrAlreadyRequested):
		details := map[string]any{}
		if err.RequestedAt != nil {
			details["requested_at"] = formatTime(*err.RequestedAt)
		}
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_already_requested", "cancellation already requested", http.StatusBadRequest).WithDetails(details))
	case errors.Is(err, services.ErrAlreadyProcessed):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_already_processed", "cancellation request already processed", http.StatusBadRequest).
			WithDetails(map[string]any{"cancellation_state": string(err.State)}))
	case errors.Is(err, services.ErrCancellationNotRequested):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_not_requested", "no cancellation request to process", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
