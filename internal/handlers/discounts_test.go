package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/services"
)

type stubDiscountService struct {
	validateFn func(context.Context, services.DiscountValidateCommand) (domain.DiscountValidationResult, error)
	applyFn    func(context.Context, services.DiscountApplyCommand) (domain.DiscountUsage, error)
}

func (s *stubDiscountService) Validate(ctx context.Context, cmd services.DiscountValidateCommand) (domain.DiscountValidationResult, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, cmd)
	}
	return domain.DiscountValidationResult{}, errors.New("not implemented")
}

func (s *stubDiscountService) Apply(ctx context.Context, cmd services.DiscountApplyCommand) (domain.DiscountUsage, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, cmd)
	}
	return domain.DiscountUsage{}, errors.New("not implemented")
}

func newDiscountRouter(discounts services.DiscountService) chi.Router {
	handler := NewDiscountHandlers(nil, nil, discounts)
	router := chi.NewRouter()
	router.Route("/discounts", handler.Routes)
	return router
}

func sampleDiscount() domain.Discount {
	return domain.Discount{
		ID:          "disc-1",
		Code:        "SAVE10",
		Type:        domain.DiscountTypePercentage,
		Value:       10,
		MinPurchase: 1000,
		UsageLimit:  5,
		PerUser:     true,
		Used:        2,
		Status:      domain.DiscountStatusActive,
	}
}

func TestDiscountHandlersValidateValid(t *testing.T) {
	var captured services.DiscountValidateCommand
	service := &stubDiscountService{
		validateFn: func(ctx context.Context, cmd services.DiscountValidateCommand) (domain.DiscountValidationResult, error) {
			captured = cmd
			discount := sampleDiscount()
			return domain.DiscountValidationResult{Valid: true, Discount: &discount, Amount: 490}, nil
		},
	}
	router := newDiscountRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/discounts/validate", strings.NewReader(`{"code":"save10","cart_total":4900,"user_id":"someone-else"}`))
	req = withIdentity(req, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "save10" {
		t.Fatalf("expected code forwarded, got %q", captured.Code)
	}
	if captured.CartTotal == nil || *captured.CartTotal != 4900 {
		t.Fatalf("expected cart total 4900, got %v", captured.CartTotal)
	}
	if captured.UserID == nil || *captured.UserID != "user-1" {
		t.Fatalf("expected customers to validate as themselves, got %v", captured.UserID)
	}

	var resp validateDiscountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Valid || resp.Amount == nil || *resp.Amount != 490 {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.Discount == nil || resp.Discount.Code != "SAVE10" || resp.Discount.Used != 2 {
		t.Fatalf("expected discount payload, got %#v", resp.Discount)
	}
	if resp.Error != "" {
		t.Fatalf("expected no error message, got %q", resp.Error)
	}
}

func TestDiscountHandlersValidateOperatorOnBehalf(t *testing.T) {
	var captured services.DiscountValidateCommand
	service := &stubDiscountService{
		validateFn: func(ctx context.Context, cmd services.DiscountValidateCommand) (domain.DiscountValidationResult, error) {
			captured = cmd
			return domain.DiscountValidationResult{
				Valid:   false,
				Reason:  services.DiscountReasonAlreadyUsed,
				Message: services.DiscountReasonMessage(services.DiscountReasonAlreadyUsed),
			}, nil
		},
	}
	router := newDiscountRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/discounts/validate", strings.NewReader(`{"id":"disc-1","user_id":"user-9"}`))
	req = withIdentity(req, &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.DiscountID != "disc-1" {
		t.Fatalf("expected discount id forwarded, got %q", captured.DiscountID)
	}
	if captured.UserID == nil || *captured.UserID != "user-9" {
		t.Fatalf("expected operator-supplied user, got %v", captured.UserID)
	}

	var resp validateDiscountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Valid {
		t.Fatalf("expected invalid result")
	}
	if resp.Reason != services.DiscountReasonAlreadyUsed {
		t.Fatalf("expected reason already_used, got %q", resp.Reason)
	}
	if resp.Error != "You have already used this discount code" {
		t.Fatalf("unexpected error message %q", resp.Error)
	}
	if resp.Amount != nil {
		t.Fatalf("expected no amount on invalid result")
	}
}

func TestDiscountHandlersValidateRequiresIdentity(t *testing.T) {
	router := newDiscountRouter(&stubDiscountService{})

	req := httptest.NewRequest(http.MethodPost, "/discounts/validate", strings.NewReader(`{"code":"SAVE10"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestDiscountHandlersApply(t *testing.T) {
	usedAt := time.Date(2024, 8, 2, 15, 30, 0, 0, time.UTC)
	var captured services.DiscountApplyCommand
	service := &stubDiscountService{
		applyFn: func(ctx context.Context, cmd services.DiscountApplyCommand) (domain.DiscountUsage, error) {
			captured = cmd
			return domain.DiscountUsage{
				ID:         "dus_1",
				DiscountID: cmd.DiscountID,
				UserID:     cmd.UserID,
				OrderID:    cmd.OrderID,
				PerUser:    true,
				UsedAt:     usedAt,
			}, nil
		},
	}
	router := newDiscountRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/discounts/apply", strings.NewReader(`{"discount_id":"disc-1","user_id":"user-1","session_id":"  ","order_id":"ord_1"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.SessionID != nil {
		t.Fatalf("expected blank session id to be dropped, got %v", *captured.SessionID)
	}

	var resp discountUsageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Usage.ID != "dus_1" || resp.Usage.OrderID != "ord_1" || resp.Usage.UserID != "user-1" {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}
	if resp.Usage.UsedAt != "2024-08-02T15:30:00Z" {
		t.Fatalf("unexpected used_at %s", resp.Usage.UsedAt)
	}
}

func TestDiscountHandlersApplyErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		reason string
	}{
		{
			name:   "usage limit reached",
			err:    &services.DiscountValidationError{DiscountID: "disc-1", Reason: services.DiscountReasonUsageLimitReached},
			status: http.StatusConflict,
			code:   "discount_usage_limit_exceeded",
			reason: services.DiscountReasonUsageLimitReached,
		},
		{
			name:   "expired",
			err:    &services.DiscountValidationError{DiscountID: "disc-1", Reason: services.DiscountReasonExpired},
			status: http.StatusBadRequest,
			code:   "invalid_discount",
			reason: services.DiscountReasonExpired,
		},
		{
			name:   "unknown discount",
			err:    services.ErrDiscountNotFound,
			status: http.StatusNotFound,
			code:   "discount_not_found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubDiscountService{
				applyFn: func(context.Context, services.DiscountApplyCommand) (domain.DiscountUsage, error) {
					return domain.DiscountUsage{}, tc.err
				},
			}
			router := newDiscountRouter(service)

			req := httptest.NewRequest(http.MethodPost, "/discounts/apply", strings.NewReader(`{"discount_id":"disc-1","user_id":"user-1"}`))
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected error %s, got %v", tc.code, body["error"])
			}
			if tc.reason != "" {
				if body["reason"] != tc.reason {
					t.Fatalf("expected reason %s, got %v", tc.reason, body["reason"])
				}
				if body["message"] != services.DiscountReasonMessage(tc.reason) {
					t.Fatalf("expected reason message, got %v", body["message"])
				}
			}
		})
	}
}
