package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type validateDiscountRequest struct {
	Code      string  `json:"code"`
	ID        string  `json:"id"`
	CartTotal *int64  `json:"cart_total"`
	UserID    *string `json:"user_id"`
}

type validateDiscountResponse struct {
	Valid        bool             `json:"valid"`
	Discount     *discountPayload `json:"discount,omitempty"`
	Error        string           `json:"error,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Amount       *int64           `json:"amount,omitempty"`
	FreeShipping bool             `json:"free_shipping,omitempty"`
}

type applyDiscountRequest struct {
	DiscountID string  `json:"discount_id"`
	UserID     *string `json:"user_id"`
	SessionID  *string `json:"session_id"`
	OrderID    *string `json:"order_id"`
}

type discountUsageResponse struct {
	Usage discountUsagePayload `json:"usage"`
}

// DiscountHandlers exposes discount validation and redemption endpoints.
type DiscountHandlers struct {
	authn       *auth.Authenticator
	serviceAuth func(http.Handler) http.Handler
	idempotency func(http.Handler) http.Handler
	discounts   services.DiscountService
}

// NewDiscountHandlers constructs DiscountHandlers.
func NewDiscountHandlers(authn *auth.Authenticator, serviceAuth func(http.Handler) http.Handler, discounts services.DiscountService) *DiscountHandlers {
	return &DiscountHandlers{authn: authn, serviceAuth: serviceAuth, discounts: discounts}
}

// WithIdempotency installs the Idempotency-Key middleware on the redemption route.
func (h *DiscountHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *DiscountHandlers {
	h.idempotency = mw
	return h
}

// Routes registers the /discounts endpoints.
func (h *DiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireFirebaseAuth())
		}
		customer.Post("/validate", h.validateDiscount)
	})
	r.Group(func(internal chi.Router) {
		use(internal, h.serviceAuth)
		use(internal, h.idempotency)
		internal.Post("/apply", h.applyDiscount)
	})
}

func (h *DiscountHandlers) validateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req validateDiscountRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	// Customers validate for themselves; operators may check on behalf of a user.
	userID := optionalTrimmed(req.UserID)
	if !identity.IsOperator() || userID == nil {
		uid := strings.TrimSpace(identity.UID)
		userID = &uid
	}

	result, err := h.discounts.Validate(ctx, services.DiscountValidateCommand{
		Code:       req.Code,
		DiscountID: req.ID,
		UserID:     userID,
		CartTotal:  req.CartTotal,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := validateDiscountResponse{Valid: result.Valid}
	if result.Discount != nil {
		payload := buildDiscountPayload(*result.Discount)
		resp.Discount = &payload
	}
	if result.Valid {
		amount := result.Amount
		resp.Amount = &amount
		resp.FreeShipping = result.FreeShipping
	} else {
		resp.Error = result.Message
		resp.Reason = result.Reason
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *DiscountHandlers) applyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req applyDiscountRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	usage, err := h.discounts.Apply(ctx, services.DiscountApplyCommand{
		DiscountID: req.DiscountID,
		UserID:     optionalTrimmed(req.UserID),
		SessionID:  optionalTrimmed(req.SessionID),
		OrderID:    optionalTrimmed(req.OrderID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, discountUsageResponse{Usage: buildDiscountUsagePayload(usage)})
}
