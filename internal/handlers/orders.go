package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type createOrderRequest struct {
	SessionID    string             `json:"session_id"`
	UserID       *string            `json:"user_id"`
	Payment      paymentRequest     `json:"payment"`
	Contact      *contactRequest    `json:"contact"`
	Items        []orderLineRequest `json:"items"`
	DiscountCode string             `json:"discount_code"`
	DiscountID   string             `json:"discount_id"`
}

type paymentRequest struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Method    string `json:"method"`
}

type contactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type transitionStatusRequest struct {
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason"`
	Location           string `json:"location"`
	Message            string `json:"message"`
}

type cancellationRequest struct {
	Reason string `json:"reason"`
}

type processCancellationRequest struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejection_reason"`
}

// OrderHandlers exposes order creation, lookup, status and cancellation endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	serviceAuth func(http.Handler) http.Handler
	idempotency func(http.Handler) http.Handler
	orders      services.OrderService
	creation    services.OrderCreationService
}

// NewOrderHandlers constructs OrderHandlers. serviceAuth guards the internal post-payment
// creation route; customer and operator routes use Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, serviceAuth func(http.Handler) http.Handler, orders services.OrderService, creation services.OrderCreationService) *OrderHandlers {
	return &OrderHandlers{
		authn:       authn,
		serviceAuth: serviceAuth,
		orders:      orders,
		creation:    creation,
	}
}

// WithIdempotency installs the Idempotency-Key middleware on mutating routes. It runs after
// authentication so keys are scoped to the caller.
func (h *OrderHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *OrderHandlers {
	h.idempotency = mw
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(internal chi.Router) {
		use(internal, h.serviceAuth)
		use(internal, h.idempotency)
		internal.Post("/", h.createOrder)
	})
	r.Group(func(customer chi.Router) {
		if h.authn != nil {
			customer.Use(h.authn.RequireFirebaseAuth())
		}
		use(customer, h.idempotency)
		customer.Get("/{orderID}", h.getOrder)
		customer.Post("/{orderID}/cancellation-request", h.requestCancellation)
	})
	r.Group(func(ops chi.Router) {
		if h.authn != nil {
			ops.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		use(ops, h.idempotency)
		ops.Patch("/{orderID}/status", h.transitionStatus)
		ops.Post("/{orderID}/cancellation-request/process", h.processCancellation)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.creation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Payment: domain.PaymentConfirmation{
			Amount:    req.Payment.Amount,
			Currency:  req.Payment.Currency,
			Reference: req.Payment.Reference,
			Method:    req.Payment.Method,
		},
		SessionID:    req.SessionID,
		UserID:       optionalTrimmed(req.UserID),
		DiscountCode: req.DiscountCode,
		DiscountID:   req.DiscountID,
		ActorID:      serviceActor(ctx),
	}
	if req.Contact != nil {
		cmd.Contact = &domain.OrderContact{Name: req.Contact.Name, Email: req.Contact.Email, Phone: req.Contact.Phone}
	}
	for _, item := range req.Items {
		cmd.Lines = append(cmd.Lines, services.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}

	order, err := h.creation.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	if !identity.IsOperator() && (order.UserID == nil || strings.TrimSpace(*order.UserID) != strings.TrimSpace(identity.UID)) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req transitionStatusRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:            strings.TrimSpace(chi.URLParam(r, "orderID")),
		TargetStatus:       req.Status,
		ActorID:            identity.UID,
		CancellationReason: req.CancellationReason,
		Location:           req.Location,
		Message:            req.Message,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancellationRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	order, err := h.orders.RequestCancellation(ctx, services.CancellationRequestCommand{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID:         identity.UID,
		ActorIsOperator: identity.IsOperator(),
		Reason:          req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) processCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req processCancellationRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	order, err := h.orders.ProcessCancellation(ctx, services.CancellationProcessCommand{
		OrderID:         strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID:         identity.UID,
		Action:          services.CancellationAction(strings.ToLower(strings.TrimSpace(req.Action))),
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
