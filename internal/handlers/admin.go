package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
	"github.com/hanko-field/fulfillment/internal/services"
)

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type setStockRequest struct {
	StockQuantity *int `json:"stock_quantity"`
}

// AdminHandlers exposes operator stock adjustments and order purging.
type AdminHandlers struct {
	authn       *auth.Authenticator
	idempotency func(http.Handler) http.Handler
	inventory   services.InventoryService
	orders      services.OrderService
}

// NewAdminHandlers constructs AdminHandlers.
func NewAdminHandlers(authn *auth.Authenticator, inventory services.InventoryService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{authn: authn, inventory: inventory, orders: orders}
}

// WithIdempotency installs the Idempotency-Key middleware on admin mutations.
func (h *AdminHandlers) WithIdempotency(mw func(http.Handler) http.Handler) *AdminHandlers {
	h.idempotency = mw
	return h
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/inventory", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		use(rt, h.idempotency)
		rt.Post("/{productID}/restock", h.restock)
		rt.Put("/{productID}", h.setStock)
	})
	r.Route("/orders", func(rt chi.Router) {
		if h.authn != nil {
			rt.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		use(rt, h.idempotency)
		rt.Delete("/{orderID}", h.purgeOrder)
	})
}

func (h *AdminHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req restockRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	product, err := h.inventory.Restock(ctx, services.StockAdjustmentCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req setStockRequest
	if err := httpx.DecodeJSON(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.StockQuantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stock_quantity is required", http.StatusBadRequest))
		return
	}

	product, err := h.inventory.SetStock(ctx, services.StockAdjustmentCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  *req.StockQuantity,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) purgeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.orders.PurgeOrder(ctx, services.PurgeOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		ActorID: identity.UID,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
