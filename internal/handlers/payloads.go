package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/httpx"
)

const maxJSONBodySize = 16 * 1024

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string               `json:"id"`
	UserID             string               `json:"user_id,omitempty"`
	SessionID          string               `json:"session_id"`
	Status             string               `json:"status"`
	Total              int64                `json:"total"`
	Currency           string               `json:"currency"`
	PaymentMethod      string               `json:"payment_method,omitempty"`
	PaymentReference   string               `json:"payment_reference"`
	DiscountID         string               `json:"discount_id,omitempty"`
	TrackingID         string               `json:"tracking_id"`
	Items              []orderItemPayload   `json:"items"`
	Timeline           []timelinePayload    `json:"timeline"`
	CancellationReason *string              `json:"cancellation_reason,omitempty"`
	Cancellation       *cancellationPayload `json:"cancellation,omitempty"`
	Contact            *orderContactPayload `json:"contact,omitempty"`
	DeliveredAt        string               `json:"delivered_at,omitempty"`
	Version            int                  `json:"version"`
	CreatedAt          string               `json:"created_at"`
	UpdatedAt          string               `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Total     int64  `json:"total"`
}

type timelinePayload struct {
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	Date     string  `json:"date"`
	Location *string `json:"location,omitempty"`
}

type cancellationPayload struct {
	State           string  `json:"state"`
	Reason          string  `json:"reason,omitempty"`
	RequestedAt     string  `json:"requested_at,omitempty"`
	ApprovedBy      *string `json:"approved_by,omitempty"`
	ApprovedAt      string  `json:"approved_at,omitempty"`
	RejectedAt      string  `json:"rejected_at,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

type orderContactPayload struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type discountPayload struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	Type        string   `json:"type"`
	Value       int64    `json:"value"`
	MinPurchase int64    `json:"min_purchase,omitempty"`
	UsageLimit  int      `json:"usage_limit,omitempty"`
	PerUser     bool     `json:"per_user"`
	Used        int      `json:"used"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	ProductIDs  []string `json:"product_ids,omitempty"`
}

type discountUsagePayload struct {
	ID         string `json:"id"`
	DiscountID string `json:"discount_id"`
	UserID     string `json:"user_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	PerUser    bool   `json:"per_user"`
	UsedAt     string `json:"used_at"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                 strings.TrimSpace(order.ID),
		UserID:             derefString(order.UserID),
		SessionID:          order.SessionID,
		Status:             string(order.Status),
		Total:              order.Total,
		Currency:           strings.ToUpper(strings.TrimSpace(order.Currency)),
		PaymentMethod:      order.PaymentMethod,
		PaymentReference:   order.PaymentReference,
		DiscountID:         derefString(order.DiscountID),
		TrackingID:         order.TrackingID,
		Items:              make([]orderItemPayload, 0, len(order.Items)),
		Timeline:           make([]timelinePayload, 0, len(order.Timeline)),
		CancellationReason: cloneStringPointer(order.CancellationReason),
		DeliveredAt:        formatTime(pointerTime(order.DeliveredAt)),
		Version:            order.Version,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Total:     item.Price * int64(item.Quantity),
		})
	}

	for _, event := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelinePayload{
			Status:   string(event.Status),
			Message:  event.Message,
			Date:     formatTime(event.Date),
			Location: cloneStringPointer(event.Location),
		})
	}

	if state := order.Cancellation.State(); state != domain.CancellationStateNone {
		payload.Cancellation = &cancellationPayload{
			State:           string(state),
			Reason:          order.Cancellation.Reason,
			RequestedAt:     formatTime(pointerTime(order.Cancellation.RequestedAt)),
			ApprovedBy:      cloneStringPointer(order.Cancellation.ApprovedBy),
			ApprovedAt:      formatTime(pointerTime(order.Cancellation.ApprovedAt)),
			RejectedAt:      formatTime(pointerTime(order.Cancellation.RejectedAt)),
			RejectionReason: cloneStringPointer(order.Cancellation.RejectionReason),
		}
	}

	if order.Contact != nil {
		payload.Contact = &orderContactPayload{
			Name:  order.Contact.Name,
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}

	return payload
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:            product.ID,
		Name:          product.Name,
		Price:         product.Price,
		StockQuantity: product.StockQuantity,
		UpdatedAt:     formatTime(product.UpdatedAt),
	}
}

func buildDiscountPayload(discount domain.Discount) discountPayload {
	return discountPayload{
		ID:          discount.ID,
		Code:        discount.Code,
		Type:        string(discount.Type),
		Value:       discount.Value,
		MinPurchase: discount.MinPurchase,
		UsageLimit:  discount.UsageLimit,
		PerUser:     discount.PerUser,
		Used:        discount.Used,
		StartDate:   formatTime(pointerTime(discount.StartDate)),
		EndDate:     formatTime(pointerTime(discount.EndDate)),
		ProductIDs:  discount.ProductIDs,
	}
}

func buildDiscountUsagePayload(usage domain.DiscountUsage) discountUsagePayload {
	return discountUsagePayload{
		ID:         usage.ID,
		DiscountID: usage.DiscountID,
		UserID:     derefString(usage.UserID),
		SessionID:  derefString(usage.SessionID),
		OrderID:    derefString(usage.OrderID),
		PerUser:    usage.PerUser,
		UsedAt:     formatTime(usage.UsedAt),
	}
}

// requireIdentity writes 401 and returns false when no Firebase identity is attached.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// serviceActor names the internal caller for audit fields.
func serviceActor(ctx context.Context) string {
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok && identity != nil {
		if email := strings.TrimSpace(identity.Email); email != "" {
			return email
		}
		return strings.TrimSpace(identity.Subject)
	}
	return ""
}

func use(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func optionalTrimmed(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
