package domain

import "time"

// Product is the stock-bearing catalog entry mutated by the inventory ledger.
type Product struct {
	ID            string
	Name          string
	Price         int64
	StockQuantity int
	UpdatedAt     time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been recorded but not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment was verified and the order is accepted.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has left the fulfillment center.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status accepted by the state machine.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// TimelineStatus labels a timeline entry. It covers every order status plus the
// cancellation sub-workflow markers.
type TimelineStatus string

const (
	TimelineCancellationRequested TimelineStatus = "cancellation_requested"
	TimelineCancellationRejected  TimelineStatus = "cancellation_rejected"
)

// TimelineEvent is a single append-only entry of the order audit timeline.
type TimelineEvent struct {
	Status   TimelineStatus
	Message  string
	Date     time.Time
	Location *string
}

// CancellationRequest tracks the customer-initiated cancellation sub-workflow.
type CancellationRequest struct {
	RequestedAt     *time.Time
	Reason          string
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
}

// CancellationState is derived from the request fields.
type CancellationState string

const (
	CancellationStateNone      CancellationState = "none"
	CancellationStateRequested CancellationState = "requested"
	CancellationStateApproved  CancellationState = "approved"
	CancellationStateRejected  CancellationState = "rejected"
)

// State returns the cancellation sub-workflow state.
func (c CancellationRequest) State() CancellationState {
	switch {
	case c.ApprovedAt != nil:
		return CancellationStateApproved
	case c.RejectedAt != nil:
		return CancellationStateRejected
	case c.RequestedAt != nil:
		return CancellationStateRequested
	default:
		return CancellationStateNone
	}
}

// OrderContact stores the customer contact snapshot used for notifications.
type OrderContact struct {
	Name  string
	Email string
	Phone string
}

// Order captures the durable order record and its audit timeline.
type Order struct {
	ID                 string
	UserID             *string
	SessionID          string
	Total              int64
	Currency           string
	Status             OrderStatus
	PaymentMethod      string
	PaymentReference   string
	DiscountID         *string
	TrackingID         string
	Timeline           []TimelineEvent
	CancellationReason *string
	DeliveredAt        *time.Time
	Cancellation       CancellationRequest
	Contact            *OrderContact
	Items              []OrderItem
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItem is an immutable line of an order with the unit price captured at purchase time.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     int64
}

// DiscountType enumerates how a discount value is interpreted.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
	DiscountTypeShipping   DiscountType = "shipping"
)

// DiscountStatus enumerates the administrative state of a discount.
type DiscountStatus string

const (
	DiscountStatusActive    DiscountStatus = "active"
	DiscountStatusScheduled DiscountStatus = "scheduled"
	DiscountStatusExpired   DiscountStatus = "expired"
	DiscountStatusDisabled  DiscountStatus = "disabled"
)

// Discount describes a redeemable code. UsageLimit of zero means unlimited.
type Discount struct {
	ID          string
	Code        string
	Type        DiscountType
	Value       int64
	MinPurchase int64
	UsageLimit  int
	PerUser     bool
	Used        int
	StartDate   *time.Time
	EndDate     *time.Time
	Status      DiscountStatus
	ProductIDs  []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DiscountUsage records a single redemption.
type DiscountUsage struct {
	ID         string
	DiscountID string
	UserID     *string
	OrderID    *string
	SessionID  *string
	PerUser    bool
	UsedAt     time.Time
}

// DiscountValidationResult is returned when a discount is evaluated against a cart.
type DiscountValidationResult struct {
	Valid        bool
	Discount     *Discount
	Reason       string
	Message      string
	Amount       int64
	FreeShipping bool
}

// Cart is the session cart owned by the external cart provider.
type Cart struct {
	SessionID string
	UserID    *string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem is one product line of a cart.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// PaymentConfirmation is the verified payment outcome that triggers order creation.
type PaymentConfirmation struct {
	Amount    int64
	Currency  string
	Reference string
	Method    string
}
