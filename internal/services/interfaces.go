package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

// InventoryService owns product stock counts. All mutations are conditional store updates.
type InventoryService interface {
	ValidateAvailability(ctx context.Context, productID string, quantity int) (bool, error)
	// CheckAvailability aggregates quantities per product and reports every short product
	// in a single *InsufficientStockError.
	CheckAvailability(ctx context.Context, lines []StockLine) error
	Deduct(ctx context.Context, productID string, quantity int) (domain.Product, error)
	Restock(ctx context.Context, cmd StockAdjustmentCommand) (domain.Product, error)
	SetStock(ctx context.Context, cmd StockAdjustmentCommand) (domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// DiscountService validates discount codes and records their redemptions.
type DiscountService interface {
	Validate(ctx context.Context, cmd DiscountValidateCommand) (domain.DiscountValidationResult, error)
	Apply(ctx context.Context, cmd DiscountApplyCommand) (domain.DiscountUsage, error)
}

// OrderService drives orders through the status state machine and the cancellation workflow.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error)
	RequestCancellation(ctx context.Context, cmd CancellationRequestCommand) (domain.Order, error)
	ProcessCancellation(ctx context.Context, cmd CancellationProcessCommand) (domain.Order, error)
	PurgeOrder(ctx context.Context, cmd PurgeOrderCommand) error
}

// OrderCreationService turns a confirmed payment into a persisted order.
type OrderCreationService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
}

// SystemService exposes health information for operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// StockLine is a product quantity pair checked against the ledger.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockAdjustmentCommand carries an administrative stock change.
type StockAdjustmentCommand struct {
	ProductID string
	Quantity  int
	ActorID   string
}

// DiscountValidateCommand looks a discount up by code or id. Code wins when both are set.
type DiscountValidateCommand struct {
	Code       string
	DiscountID string
	UserID     *string
	CartTotal  *int64
}

// DiscountApplyCommand records one redemption of a discount.
type DiscountApplyCommand struct {
	DiscountID string
	UserID     *string
	SessionID  *string
	OrderID    *string
}

// OrderStatusTransitionCommand requests an operator-driven status change.
type OrderStatusTransitionCommand struct {
	OrderID            string
	TargetStatus       string
	ActorID            string
	CancellationReason string
	Location           string
	Message            string
}

// CancellationRequestCommand is a customer asking to cancel their order.
type CancellationRequestCommand struct {
	OrderID string
	ActorID string
	// ActorIsOperator lets staff file a request on behalf of a customer.
	ActorIsOperator bool
	Reason          string
}

// CancellationAction is the operator decision on a pending cancellation request.
type CancellationAction string

const (
	CancellationActionApprove CancellationAction = "approve"
	CancellationActionReject  CancellationAction = "reject"
)

// CancellationProcessCommand approves or rejects a pending cancellation request.
type CancellationProcessCommand struct {
	OrderID         string
	ActorID         string
	Action          CancellationAction
	RejectionReason string
}

// PurgeOrderCommand removes an order and its line items.
type PurgeOrderCommand struct {
	OrderID string
	ActorID string
}

// OrderLine is an explicit purchase line. UnitPrice of zero uses the catalog price.
type OrderLine struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// CreateOrderCommand carries everything needed to create an order after payment.
type CreateOrderCommand struct {
	Payment      domain.PaymentConfirmation
	SessionID    string
	UserID       *string
	Contact      *domain.OrderContact
	Lines        []OrderLine
	DiscountCode string
	DiscountID   string
	ActorID      string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	TrackingID     string
	PreviousStatus domain.OrderStatus
	CurrentStatus  domain.OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderNotification is the payload handed to the admin notification sink.
type OrderNotification struct {
	Order    domain.Order
	Items    []domain.OrderItem
	Customer *domain.OrderContact
}

// AdminNotifier alerts operators about new orders. Delivery is fire-and-forget.
type AdminNotifier interface {
	NotifyOrderCreated(ctx context.Context, notification OrderNotification) error
}

// MetricsRecorder receives domain counters. The Prometheus registry implements it.
type MetricsRecorder interface {
	OrderCreated()
	StockConflict(stage string)
	DiscountRejected(reason string)
	DiscountApplied()
	CancellationOutcome(outcome string)
	StatusTransition(status string)
}

type noopMetrics struct{}

func (noopMetrics) OrderCreated()              {}
func (noopMetrics) StockConflict(string)       {}
func (noopMetrics) DiscountRejected(string)    {}
func (noopMetrics) DiscountApplied()           {}
func (noopMetrics) CancellationOutcome(string) {}
func (noopMetrics) StatusTransition(string)    {}
