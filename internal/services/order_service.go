package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/textutil"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderEventCreated               = "order.created"
	orderEventStatusChanged         = "order.status.changed"
	orderEventCancellationRequested = "order.cancellation.requested"
	orderEventCancellationRejected  = "order.cancellation.rejected"
	orderEventPurged                = "order.purged"

	minCancellationReasonLength = 10
	minRejectionReasonLength    = 5

	defaultShippedLocation   = "Fulfillment center"
	defaultDeliveredLocation = "Customer address"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// cancellableStatuses bound the customer cancellation window. Stock for orders cancelled
// from these states has not left the building and is returned to the ledger.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
}

var defaultStatusMessages = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "Order placed",
	domain.OrderStatusConfirmed:  "Order confirmed",
	domain.OrderStatusProcessing: "Order is being prepared",
	domain.OrderStatusShipped:    "Order has been shipped",
	domain.OrderStatusDelivered:  "Order has been delivered",
	domain.OrderStatusCancelled:  "Order cancelled",
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Events     OrderEventPublisher
	Metrics    MetricsRecorder
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
	// RestockOnCancel returns line quantities to stock when an order is cancelled before shipment.
	RestockOnCancel   bool
	ShippedLocation   string
	DeliveredLocation string
}

type orderService struct {
	orders            repositories.OrderRepository
	products          repositories.ProductRepository
	unitOfWork        repositories.UnitOfWork
	events            OrderEventPublisher
	metrics           MetricsRecorder
	clock             func() time.Time
	logger            func(context.Context, string, map[string]any)
	restockOnCancel   bool
	shippedLocation   string
	deliveredLocation string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.RestockOnCancel && deps.Products == nil {
		return nil, errors.New("order service: product repository is required for restock on cancel")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	shipped := strings.TrimSpace(deps.ShippedLocation)
	if shipped == "" {
		shipped = defaultShippedLocation
	}
	delivered := strings.TrimSpace(deps.DeliveredLocation)
	if delivered == "" {
		delivered = defaultDeliveredLocation
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		unitOfWork: unit,
		events:     deps.Events,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:            logger,
		restockOnCancel:   deps.RestockOnCancel,
		shippedLocation:   shipped,
		deliveredLocation: delivered,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, err := parseOrderStatus(cmd.TargetStatus)
	if err != nil {
		return domain.Order{}, err
	}
	reason := textutil.StripMarkup(cmd.CancellationReason)
	if target == domain.OrderStatusCancelled && reason == "" {
		return domain.Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	prevStatus := order.Status
	message := textutil.StripMarkup(cmd.Message)
	if target == domain.OrderStatusCancelled {
		order.CancellationReason = &reason
		if message == "" {
			message = "Order cancelled: " + reason
		}
	}

	if err := s.applyStatusTransition(&order, target, message, cmd.Location, now); err != nil {
		return domain.Order{}, err
	}
	// A direct cancellation settles any open customer request.
	if order.Status == domain.OrderStatusCancelled && order.Cancellation.State() == domain.CancellationStateRequested {
		if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
			order.Cancellation.ApprovedBy = &actor
		}
		order.Cancellation.ApprovedAt = &now
	}

	if err := s.persist(ctx, &order, prevStatus); err != nil {
		return domain.Order{}, err
	}

	s.metrics.StatusTransition(string(order.Status))
	if target == domain.OrderStatusCancelled {
		s.metrics.CancellationOutcome("direct")
	}

	metadata := map[string]any{}
	if reason != "" && target == domain.OrderStatusCancelled {
		metadata["reason"] = reason
	}
	if loc := lastLocation(order); loc != "" {
		metadata["location"] = loc
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		TrackingID:     order.TrackingID,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) RequestCancellation(ctx context.Context, cmd CancellationRequestCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !cmd.ActorIsOperator && (order.UserID == nil || actor == "" || *order.UserID != actor) {
		return domain.Order{}, fmt.Errorf("%w: order %s does not belong to the caller", ErrOrderForbidden, orderID)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return domain.Order{}, newCancellationStateError(
			fmt.Errorf("%w: order status %q is past the cancellation window", ErrNotCancellable, order.Status), order)
	}
	if order.Cancellation.RequestedAt != nil {
		return domain.Order{}, newCancellationStateError(ErrAlreadyRequested, order)
	}

	reason := textutil.StripMarkup(cmd.Reason)
	if textutil.RuneLength(reason) < minCancellationReasonLength {
		return domain.Order{}, fmt.Errorf("%w: cancellation reason must be at least %d characters", ErrOrderInvalidInput, minCancellationReasonLength)
	}

	now := s.now()
	order.Cancellation.RequestedAt = &now
	order.Cancellation.Reason = reason
	order.Timeline = append(order.Timeline, domain.TimelineEvent{
		Status:  domain.TimelineCancellationRequested,
		Message: "Cancellation requested: " + reason,
		Date:    now,
	})
	order.UpdatedAt = now

	if err := s.persist(ctx, &order, order.Status); err != nil {
		return domain.Order{}, err
	}

	s.metrics.CancellationOutcome("requested")
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancellationRequested,
		OrderID:        order.ID,
		TrackingID:     order.TrackingID,
		PreviousStatus: order.Status,
		CurrentStatus:  order.Status,
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": reason},
	})

	return order, nil
}

func (s *orderService) ProcessCancellation(ctx context.Context, cmd CancellationProcessCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	action := CancellationAction(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
	if action != CancellationActionApprove && action != CancellationActionReject {
		return domain.Order{}, fmt.Errorf("%w: action must be approve or reject", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	switch order.Cancellation.State() {
	case domain.CancellationStateNone:
		return domain.Order{}, newCancellationStateError(ErrCancellationNotRequested, order)
	case domain.CancellationStateApproved, domain.CancellationStateRejected:
		return domain.Order{}, newCancellationStateError(ErrAlreadyProcessed, order)
	}
	if order.Status.IsTerminal() {
		return domain.Order{}, newCancellationStateError(
			fmt.Errorf("%w: order is already %s", ErrNotCancellable, order.Status), order)
	}

	now := s.now()
	prevStatus := order.Status

	if action == CancellationActionReject {
		reason := textutil.StripMarkup(cmd.RejectionReason)
		if textutil.RuneLength(reason) < minRejectionReasonLength {
			return domain.Order{}, fmt.Errorf("%w: rejection reason must be at least %d characters", ErrOrderInvalidInput, minRejectionReasonLength)
		}
		order.Cancellation.RejectedAt = &now
		order.Cancellation.RejectionReason = &reason
		order.Timeline = append(order.Timeline, domain.TimelineEvent{
			Status:  domain.TimelineCancellationRejected,
			Message: "Cancellation request rejected: " + reason,
			Date:    now,
		})
		order.UpdatedAt = now

		if err := s.persist(ctx, &order, prevStatus); err != nil {
			return domain.Order{}, err
		}
		s.metrics.CancellationOutcome("rejected")
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventCancellationRejected,
			OrderID:        order.ID,
			TrackingID:     order.TrackingID,
			PreviousStatus: prevStatus,
			CurrentStatus:  order.Status,
			ActorID:        actor,
			OccurredAt:     now,
			Metadata:       map[string]any{"reason": reason},
		})
		return order, nil
	}

	reason := order.Cancellation.Reason
	order.CancellationReason = &reason
	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, "Order cancelled: "+reason, "", now); err != nil {
		return domain.Order{}, err
	}
	if actor != "" {
		order.Cancellation.ApprovedBy = &actor
	}
	order.Cancellation.ApprovedAt = &now

	if err := s.persist(ctx, &order, prevStatus); err != nil {
		return domain.Order{}, err
	}

	s.metrics.StatusTransition(string(order.Status))
	s.metrics.CancellationOutcome("approved")
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		TrackingID:     order.TrackingID,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": reason, "approvedBy": actor},
	})

	return order, nil
}

func (s *orderService) PurgeOrder(ctx context.Context, cmd PurgeOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Delete(txCtx, orderID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, orderEventPurged, map[string]any{
		"order": orderID,
		"items": len(order.Items),
		"actor": strings.TrimSpace(cmd.ActorID),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPurged,
		OrderID:        order.ID,
		TrackingID:     order.TrackingID,
		PreviousStatus: order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     s.now(),
	})
	return nil
}

// applyStatusTransition validates the move, switches the status and appends the one
// timeline event that records it.
func (s *orderService) applyStatusTransition(order *domain.Order, target domain.OrderStatus, message, location string, now time.Time) error {
	current := order.Status
	if current.IsTerminal() {
		return fmt.Errorf("%w: order is %s and cannot change status", ErrInvalidStatus, current)
	}
	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, current, target)
	}

	if message == "" {
		message = defaultStatusMessages[target]
	}
	event := domain.TimelineEvent{
		Status:  domain.TimelineStatus(target),
		Message: message,
		Date:    now,
	}
	switch target {
	case domain.OrderStatusShipped:
		event.Location = valuePtr(s.locationOrDefault(location, s.shippedLocation))
	case domain.OrderStatusDelivered:
		event.Location = valuePtr(s.locationOrDefault(location, s.deliveredLocation))
	}

	order.Status = target
	order.Timeline = append(order.Timeline, event)
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)
	return nil
}

func (s *orderService) updateTimestamps(order *domain.Order, status domain.OrderStatus, now time.Time) {
	if status == domain.OrderStatusDelivered {
		order.DeliveredAt = &now
	}
}

func (s *orderService) locationOrDefault(location, fallback string) string {
	if loc := textutil.StripMarkup(location); loc != "" {
		return loc
	}
	return fallback
}

// persist writes the order under its version guard and, for cancellations from a
// pre-shipment state, returns stock inside the same transaction.
func (s *orderService) persist(ctx context.Context, order *domain.Order, prevStatus domain.OrderStatus) error {
	expected := order.Version
	restock := s.restockOnCancel &&
		order.Status == domain.OrderStatusCancelled &&
		prevStatus != domain.OrderStatusCancelled &&
		slices.Contains(cancellableStatuses, prevStatus)

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, *order, expected); err != nil {
			return s.mapRepositoryError(err)
		}
		if !restock {
			return nil
		}
		for _, item := range order.Items {
			if _, err := s.products.Restock(txCtx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("order: restock %s: %w", item.ProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.Version = expected + 1
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func parseOrderStatus(value string) (domain.OrderStatus, error) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(value)))
	if status == "" {
		return "", fmt.Errorf("%w: target status is required", ErrInvalidStatus)
	}
	if !slices.Contains(domain.OrderStatuses, status) {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatus, value)
	}
	return status, nil
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

func lastLocation(order domain.Order) string {
	if len(order.Timeline) == 0 {
		return ""
	}
	if loc := order.Timeline[len(order.Timeline)-1].Location; loc != nil {
		return *loc
	}
	return ""
}
