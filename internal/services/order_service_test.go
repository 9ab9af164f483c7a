package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

var orderNow = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

type orderFixture struct {
	store     *memStore
	svc       OrderService
	publisher *recordingPublisher
	metrics   *countingMetrics
	logger    *recordingLogger
}

func newOrderFixture(t *testing.T, restock bool) *orderFixture {
	t.Helper()
	fx := &orderFixture{
		store:     newMemStore(),
		publisher: &recordingPublisher{},
		metrics:   &countingMetrics{},
		logger:    &recordingLogger{},
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          memOrders{fx.store},
		Products:        memProducts{fx.store},
		UnitOfWork:      fx.store,
		Events:          fx.publisher,
		Metrics:         fx.metrics,
		Clock:           func() time.Time { return orderNow },
		Logger:          fx.logger.log,
		RestockOnCancel: restock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *orderFixture) seed(status domain.OrderStatus) domain.Order {
	user := "user-1"
	order := domain.Order{
		ID:               "ord-1",
		UserID:           &user,
		SessionID:        "sess-1",
		Total:            2400,
		Currency:         "USD",
		Status:           status,
		PaymentReference: "pay-1",
		TrackingID:       "TRK-0000000001",
		Timeline:         []domain.TimelineEvent{{Status: domain.TimelineStatus(status), Message: "seeded", Date: orderNow.Add(-time.Hour)}},
		Version:          1,
	}
	fx.store.orders[order.ID] = order
	fx.store.items[order.ID] = []domain.OrderItem{{ID: "oit-1", OrderID: order.ID, ProductID: "prod-1", Quantity: 2, Price: 1200}}
	fx.store.products["prod-1"] = domain.Product{ID: "prod-1", StockQuantity: 5}
	return order
}

func TestNewOrderServiceValidation(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatal("expected error when order repository is missing")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: memOrders{newMemStore()}, RestockOnCancel: true}); err == nil {
		t.Fatal("expected error when restock is enabled without products")
	}
}

func TestOrderTransitionTable(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	}
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestOrderTransitionShippedAndDelivered(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusProcessing)
	ctx := context.Background()

	shipped, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "SHIPPED", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("TransitionStatus shipped: %v", err)
	}
	last := shipped.Timeline[len(shipped.Timeline)-1]
	if last.Status != "shipped" || last.Location == nil || *last.Location != defaultShippedLocation {
		t.Fatalf("unexpected shipped event %+v", last)
	}
	if shipped.Version != 2 {
		t.Fatalf("expected version 2, got %d", shipped.Version)
	}

	delivered, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "delivered", Location: "<b>Front porch</b>"})
	if err != nil {
		t.Fatalf("TransitionStatus delivered: %v", err)
	}
	if delivered.DeliveredAt == nil || !delivered.DeliveredAt.Equal(orderNow) {
		t.Fatalf("expected deliveredAt stamped, got %v", delivered.DeliveredAt)
	}
	last = delivered.Timeline[len(delivered.Timeline)-1]
	if last.Location == nil || *last.Location != "Front porch" {
		t.Fatalf("expected sanitized location, got %+v", last.Location)
	}
	if len(delivered.Timeline) != 3 {
		t.Fatalf("expected exactly one event per transition, got %d", len(delivered.Timeline))
	}

	_, err = fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "cancelled", CancellationReason: "too late"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status from terminal state, got %v", err)
	}

	if got := fx.publisher.types(); len(got) != 2 || got[0] != orderEventStatusChanged {
		t.Fatalf("unexpected events %v", got)
	}
	if fx.metrics.get("status:delivered") != 1 {
		t.Fatalf("expected delivered transition counted")
	}
}

func TestOrderTransitionRejectsInvalidInput(t *testing.T) {
	fx := newOrderFixture(t, false)
	fx.seed(domain.OrderStatusConfirmed)
	ctx := context.Background()

	if _, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "lost"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status for unknown value, got %v", err)
	}
	if _, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "pending"}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status for backwards move, got %v", err)
	}
	if _, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "cancelled"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without cancellation reason, got %v", err)
	}
	if _, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-404", TargetStatus: "processing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if fx.store.updateCalls != 0 {
		t.Fatalf("expected no writes for rejected transitions, got %d", fx.store.updateCalls)
	}
}

func TestOrderDirectCancelRestocksBeforeShipment(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusConfirmed)

	order, err := fx.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:            "ord-1",
		TargetStatus:       "cancelled",
		CancellationReason: "Customer called support",
		ActorID:            "staff-1",
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if order.CancellationReason == nil || *order.CancellationReason != "Customer called support" {
		t.Fatalf("unexpected cancellation reason %v", order.CancellationReason)
	}
	if stock := fx.store.FindProduct("prod-1").StockQuantity; stock != 7 {
		t.Fatalf("expected stock restored to 7, got %d", stock)
	}
	if fx.metrics.get("cancellation:direct") != 1 {
		t.Fatalf("expected direct cancellation counted")
	}
}

func TestOrderCancelAfterShipmentKeepsStock(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusShipped)

	if _, err := fx.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: "ord-1", TargetStatus: "cancelled", CancellationReason: "Lost in transit",
	}); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if stock := fx.store.FindProduct("prod-1").StockQuantity; stock != 5 {
		t.Fatalf("expected stock untouched, got %d", stock)
	}
}

func TestOrderTransitionVersionConflict(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusConfirmed)
	fx.store.updateErr = &memError{msg: "orders.update: version mismatch", conflict: true}

	_, err := fx.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: "ord-1", TargetStatus: "cancelled", CancellationReason: "Duplicate order",
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if stock := fx.store.FindProduct("prod-1").StockQuantity; stock != 5 {
		t.Fatalf("expected no restock on failed write, got %d", stock)
	}
	if len(fx.publisher.types()) != 0 {
		t.Fatalf("expected no events for failed write")
	}
}

func TestCancellationScenarioRequestThenApprove(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusPending)
	ctx := context.Background()

	requested, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "Wrong colour"})
	if err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if len(requested.Timeline) != 2 || requested.Timeline[1].Status != domain.TimelineCancellationRequested {
		t.Fatalf("expected one cancellation_requested event, got %+v", requested.Timeline)
	}
	if requested.Status != domain.OrderStatusPending || requested.Cancellation.State() != domain.CancellationStateRequested {
		t.Fatalf("unexpected state after request: %s/%s", requested.Status, requested.Cancellation.State())
	}

	approved, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", ActorID: "staff-1", Action: CancellationActionApprove})
	if err != nil {
		t.Fatalf("ProcessCancellation: %v", err)
	}
	if approved.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", approved.Status)
	}
	if approved.DeliveredAt != nil {
		t.Fatalf("deliveredAt must stay unset")
	}
	if len(approved.Timeline) != 3 || approved.Timeline[2].Status != domain.TimelineStatus(domain.OrderStatusCancelled) {
		t.Fatalf("expected one cancelled event, got %+v", approved.Timeline)
	}
	if approved.CancellationReason == nil || *approved.CancellationReason != "Wrong colour" {
		t.Fatalf("expected request reason copied, got %v", approved.CancellationReason)
	}
	if approved.Cancellation.ApprovedBy == nil || *approved.Cancellation.ApprovedBy != "staff-1" || approved.Cancellation.ApprovedAt == nil {
		t.Fatalf("expected approval stamps, got %+v", approved.Cancellation)
	}
	if stock := fx.store.FindProduct("prod-1").StockQuantity; stock != 7 {
		t.Fatalf("expected restock on approval, got %d", stock)
	}

	_, err = fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", Action: CancellationActionReject, RejectionReason: "nope nope"})
	var stateErr *CancellationStateError
	if !errors.Is(err, ErrAlreadyProcessed) || !errors.As(err, &stateErr) || stateErr.State != domain.CancellationStateApproved {
		t.Fatalf("expected already processed with approved state, got %v", err)
	}
	if got := fx.publisher.types(); len(got) != 2 || got[0] != orderEventCancellationRequested || got[1] != orderEventStatusChanged {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCancellationScenarioDeliveredNotCancellable(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusDelivered)

	_, err := fx.svc.RequestCancellation(context.Background(), CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "Changed my mind"})
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
	var stateErr *CancellationStateError
	if !errors.As(err, &stateErr) || stateErr.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected current status reported, got %v", err)
	}
	if fx.store.updateCalls != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestCancellationRequestGuards(t *testing.T) {
	fx := newOrderFixture(t, false)
	fx.seed(domain.OrderStatusConfirmed)
	ctx := context.Background()

	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-2", Reason: "Not my order at all"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}
	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "<i>short</i>"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for short reason, got %v", err)
	}
	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "staff-9", ActorIsOperator: true, Reason: "Customer phoned in"}); err != nil {
		t.Fatalf("operator request: %v", err)
	}
	_, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "Second attempt here"})
	var stateErr *CancellationStateError
	if !errors.Is(err, ErrAlreadyRequested) || !errors.As(err, &stateErr) || stateErr.RequestedAt == nil {
		t.Fatalf("expected already requested with timestamp, got %v", err)
	}
}

func TestCancellationReject(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusProcessing)
	ctx := context.Background()

	if _, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", Action: CancellationActionApprove}); !errors.Is(err, ErrCancellationNotRequested) {
		t.Fatalf("expected not requested, got %v", err)
	}
	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "Found it cheaper"}); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	if _, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", Action: "maybe"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid action, got %v", err)
	}
	if _, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", Action: CancellationActionReject, RejectionReason: "no"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for short rejection reason, got %v", err)
	}

	rejected, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", ActorID: "staff-1", Action: CancellationActionReject, RejectionReason: "Already packed"})
	if err != nil {
		t.Fatalf("ProcessCancellation reject: %v", err)
	}
	if rejected.Status != domain.OrderStatusProcessing {
		t.Fatalf("reject must leave status unchanged, got %s", rejected.Status)
	}
	last := rejected.Timeline[len(rejected.Timeline)-1]
	if last.Status != domain.TimelineCancellationRejected || !strings.Contains(last.Message, "Already packed") {
		t.Fatalf("unexpected rejection event %+v", last)
	}
	if rejected.Cancellation.RejectedAt == nil || rejected.Cancellation.RejectionReason == nil {
		t.Fatalf("expected rejection stamps, got %+v", rejected.Cancellation)
	}
	if stock := fx.store.FindProduct("prod-1").StockQuantity; stock != 5 {
		t.Fatalf("reject must not restock, got %d", stock)
	}
	if _, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", Action: CancellationActionApprove}); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected already processed after rejection, got %v", err)
	}
	if fx.metrics.get("cancellation:rejected") != 1 {
		t.Fatalf("expected rejection counted")
	}
}

func TestDirectCancelSettlesOpenRequest(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusProcessing)
	ctx := context.Background()

	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "changed my mind"}); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	cancelled, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: "cancelled", CancellationReason: "Customer called support", ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}
	if state := cancelled.Cancellation.State(); state != domain.CancellationStateApproved {
		t.Fatalf("expected open request to be settled as approved, got %s", state)
	}
	if cancelled.Cancellation.ApprovedBy == nil || *cancelled.Cancellation.ApprovedBy != "staff-1" {
		t.Fatalf("expected approver staff-1, got %+v", cancelled.Cancellation)
	}

	_, err = fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", ActorID: "staff-2", Action: CancellationActionReject, RejectionReason: "Already packed"})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
	stored := fx.store.orders["ord-1"]
	if stored.Cancellation.RejectedAt != nil {
		t.Fatalf("rejection must not be stamped on a cancelled order")
	}
	if last := stored.Timeline[len(stored.Timeline)-1]; last.Status != domain.TimelineStatus(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled to stay the last timeline event, got %s", last.Status)
	}
}

func TestProcessCancellationOnTerminalOrder(t *testing.T) {
	fx := newOrderFixture(t, true)
	fx.seed(domain.OrderStatusProcessing)
	ctx := context.Background()

	if _, err := fx.svc.RequestCancellation(ctx, CancellationRequestCommand{OrderID: "ord-1", ActorID: "user-1", Reason: "changed my mind"}); err != nil {
		t.Fatalf("RequestCancellation: %v", err)
	}
	for _, status := range []string{"shipped", "delivered"} {
		if _, err := fx.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: "ord-1", TargetStatus: status}); err != nil {
			t.Fatalf("TransitionStatus %s: %v", status, err)
		}
	}
	before := len(fx.store.orders["ord-1"].Timeline)

	for _, action := range []CancellationAction{CancellationActionReject, CancellationActionApprove} {
		_, err := fx.svc.ProcessCancellation(ctx, CancellationProcessCommand{OrderID: "ord-1", ActorID: "staff-1", Action: action, RejectionReason: "Already delivered"})
		var stateErr *CancellationStateError
		if !errors.Is(err, ErrNotCancellable) || !errors.As(err, &stateErr) {
			t.Fatalf("%s: expected not cancellable, got %v", action, err)
		}
		if stateErr.Status != domain.OrderStatusDelivered || stateErr.State != domain.CancellationStateRequested {
			t.Fatalf("%s: unexpected state error %+v", action, stateErr)
		}
	}
	stored := fx.store.orders["ord-1"]
	if len(stored.Timeline) != before || stored.Cancellation.RejectedAt != nil {
		t.Fatalf("expected delivered order to stay untouched, got %+v", stored.Cancellation)
	}
}

func TestOrderPurgeAndPublishFailure(t *testing.T) {
	fx := newOrderFixture(t, false)
	fx.seed(domain.OrderStatusDelivered)
	fx.publisher.err = errors.New("pubsub down")
	ctx := context.Background()

	if err := fx.svc.PurgeOrder(ctx, PurgeOrderCommand{OrderID: "ord-1", ActorID: "admin-1"}); err != nil {
		t.Fatalf("PurgeOrder: %v", err)
	}
	if _, ok := fx.store.orders["ord-1"]; ok {
		t.Fatalf("expected order removed")
	}
	if len(fx.store.items["ord-1"]) != 0 {
		t.Fatalf("expected items removed")
	}
	if !fx.logger.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
	if err := fx.svc.PurgeOrder(ctx, PurgeOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found on second purge, got %v", err)
	}
}
