package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"

	"go.uber.org/goleak"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memError satisfies repositories.RepositoryError for the in-memory store.
type memError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *memError) Error() string       { return e.msg }
func (e *memError) IsNotFound() bool    { return e.notFound }
func (e *memError) IsConflict() bool    { return e.conflict }
func (e *memError) IsUnavailable() bool { return e.unavailable }

type memTxKey struct{}

// memStore keeps products, orders, discounts and carts behind one mutex. Conditional
// updates mirror the SQL guards; RunInTx serialises transactions and restores a snapshot
// when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products  map[string]domain.Product
	orders    map[string]domain.Order
	items     map[string][]domain.OrderItem
	discounts map[string]domain.Discount
	usages    []domain.DiscountUsage
	carts     map[string]domain.Cart
	cleared   []string

	updateErr    error
	clearCartErr error
	updateCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[string]domain.Product{},
		orders:    map[string]domain.Order{},
		items:     map[string][]domain.OrderItem{},
		discounts: map[string]domain.Discount{},
		carts:     map[string]domain.Cart{},
	}
}

type memSnapshot struct {
	products  map[string]domain.Product
	orders    map[string]domain.Order
	items     map[string][]domain.OrderItem
	discounts map[string]domain.Discount
	usages    []domain.DiscountUsage
}

func (s *memStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{
		products:  maps.Clone(s.products),
		orders:    maps.Clone(s.orders),
		items:     maps.Clone(s.items),
		discounts: maps.Clone(s.discounts),
		usages:    slices.Clone(s.usages),
	}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.products, s.orders, s.items, s.discounts, s.usages = snap.products, snap.orders, snap.items, snap.discounts, snap.usages
		s.mu.Unlock()
		return err
	}
	return nil
}

// products

func (s *memStore) FindProduct(id string) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

type memProducts struct{ *memStore }

func (r memProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.find", id)
	}
	return product, nil
}

func (r memProducts) FindByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r memProducts) Deduct(_ context.Context, id string, quantity int) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.deduct", id)
	}
	if product.StockQuantity < quantity {
		return domain.Product{}, repositories.NewInsufficientStockError("products.deduct", id, quantity, product.StockQuantity)
	}
	product.StockQuantity -= quantity
	r.products[id] = product
	return product, nil
}

func (r memProducts) Restock(_ context.Context, id string, quantity int) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.restock", id)
	}
	product.StockQuantity += quantity
	r.products[id] = product
	return product, nil
}

func (r memProducts) SetStock(_ context.Context, id string, quantity int) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[id]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.set_stock", id)
	}
	product.StockQuantity = quantity
	r.products[id] = product
	return product, nil
}

// orders

type memOrders struct{ *memStore }

func (r memOrders) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return &memError{msg: "order exists", conflict: true}
	}
	for _, existing := range r.orders {
		if existing.PaymentReference == order.PaymentReference {
			return &memError{msg: "duplicate payment reference", conflict: true}
		}
	}
	order.Items = nil
	order.Timeline = slices.Clone(order.Timeline)
	r.orders[order.ID] = order
	return nil
}

func (r memOrders) InsertItem(_ context.Context, item domain.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[item.OrderID]; !ok {
		return &memError{msg: "order missing", notFound: true}
	}
	r.items[item.OrderID] = append(slices.Clone(r.items[item.OrderID]), item)
	return nil
}

func (r memOrders) Update(_ context.Context, order domain.Order, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return &memError{msg: "order missing", notFound: true}
	}
	if stored.Version != expectedVersion {
		return &memError{msg: fmt.Sprintf("version %d != %d", stored.Version, expectedVersion), conflict: true}
	}
	order.Version = expectedVersion + 1
	order.Items = nil
	order.Timeline = slices.Clone(order.Timeline)
	r.orders[order.ID] = order
	return nil
}

func (r memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, &memError{msg: "order " + id + " not found", notFound: true}
	}
	order.Items = slices.Clone(r.items[id])
	order.Timeline = slices.Clone(order.Timeline)
	return order, nil
}

func (r memOrders) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return &memError{msg: "order missing", notFound: true}
	}
	delete(r.items, id)
	delete(r.orders, id)
	return nil
}

// discounts

type memDiscounts struct{ *memStore }

func (r memDiscounts) FindByID(_ context.Context, id string) (domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	discount, ok := r.discounts[id]
	if !ok {
		return domain.Discount{}, &memError{msg: "discount not found", notFound: true}
	}
	return discount, nil
}

func (r memDiscounts) FindByCode(_ context.Context, code string) (domain.Discount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, discount := range r.discounts {
		if discount.Code == code {
			return discount, nil
		}
	}
	return domain.Discount{}, &memError{msg: "discount not found", notFound: true}
}

func (r memDiscounts) HasUsage(_ context.Context, discountID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, usage := range r.usages {
		if usage.DiscountID == discountID && usage.UserID != nil && *usage.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r memDiscounts) InsertUsage(_ context.Context, usage domain.DiscountUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if usage.PerUser && usage.UserID != nil {
		for _, existing := range r.usages {
			if existing.PerUser && existing.DiscountID == usage.DiscountID && existing.UserID != nil && *existing.UserID == *usage.UserID {
				return repositories.NewDiscountUsageError("discounts.insert_usage", repositories.DiscountUsageErrorAlreadyUsed, usage.DiscountID, nil)
			}
		}
	}
	r.usages = append(slices.Clone(r.usages), usage)
	return nil
}

func (r memDiscounts) IncrementUsed(_ context.Context, discountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	discount, ok := r.discounts[discountID]
	if !ok {
		return 0, repositories.NewDiscountUsageError("discounts.increment_used", repositories.DiscountUsageErrorNotFound, discountID, nil)
	}
	if discount.UsageLimit > 0 && discount.Used >= discount.UsageLimit {
		return 0, repositories.NewDiscountUsageError("discounts.increment_used", repositories.DiscountUsageErrorLimitReached, discountID, nil)
	}
	discount.Used++
	r.discounts[discountID] = discount
	return discount.Used, nil
}

// carts

type memCarts struct{ *memStore }

func (r memCarts) GetCart(_ context.Context, sessionID string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carts[sessionID], nil
}

func (r memCarts) SaveCart(_ context.Context, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[cart.SessionID] = cart
	return nil
}

func (r memCarts) ClearCart(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearCartErr != nil {
		return r.clearCartErr
	}
	delete(r.carts, sessionID)
	r.cleared = append(r.cleared, sessionID)
	return nil
}

// recorders

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []OrderNotification
	err           error
}

func (n *recordingNotifier) NotifyOrderCreated(_ context.Context, notification OrderNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return n.err
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Contains(l.events, event)
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
}

func (m *countingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int{}
	}
	m.counters[key]++
}

func (m *countingMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *countingMetrics) OrderCreated()                      { m.inc("orders_created") }
func (m *countingMetrics) StockConflict(stage string)         { m.inc("stock_conflict:" + stage) }
func (m *countingMetrics) DiscountRejected(reason string)     { m.inc("discount_rejected:" + reason) }
func (m *countingMetrics) DiscountApplied()                   { m.inc("discount_applied") }
func (m *countingMetrics) CancellationOutcome(outcome string) { m.inc("cancellation:" + outcome) }
func (m *countingMetrics) StatusTransition(status string)     { m.inc("status:" + status) }

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%04d", prefix, n)
	}
}
