package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oit_"

	trackingIDLength      = 10
	defaultTrackingPrefix = "TRK"
	defaultOrderCurrency  = "USD"
)

// OrderCreationServiceDeps bundles collaborators required to construct the order creation service.
type OrderCreationServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	Inventory   InventoryService
	Discounts   DiscountService
	UnitOfWork  repositories.UnitOfWork
	Notifier    AdminNotifier
	Events      OrderEventPublisher
	Metrics     MetricsRecorder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)

	DefaultCurrency string
	TrackingPrefix  string
}

type orderCreationService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	carts      repositories.CartRepository
	inventory  InventoryService
	discounts  DiscountService
	unitOfWork repositories.UnitOfWork
	notifier   AdminNotifier
	events     OrderEventPublisher
	metrics    MetricsRecorder
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	currency   string
	trackingPx string
}

// NewOrderCreationService wires dependencies into a concrete OrderCreationService.
func NewOrderCreationService(deps OrderCreationServiceDeps) (OrderCreationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order creation service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order creation service: inventory service is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("order creation service: discount service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = defaultOrderCurrency
	}
	prefix := strings.TrimSpace(deps.TrackingPrefix)
	if prefix == "" {
		prefix = defaultTrackingPrefix
	}

	return &orderCreationService{
		orders:     deps.Orders,
		products:   deps.Products,
		carts:      deps.Carts,
		inventory:  deps.Inventory,
		discounts:  deps.Discounts,
		unitOfWork: unit,
		notifier:   deps.Notifier,
		events:     deps.Events,
		metrics:    metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		logger:     logger,
		currency:   currency,
		trackingPx: prefix,
	}, nil
}

// CreateOrder validates stock and discount, then creates the order, its items, the stock
// deductions and the discount usage in one unit of work. Notification, cart clearing and
// event publishing happen after commit and only log on failure.
func (s *orderCreationService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return domain.Order{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}
	reference := strings.TrimSpace(cmd.Payment.Reference)
	if reference == "" {
		return domain.Order{}, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	if cmd.Payment.Amount < 0 {
		return domain.Order{}, fmt.Errorf("%w: payment amount cannot be negative", ErrOrderInvalidInput)
	}
	userID := trimmedPtr(cmd.UserID)

	lines, err := s.resolveLines(ctx, sessionID, cmd.Lines)
	if err != nil {
		return domain.Order{}, err
	}

	stockLines := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		stockLines = append(stockLines, StockLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := s.inventory.CheckAvailability(ctx, stockLines); err != nil {
		return domain.Order{}, err
	}

	lines, err = s.fillPrices(ctx, lines)
	if err != nil {
		return domain.Order{}, err
	}
	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	var discount *domain.DiscountValidationResult
	if strings.TrimSpace(cmd.DiscountCode) != "" || strings.TrimSpace(cmd.DiscountID) != "" {
		result, err := s.discounts.Validate(ctx, DiscountValidateCommand{
			Code:       cmd.DiscountCode,
			DiscountID: cmd.DiscountID,
			UserID:     userID,
			CartTotal:  &subtotal,
		})
		if err != nil {
			return domain.Order{}, err
		}
		if !result.Valid {
			validationErr := &DiscountValidationError{Reason: result.Reason, Message: result.Message}
			if result.Discount != nil {
				validationErr.DiscountID = result.Discount.ID
			}
			return domain.Order{}, validationErr
		}
		discount = &result
	}

	now := s.clock()
	order := s.buildOrder(cmd, sessionID, reference, userID, subtotal, discount, now)
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ID:        orderItemIDPrefix + s.newID(),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice,
		})
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		for _, item := range items {
			if err := s.orders.InsertItem(txCtx, item); err != nil {
				return s.mapRepositoryError(err)
			}
			if _, err := s.inventory.Deduct(txCtx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		if order.DiscountID != nil {
			if _, err := s.discounts.Apply(txCtx, DiscountApplyCommand{
				DiscountID: *order.DiscountID,
				UserID:     userID,
				SessionID:  &sessionID,
				OrderID:    &order.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.create.failed", map[string]any{
			"order":   order.ID,
			"session": sessionID,
			"error":   err.Error(),
		})
		return domain.Order{}, err
	}
	order.Items = items

	s.metrics.OrderCreated()
	s.notify(ctx, order, items)
	s.clearCart(ctx, sessionID)

	metadata := map[string]any{
		"total":    order.Total,
		"currency": order.Currency,
		"items":    len(items),
	}
	if order.DiscountID != nil {
		metadata["discountId"] = *order.DiscountID
	}
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		TrackingID:    order.TrackingID,
		CurrentStatus: order.Status,
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata:      metadata,
	})

	return order, nil
}

func (s *orderCreationService) resolveLines(ctx context.Context, sessionID string, explicit []OrderLine) ([]OrderLine, error) {
	if len(explicit) > 0 {
		lines := make([]OrderLine, 0, len(explicit))
		for i, line := range explicit {
			line.ProductID = strings.TrimSpace(line.ProductID)
			if line.ProductID == "" || line.Quantity <= 0 || line.UnitPrice < 0 {
				return nil, fmt.Errorf("%w: line %d requires a product id and a positive quantity", ErrOrderInvalidInput, i)
			}
			lines = append(lines, line)
		}
		return lines, nil
	}

	if s.carts == nil {
		return nil, fmt.Errorf("%w: order lines are required", ErrOrderInvalidInput)
	}
	cart, err := s.carts.GetCart(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("order: load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}
	lines := make([]OrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, OrderLine{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return lines, nil
}

// fillPrices snapshots the catalog price for lines that did not carry one.
func (s *orderCreationService) fillPrices(ctx context.Context, lines []OrderLine) ([]OrderLine, error) {
	var missing []string
	for _, line := range lines {
		if line.UnitPrice == 0 {
			missing = append(missing, line.ProductID)
		}
	}
	if len(missing) == 0 || s.products == nil {
		return lines, nil
	}
	products, err := s.products.FindByIDs(ctx, missing)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for i := range lines {
		if lines[i].UnitPrice == 0 {
			if product, ok := products[lines[i].ProductID]; ok {
				lines[i].UnitPrice = product.Price
			}
		}
	}
	return lines, nil
}

func (s *orderCreationService) buildOrder(cmd CreateOrderCommand, sessionID, reference string, userID *string, subtotal int64, discount *domain.DiscountValidationResult, now time.Time) domain.Order {
	total := cmd.Payment.Amount
	if total == 0 {
		total = subtotal
		if discount != nil {
			total = max(subtotal-discount.Amount, 0)
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Payment.Currency))
	if currency == "" {
		currency = s.currency
	}

	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		UserID:           userID,
		SessionID:        sessionID,
		Total:            total,
		Currency:         currency,
		Status:           domain.OrderStatusConfirmed,
		PaymentMethod:    strings.TrimSpace(cmd.Payment.Method),
		PaymentReference: reference,
		TrackingID:       s.nextTrackingID(),
		Timeline: []domain.TimelineEvent{{
			Status:  domain.TimelineStatus(domain.OrderStatusConfirmed),
			Message: "Order confirmed. Payment received",
			Date:    now,
		}},
		Contact:   normalizeContact(cmd.Contact),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if discount != nil && discount.Discount != nil {
		order.DiscountID = valuePtr(discount.Discount.ID)
	}
	return order
}

// nextTrackingID takes the random tail of a fresh identifier so tracking ids stay short.
func (s *orderCreationService) nextTrackingID() string {
	id := strings.ToUpper(s.newID())
	if len(id) > trackingIDLength {
		id = id[len(id)-trackingIDLength:]
	}
	return s.trackingPx + "-" + id
}

func (s *orderCreationService) notify(ctx context.Context, order domain.Order, items []domain.OrderItem) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderCreated(ctx, OrderNotification{
		Order:    order,
		Items:    items,
		Customer: order.Contact,
	}); err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderCreationService) clearCart(ctx context.Context, sessionID string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.ClearCart(ctx, sessionID); err != nil {
		s.logger(ctx, "order.cart.clear.failed", map[string]any{
			"session": sessionID,
			"error":   err.Error(),
		})
	}
}

func (s *orderCreationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func normalizeContact(contact *domain.OrderContact) *domain.OrderContact {
	if contact == nil {
		return nil
	}
	normalized := domain.OrderContact{
		Name:  strings.TrimSpace(contact.Name),
		Email: strings.ToLower(strings.TrimSpace(contact.Email)),
		Phone: strings.TrimSpace(contact.Phone),
	}
	if normalized == (domain.OrderContact{}) {
		return nil
	}
	return &normalized
}
