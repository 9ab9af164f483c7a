// Package notify delivers "new order" notifications to the admin channel over Kafka or
// RabbitMQ, or to the log when no broker is configured.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/services"
)

// orderCreatedMessage is the JSON document published for every new order.
type orderCreatedMessage struct {
	Event      string              `json:"event"`
	OrderID    string              `json:"order_id"`
	TrackingID string              `json:"tracking_id"`
	Status     string              `json:"status"`
	Total      int64               `json:"total"`
	Currency   string              `json:"currency"`
	Items      []orderItemMessage  `json:"items"`
	Customer   *orderCustomerEntry `json:"customer,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

type orderItemMessage struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type orderCustomerEntry struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

func newOrderCreatedMessage(n services.OrderNotification) orderCreatedMessage {
	msg := orderCreatedMessage{
		Event:      "order.created",
		OrderID:    n.Order.ID,
		TrackingID: n.Order.TrackingID,
		Status:     string(n.Order.Status),
		Total:      n.Order.Total,
		Currency:   n.Order.Currency,
		Items:      make([]orderItemMessage, 0, len(n.Items)),
		CreatedAt:  n.Order.CreatedAt.UTC(),
	}
	for _, item := range n.Items {
		msg.Items = append(msg.Items, orderItemMessage{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.Price})
	}
	if n.Customer != nil {
		msg.Customer = &orderCustomerEntry{Name: n.Customer.Name, Email: n.Customer.Email, Phone: n.Customer.Phone}
	}
	return msg
}

// Notifier is an AdminNotifier that owns broker resources.
type Notifier interface {
	services.AdminNotifier
	Close() error
}

// Open builds the notifier selected by cfg.Driver.
func Open(ctx context.Context, cfg config.NotificationConfig, logger *zap.Logger) (Notifier, error) {
	switch cfg.Driver {
	case config.NotificationDriverKafka:
		return NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
	case config.NotificationDriverAMQP:
		return DialAMQP(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	case config.NotificationDriverLog, "":
		return NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// NotifyOrderCreated implements services.AdminNotifier.
func (n *LogNotifier) NotifyOrderCreated(_ context.Context, notification services.OrderNotification) error {
	if notification.Order.ID == "" {
		return errors.New("notify: order id is required")
	}
	msg := newOrderCreatedMessage(notification)
	n.logger.Info("new order",
		zap.String("order_id", msg.OrderID),
		zap.String("tracking_id", msg.TrackingID),
		zap.Int64("total", msg.Total),
		zap.String("currency", msg.Currency),
		zap.Int("items", len(msg.Items)),
	)
	return nil
}

// Close implements Notifier.
func (n *LogNotifier) Close() error { return nil }
