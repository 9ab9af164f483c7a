package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hanko-field/fulfillment/internal/services"
)

const defaultAMQPExchangeType = "topic"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotifier publishes persistent JSON messages to a RabbitMQ exchange.
type AMQPNotifier struct {
	conn       *amqp.Connection
	channel    amqpChannel
	exchange   string
	routingKey string
	now        func() time.Time
}

// DialAMQP connects, declares the durable topic exchange and returns a notifier.
func DialAMQP(ctx context.Context, url, exchange, routingKey string) (*AMQPNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("notify: amqp url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("notify: amqp exchange is required")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, defaultAMQPExchangeType, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}
	n := newAMQPNotifier(ch, exchange, routingKey)
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch amqpChannel, exchange, routingKey string) *AMQPNotifier {
	if strings.TrimSpace(routingKey) == "" {
		routingKey = "orders.created"
	}
	return &AMQPNotifier{channel: ch, exchange: exchange, routingKey: routingKey, now: time.Now}
}

// NotifyOrderCreated implements services.AdminNotifier.
func (n *AMQPNotifier) NotifyOrderCreated(ctx context.Context, notification services.OrderNotification) error {
	if notification.Order.ID == "" {
		return errors.New("notify: order id is required")
	}
	body, err := json.Marshal(newOrderCreatedMessage(notification))
	if err != nil {
		return fmt.Errorf("notify: marshal order: %w", err)
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    notification.Order.ID,
		Timestamp:    n.now().UTC(),
		Type:         "order.created",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: amqp publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (n *AMQPNotifier) Close() error {
	err := n.channel.Close()
	if n.conn != nil {
		err = errors.Join(err, n.conn.Close())
	}
	return err
}
