package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hanko-field/fulfillment/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes one message per order keyed by order id, so all messages for an
// order land on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaNotifier builds a writer for the topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	cleaned := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("notify: kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("notify: kafka topic is required")
	}
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(cleaned...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}), nil
}

func newKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

// NotifyOrderCreated implements services.AdminNotifier.
func (n *KafkaNotifier) NotifyOrderCreated(ctx context.Context, notification services.OrderNotification) error {
	if notification.Order.ID == "" {
		return errors.New("notify: order id is required")
	}
	data, err := json.Marshal(newOrderCreatedMessage(notification))
	if err != nil {
		return fmt.Errorf("notify: marshal order: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(notification.Order.ID),
		Value:   data,
		Time:    n.now().UTC(),
		Headers: []kafka.Header{{Key: "event", Value: []byte("order.created")}},
	})
	if err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
