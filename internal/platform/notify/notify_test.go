package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/services"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func sampleNotification() services.OrderNotification {
	return services.OrderNotification{
		Order: domain.Order{
			ID:         "ord_1",
			TrackingID: "TRK-ABCDEFGHIJ",
			Status:     domain.OrderStatusConfirmed,
			Total:      2400,
			Currency:   "USD",
			CreatedAt:  fixedNow,
		},
		Items:    []domain.OrderItem{{ProductID: "prod-1", Quantity: 2, Price: 1200}},
		Customer: &domain.OrderContact{Name: "Aki", Email: "aki@example.com"},
	}
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaNotifierWritesKeyedMessage(t *testing.T) {
	writer := &fakeWriter{}
	notifier := newKafkaNotifier(writer)
	notifier.now = func() time.Time { return fixedNow }

	if err := notifier.NotifyOrderCreated(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("NotifyOrderCreated: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_1" {
		t.Fatalf("expected order id key, got %q", msg.Key)
	}
	var payload orderCreatedMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TrackingID != "TRK-ABCDEFGHIJ" || len(payload.Items) != 1 || payload.Customer == nil || payload.Customer.Email != "aki@example.com" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if err := notifier.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to close, err=%v", err)
	}
}

func TestKafkaNotifierWrapsWriteError(t *testing.T) {
	notifier := newKafkaNotifier(&fakeWriter{err: errors.New("leader not available")})
	if err := notifier.NotifyOrderCreated(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewKafkaNotifierValidatesConfig(t *testing.T) {
	if _, err := NewKafkaNotifier([]string{" "}, "orders"); err == nil {
		t.Fatal("expected brokers error")
	}
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, ""); err == nil {
		t.Fatal("expected topic error")
	}
	n, err := NewKafkaNotifier([]string{"localhost:9092"}, "orders.created")
	if err != nil {
		t.Fatalf("NewKafkaNotifier: %v", err)
	}
	_ = n.Close()
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPNotifierPublishesPersistentMessage(t *testing.T) {
	ch := &fakeChannel{}
	notifier := newAMQPNotifier(ch, "orders", "")
	notifier.now = func() time.Time { return fixedNow }

	if err := notifier.NotifyOrderCreated(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("NotifyOrderCreated: %v", err)
	}
	if ch.exchange != "orders" || ch.key != "orders.created" {
		t.Fatalf("unexpected routing %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.ContentType != "application/json" || ch.msg.MessageId != "ord_1" {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}
	if err := notifier.Close(); err != nil || !ch.closed {
		t.Fatalf("expected channel to close, err=%v", err)
	}
}

func TestLogNotifierAndOpen(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	notifier, err := Open(context.Background(), config.NotificationConfig{Driver: config.NotificationDriverLog}, zap.New(core))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := notifier.NotifyOrderCreated(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("NotifyOrderCreated: %v", err)
	}
	if logs.FilterMessage("new order").Len() != 1 {
		t.Fatalf("expected notification to be logged")
	}
	if err := notifier.NotifyOrderCreated(context.Background(), services.OrderNotification{}); err == nil {
		t.Fatal("expected error for empty order")
	}

	if _, err := Open(context.Background(), config.NotificationConfig{Driver: "sms"}, nil); err == nil {
		t.Fatal("expected unknown driver error")
	}
}
