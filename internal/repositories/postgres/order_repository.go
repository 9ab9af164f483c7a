package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	pg "github.com/hanko-field/fulfillment/internal/platform/postgres"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const orderColumns = `id, user_id, session_id, total, currency, status, payment_method, payment_reference,
	discount_id, tracking_id, status_timeline, cancellation_reason, delivered_at,
	cancellation_requested_at, cancellation_request_reason, cancellation_approved_by,
	cancellation_approved_at, cancellation_rejected_at, cancellation_rejection_reason,
	customer_name, customer_email, customer_phone, version, created_at, updated_at`

// OrderRepository implements repositories.OrderRepository on PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository: pool is required")
	}
	return &OrderRepository{pool: pool}, nil
}

type timelineRecord struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Date     time.Time `json:"date"`
	Location *string   `json:"location,omitempty"`
}

func encodeTimeline(events []domain.TimelineEvent) ([]byte, error) {
	records := make([]timelineRecord, 0, len(events))
	for _, event := range events {
		records = append(records, timelineRecord{
			Status:   string(event.Status),
			Message:  event.Message,
			Date:     event.Date.UTC(),
			Location: event.Location,
		})
	}
	return json.Marshal(records)
}

func decodeTimeline(raw []byte) ([]domain.TimelineEvent, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []timelineRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode status timeline: %w", err)
	}
	events := make([]domain.TimelineEvent, 0, len(records))
	for _, record := range records {
		events = append(events, domain.TimelineEvent{
			Status:   domain.TimelineStatus(record.Status),
			Message:  record.Message,
			Date:     record.Date.UTC(),
			Location: record.Location,
		})
	}
	return events, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	timeline, err := encodeTimeline(order.Timeline)
	if err != nil {
		return pg.WrapError(op, err)
	}
	contact := order.Contact
	if contact == nil {
		contact = &domain.OrderContact{}
	}
	version := order.Version
	if version <= 0 {
		version = 1
	}

	_, err = pg.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		order.ID, order.UserID, order.SessionID, order.Total, order.Currency, string(order.Status),
		order.PaymentMethod, order.PaymentReference, order.DiscountID, order.TrackingID, timeline,
		order.CancellationReason, order.DeliveredAt,
		order.Cancellation.RequestedAt, nullString(order.Cancellation.Reason), order.Cancellation.ApprovedBy,
		order.Cancellation.ApprovedAt, order.Cancellation.RejectedAt, order.Cancellation.RejectionReason,
		nullString(contact.Name), nullString(contact.Email), nullString(contact.Phone),
		version, order.CreatedAt, order.UpdatedAt,
	)
	return pg.WrapError(op, err)
}

func (r *OrderRepository) InsertItem(ctx context.Context, item domain.OrderItem) error {
	_, err := pg.Conn(ctx, r.pool).Exec(ctx,
		`INSERT INTO order_items (id, order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price)
	return pg.WrapError("orders.insert_item", err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int) error {
	const op = "orders.update"
	timeline, err := encodeTimeline(order.Timeline)
	if err != nil {
		return pg.WrapError(op, err)
	}

	tag, err := pg.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE orders SET
			status = $2,
			status_timeline = $3,
			cancellation_reason = $4,
			delivered_at = $5,
			cancellation_requested_at = $6,
			cancellation_request_reason = $7,
			cancellation_approved_by = $8,
			cancellation_approved_at = $9,
			cancellation_rejected_at = $10,
			cancellation_rejection_reason = $11,
			updated_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $13`,
		order.ID, string(order.Status), timeline, order.CancellationReason, order.DeliveredAt,
		order.Cancellation.RequestedAt, nullString(order.Cancellation.Reason), order.Cancellation.ApprovedBy,
		order.Cancellation.ApprovedAt, order.Cancellation.RejectedAt, order.Cancellation.RejectionReason,
		order.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return pg.WrapError(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := pg.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return pg.WrapError(op, err)
	}
	if !exists {
		return pg.NotFound(op, fmt.Sprintf("order %s not found", order.ID))
	}
	return pg.Conflict(op, fmt.Sprintf("order %s was modified concurrently", order.ID))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "orders.find"
	conn := pg.Conn(ctx, r.pool)

	order, err := scanOrder(conn.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return domain.Order{}, pg.WrapError(op, err)
	}

	rows, err := conn.Query(ctx, `SELECT id, order_id, product_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return domain.Order{}, pg.WrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return domain.Order{}, pg.WrapError(op, err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, pg.WrapError(op, err)
	}
	return order, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	const op = "orders.delete"
	conn := pg.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return pg.WrapError(op, err)
	}
	tag, err := conn.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return pg.WrapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFound(op, fmt.Sprintf("order %s not found", orderID))
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		timeline      []byte
		requestReason *string
		name, email   *string
		phone         *string
		createdAt     time.Time
		updatedAt     time.Time
	)
	err := row.Scan(
		&order.ID, &order.UserID, &order.SessionID, &order.Total, &order.Currency, &status,
		&order.PaymentMethod, &order.PaymentReference, &order.DiscountID, &order.TrackingID, &timeline,
		&order.CancellationReason, &order.DeliveredAt,
		&order.Cancellation.RequestedAt, &requestReason, &order.Cancellation.ApprovedBy,
		&order.Cancellation.ApprovedAt, &order.Cancellation.RejectedAt, &order.Cancellation.RejectionReason,
		&name, &email, &phone, &order.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.CreatedAt = createdAt.UTC()
	order.UpdatedAt = updatedAt.UTC()
	if requestReason != nil {
		order.Cancellation.Reason = *requestReason
	}
	if name != nil || email != nil || phone != nil {
		order.Contact = &domain.OrderContact{Name: deref(name), Email: deref(email), Phone: deref(phone)}
	}
	if order.Timeline, err = decodeTimeline(timeline); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func nullString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
