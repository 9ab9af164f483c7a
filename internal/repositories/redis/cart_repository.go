package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const defaultCartKeyPrefix = "cart:"

// Error implements repositories.RepositoryError for Redis backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	unavailable bool
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *Error) Unwrap() error { return e.err }

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return false }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, goredis.Nil) {
		return &Error{op: op, err: err, notFound: true}
	}
	return &Error{op: op, err: err, unavailable: true}
}

// CartOption customises the cart repository.
type CartOption func(*CartRepository)

// WithCartKeyPrefix sets the key namespace for carts.
func WithCartKeyPrefix(prefix string) CartOption {
	return func(r *CartRepository) {
		if strings.TrimSpace(prefix) != "" {
			r.prefix = prefix
		}
	}
}

// WithCartTTL expires carts after the given idle duration. Zero keeps carts until cleared.
func WithCartTTL(ttl time.Duration) CartOption {
	return func(r *CartRepository) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// CartRepository stores session carts as JSON documents keyed by session id.
type CartRepository struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Redis cart provider.
func NewCartRepository(client goredis.UniversalClient, opts ...CartOption) (*CartRepository, error) {
	if client == nil {
		return nil, errors.New("cart repository: redis client is required")
	}
	repo := &CartRepository{client: client, prefix: defaultCartKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

type cartDocument struct {
	SessionID string             `json:"session_id"`
	UserID    *string            `json:"user_id,omitempty"`
	Items     []cartItemDocument `json:"items"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type cartItemDocument struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

func (r *CartRepository) key(sessionID string) string {
	return r.prefix + sessionID
}

// GetCart returns the cart for the session. A missing cart yields an empty cart, not an error.
func (r *CartRepository) GetCart(ctx context.Context, sessionID string) (domain.Cart, error) {
	raw, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Cart{SessionID: sessionID}, nil
	}
	if err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}

	var doc cartDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Cart{}, &Error{op: "carts.get", err: fmt.Errorf("decode cart: %w", err)}
	}
	cart := domain.Cart{SessionID: sessionID, UserID: doc.UserID, UpdatedAt: doc.UpdatedAt}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return cart, nil
}

func (r *CartRepository) SaveCart(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.SessionID) == "" {
		return errors.New("cart repository: session id is required")
	}
	doc := cartDocument{
		SessionID: cart.SessionID,
		UserID:    cart.UserID,
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cart repository: encode cart: %w", err)
	}
	return wrapError("carts.save", r.client.Set(ctx, r.key(cart.SessionID), payload, r.ttl).Err())
}

func (r *CartRepository) ClearCart(ctx context.Context, sessionID string) error {
	return wrapError("carts.clear", r.client.Del(ctx, r.key(sessionID)).Err())
}

// HealthCheck returns a dependency probe suitable for readiness checks.
func HealthCheck(client goredis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis: client not configured")
		}
		return client.Ping(ctx).Err()
	}
}
