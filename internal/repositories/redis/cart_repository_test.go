package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestCartRepositoryRoundTrip(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo, err := NewCartRepository(client, WithCartKeyPrefix("test:cart:"), WithCartTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}

	ctx := context.Background()
	user := "user-1"
	cart := domain.Cart{
		SessionID: "sess-1",
		UserID:    &user,
		Items: []domain.CartItem{
			{ProductID: "prod-1", Quantity: 2, UnitPrice: 1500},
			{ProductID: "prod-2", Quantity: 1, UnitPrice: 990},
		},
		UpdatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveCart(ctx, cart); err != nil {
		t.Fatalf("SaveCart: %v", err)
	}
	if !mr.Exists("test:cart:sess-1") {
		t.Fatalf("expected cart key to be written")
	}
	if ttl := mr.TTL("test:cart:sess-1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %s", ttl)
	}

	got, err := repo.GetCart(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if got.UserID == nil || *got.UserID != user {
		t.Fatalf("expected user id %s, got %v", user, got.UserID)
	}
	if len(got.Items) != 2 || got.Items[0].ProductID != "prod-1" || got.Items[0].Quantity != 2 || got.Items[1].UnitPrice != 990 {
		t.Fatalf("unexpected items %+v", got.Items)
	}

	if err := repo.ClearCart(ctx, "sess-1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if mr.Exists("test:cart:sess-1") {
		t.Fatalf("expected cart key to be deleted")
	}
}

func TestCartRepositoryMissingCartIsEmpty(t *testing.T) {
	_, client := setupTestRedis(t)
	repo, _ := NewCartRepository(client)

	cart, err := repo.GetCart(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.SessionID != "unknown" || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestCartRepositoryUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	repo, _ := NewCartRepository(client)
	mr.Close()

	_, err = repo.GetCart(context.Background(), "sess-1")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsUnavailable() {
		t.Fatalf("expected unavailable repository error, got %v", err)
	}
}
