package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/fulfillment/internal/domain"
)

func newTestInventory(t *testing.T, store *memStore, metrics MetricsRecorder) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{Products: memProducts{store}, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestNewInventoryServiceRequiresRepository(t *testing.T) {
	if _, err := NewInventoryService(InventoryServiceDeps{}); err == nil {
		t.Fatal("expected error when product repository is missing")
	}
}

func TestInventoryValidateAvailability(t *testing.T) {
	store := newMemStore()
	store.products["prod-1"] = domain.Product{ID: "prod-1", StockQuantity: 3}
	svc := newTestInventory(t, store, nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		product  string
		quantity int
		want     bool
	}{
		{"enough stock", "prod-1", 3, true},
		{"short", "prod-1", 4, false},
		{"unknown product", "prod-x", 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.ValidateAvailability(ctx, tc.product, tc.quantity)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, err := svc.ValidateAvailability(ctx, "prod-1", 0); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
}

func TestInventoryCheckAvailabilityAggregatesShortages(t *testing.T) {
	store := newMemStore()
	store.products["prod-a"] = domain.Product{ID: "prod-a", StockQuantity: 3}
	store.products["prod-b"] = domain.Product{ID: "prod-b", StockQuantity: 1}
	metrics := &countingMetrics{}
	svc := newTestInventory(t, store, metrics)

	err := svc.CheckAvailability(context.Background(), []StockLine{
		{ProductID: "prod-a", Quantity: 2},
		{ProductID: "prod-b", Quantity: 1},
		{ProductID: "prod-a", Quantity: 2},
		{ProductID: "prod-c", Quantity: 1},
	})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected error to unwrap to ErrInsufficientStock")
	}
	if len(stockErr.Shortages) != 2 {
		t.Fatalf("expected 2 shortages, got %+v", stockErr.Shortages)
	}
	if got := stockErr.Shortages[0]; got.ProductID != "prod-a" || got.Requested != 4 || got.Available != 3 {
		t.Fatalf("unexpected shortage for prod-a: %+v", got)
	}
	if got := stockErr.Shortages[1]; got.ProductID != "prod-c" || got.Available != 0 {
		t.Fatalf("unexpected shortage for prod-c: %+v", got)
	}
	if metrics.get("stock_conflict:validate") != 1 {
		t.Fatalf("expected validate stock conflict to be counted")
	}
}

func TestInventoryDeductNeverGoesNegative(t *testing.T) {
	store := newMemStore()
	store.products["prod-1"] = domain.Product{ID: "prod-1", StockQuantity: 2}
	metrics := &countingMetrics{}
	svc := newTestInventory(t, store, metrics)
	ctx := context.Background()

	product, err := svc.Deduct(ctx, "prod-1", 2)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if product.StockQuantity != 0 {
		t.Fatalf("expected stock 0, got %d", product.StockQuantity)
	}

	_, err = svc.Deduct(ctx, "prod-1", 1)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Shortages[0].Available != 0 {
		t.Fatalf("expected insufficient stock with available 0, got %v", err)
	}
	if store.FindProduct("prod-1").StockQuantity != 0 {
		t.Fatalf("stock changed after failed deduct")
	}
	if metrics.get("stock_conflict:deduct") != 1 {
		t.Fatalf("expected deduct stock conflict to be counted")
	}

	if _, err := svc.Deduct(ctx, "missing", 1); !errors.Is(err, ErrInventoryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInventoryRestockAndSetStock(t *testing.T) {
	store := newMemStore()
	store.products["prod-1"] = domain.Product{ID: "prod-1", StockQuantity: 2}
	svc := newTestInventory(t, store, nil)
	ctx := context.Background()

	product, err := svc.Restock(ctx, StockAdjustmentCommand{ProductID: "prod-1", Quantity: 5, ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if product.StockQuantity != 7 {
		t.Fatalf("expected stock 7, got %d", product.StockQuantity)
	}
	if _, err := svc.Restock(ctx, StockAdjustmentCommand{ProductID: "prod-1", Quantity: 0}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero restock, got %v", err)
	}

	product, err = svc.SetStock(ctx, StockAdjustmentCommand{ProductID: "prod-1", Quantity: 0})
	if err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if product.StockQuantity != 0 {
		t.Fatalf("expected stock 0, got %d", product.StockQuantity)
	}
	if _, err := svc.SetStock(ctx, StockAdjustmentCommand{ProductID: "prod-1", Quantity: -1}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for negative stock, got %v", err)
	}
	if _, err := svc.GetProduct(ctx, "nope"); !errors.Is(err, ErrInventoryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
