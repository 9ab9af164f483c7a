package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/repositories"
)

const (
	eventInventoryRestock  = "inventory.restock"
	eventInventorySetStock = "inventory.set_stock"
	eventInventoryShortage = "inventory.shortage"

	stockStageValidate = "validate"
	stockStageDeduct   = "deduct"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Metrics  MetricsRecorder
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	metrics  MetricsRecorder
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &inventoryService{
		products: deps.Products,
		metrics:  metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) ValidateAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return false, nil
		}
		return false, s.mapRepositoryError(err)
	}
	return product.StockQuantity >= quantity, nil
}

func (s *inventoryService) CheckAvailability(ctx context.Context, lines []StockLine) error {
	requested, err := aggregateStockLines(lines)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	var shortages []StockShortage
	for _, id := range ids {
		available := 0
		if product, ok := products[id]; ok {
			available = product.StockQuantity
		}
		if available < requested[id] {
			shortages = append(shortages, StockShortage{ProductID: id, Requested: requested[id], Available: available})
		}
	}
	if len(shortages) > 0 {
		s.metrics.StockConflict(stockStageValidate)
		s.logger(ctx, eventInventoryShortage, map[string]any{
			"stage":     stockStageValidate,
			"shortages": len(shortages),
		})
		return &InsufficientStockError{Shortages: shortages}
	}
	return nil
}

func (s *inventoryService) Deduct(ctx context.Context, productID string, quantity int) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return domain.Product{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	product, err := s.products.Deduct(ctx, productID, quantity)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrInsufficientStock) {
			s.metrics.StockConflict(stockStageDeduct)
		}
		return domain.Product{}, mapped
	}
	return product, nil
}

func (s *inventoryService) Restock(ctx context.Context, cmd StockAdjustmentCommand) (domain.Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return domain.Product{}, fmt.Errorf("%w: restock quantity must be positive", ErrInventoryInvalidInput)
	}

	product, err := s.products.Restock(ctx, productID, cmd.Quantity)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, eventInventoryRestock, map[string]any{
		"productId": productID,
		"quantity":  cmd.Quantity,
		"stock":     product.StockQuantity,
		"actor":     strings.TrimSpace(cmd.ActorID),
	})
	return product, nil
}

func (s *inventoryService) SetStock(ctx context.Context, cmd StockAdjustmentCommand) (domain.Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock quantity cannot be negative", ErrInventoryInvalidInput)
	}

	product, err := s.products.SetStock(ctx, productID, cmd.Quantity)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, eventInventorySetStock, map[string]any{
		"productId": productID,
		"stock":     product.StockQuantity,
		"actor":     strings.TrimSpace(cmd.ActorID),
	})
	return product, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{Shortages: []StockShortage{{
				ProductID: invErr.ProductID,
				Requested: invErr.Requested,
				Available: invErr.Available,
			}}}
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryNotFound, invErr.ProductID)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
	}
	return err
}

func aggregateStockLines(lines []StockLine) (map[string]int, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	requested := make(map[string]int, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line %d product id is required", ErrInventoryInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInventoryInvalidInput, i)
		}
		requested[id] += line.Quantity
	}
	return requested, nil
}
