package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/repositories"
	"github.com/hanko-field/fulfillment/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory     services.InventoryService
	Discounts     services.DiscountService
	Orders        services.OrderService
	OrderCreation services.OrderCreationService
	System        services.SystemService
}

// Infrastructure carries the outbound adapters shared by services. Nil members fall back to
// the services' no-op defaults.
type Infrastructure struct {
	Events   services.OrderEventPublisher
	Notifier services.AdminNotifier
	Metrics  services.MetricsRecorder
	Logger   *zap.Logger
	Build    services.BuildInfo
	Clock    func() time.Time
	// OptionalHealthChecks lists readiness checks that only degrade the report.
	OptionalHealthChecks []string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies from a repository registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(name), zapcore.InfoLevel)
	}

	var svc Services

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Metrics:  infra.Metrics,
		Clock:    clock,
		Logger:   eventLogger("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		Discounts:  reg.Discounts(),
		UnitOfWork: reg,
		Metrics:    infra.Metrics,
		Clock:      clock,
		Logger:     eventLogger("discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:            reg.Orders(),
		Products:          reg.Products(),
		UnitOfWork:        reg,
		Events:            infra.Events,
		Metrics:           infra.Metrics,
		Clock:             clock,
		Logger:            eventLogger("orders"),
		RestockOnCancel:   cfg.Features.RestockOnCancel,
		ShippedLocation:   cfg.Fulfillment.ShippedLocation,
		DeliveredLocation: cfg.Fulfillment.DeliveredLocation,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	creationSvc, err := services.NewOrderCreationService(services.OrderCreationServiceDeps{
		Orders:          reg.Orders(),
		Products:        reg.Products(),
		Carts:           reg.Carts(),
		Inventory:       svc.Inventory,
		Discounts:       svc.Discounts,
		UnitOfWork:      reg,
		Notifier:        infra.Notifier,
		Events:          infra.Events,
		Metrics:         infra.Metrics,
		Clock:           clock,
		Logger:          eventLogger("order-creation"),
		DefaultCurrency: cfg.Fulfillment.DefaultCurrency,
		TrackingPrefix:  cfg.Fulfillment.TrackingPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order creation service: %w", err)
	}
	svc.OrderCreation = creationSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
			OptionalChecks:   infra.OptionalHealthChecks,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
