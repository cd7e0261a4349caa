package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stitchline/api/internal/platform/config"
	"github.com/stitchline/api/internal/repositories"
	"github.com/stitchline/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory services.InventoryService
	Pricing   services.PricingEngine
	Catalog   services.CatalogService
	Vouchers  services.VoucherService
	Orders    services.OrderService
	Checkout  services.CheckoutService
	Counters  services.CounterService
	System    services.SystemService
}

// Publishers carries the optional event publishers injected from main.
type Publishers struct {
	Orders services.OrderEventPublisher
	Stock  services.StockEventPublisher
}

// ContainerDeps carries cross-cutting dependencies that main owns.
type ContainerDeps struct {
	Publishers Publishers
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	catalogRepo := reg.Catalog()
	if catalogRepo == nil {
		return Services{}, errors.New("catalog repository is required")
	}
	voucherRepo := reg.Vouchers()
	if voucherRepo == nil {
		return Services{}, errors.New("voucher repository is required")
	}
	orderRepo := reg.Orders()
	if orderRepo == nil {
		return Services{}, errors.New("order repository is required")
	}
	counterRepo := reg.Counters()
	if counterRepo == nil {
		return Services{}, errors.New("counter repository is required")
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Catalog: catalogRepo,
		Events:  deps.Publishers.Stock,
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Vouchers: voucherRepo,
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: catalogRepo,
		Clock:   time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	if cfg.Features.EnableVouchers {
		voucherSvc, err := services.NewVoucherService(services.VoucherServiceDeps{
			Vouchers: voucherRepo,
			Clock:    time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build voucher service: %w", err)
		}
		svc.Vouchers = voucherSvc
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: counterRepo,
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Inventory: inventorySvc,
		Clock:     time.Now,
		Events:    deps.Publishers.Orders,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:   catalogRepo,
		Inventory: inventorySvc,
		Pricing:   pricing,
		Orders:    orderRepo,
		Counters:  counterSvc,
		Events:    deps.Publishers.Orders,
		Clock:     time.Now,
		Logger:    deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
