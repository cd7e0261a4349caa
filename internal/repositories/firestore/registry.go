package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/stitchline/api/internal/platform/firestore"
	"github.com/stitchline/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract so the container wires one dependency.
type Registry struct {
	provider *pfirestore.Provider

	catalog  *CatalogRepository
	vouchers *VoucherRepository
	orders   *OrderRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository overrides the dependency health repository. When
// omitted the registry probes Firestore connectivity only.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		if health != nil {
			r.health = health
		}
	}
}

// NewRegistry constructs every Firestore repository against a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	vouchers, err := NewVoucherRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider: provider,
		catalog:  catalog,
		vouchers: vouchers,
		orders:   orders,
		counters: counters,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}

	if registry.health == nil {
		health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{
				Name: "firestore",
				Check: func(ctx context.Context) error {
					_, err := provider.Client(ctx)
					return err
				},
			},
		})
		if err != nil {
			return nil, err
		}
		registry.health = health
	}

	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Catalog returns the product and reservation repository.
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

// Vouchers returns the voucher repository.
func (r *Registry) Vouchers() repositories.VoucherRepository { return r.vouchers }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}
