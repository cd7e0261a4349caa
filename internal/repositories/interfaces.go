package repositories

import (
	"context"
	"time"

	domain "github.com/stitchline/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Vouchers() VoucherRepository
	Orders() OrderRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository owns product documents, their per-size stock counters, and
// the stock reservation ledger. Reserve and Release run as single transactions
// spanning every line so concurrent orders never drive stock negative.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	Reserve(ctx context.Context, req CatalogReserveRequest) (CatalogReserveResult, error)
	Release(ctx context.Context, req CatalogReleaseRequest) (CatalogReleaseResult, error)
	GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error)
}

// CatalogReserveRequest encapsulates the reservation to create and the clock reading.
type CatalogReserveRequest struct {
	Reservation domain.StockReservation
	Now         time.Time
}

// CatalogReserveResult returns the saved reservation and the updated products it touched.
type CatalogReserveResult struct {
	Reservation domain.StockReservation
	Products    map[string]domain.Product
}

// CatalogReleaseRequest restores reserved stock back to availability.
type CatalogReleaseRequest struct {
	ReservationID string
	Reason        string
	Now           time.Time
}

// CatalogReleaseResult reports the reservation and products after release.
type CatalogReleaseResult struct {
	Reservation domain.StockReservation
	Products    map[string]domain.Product
}

// VoucherRepository resolves voucher definitions. Read-only from the order core.
type VoucherRepository interface {
	FindByID(ctx context.Context, voucherID string) (domain.Voucher, error)
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
}

// OrderRepository persists order records. Orders are append-only except for
// the status and payment-result fields mutated through UpdateStatus.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, req OrderStatusUpdate) (domain.Order, error)
}

// OrderStatusUpdate carries a guarded status mutation. ExpectedStatus, when
// set, is the optimistic precondition; a mismatch at write time surfaces as a
// conflict RepositoryError.
type OrderStatusUpdate struct {
	OrderID        string
	ExpectedStatus *domain.OrderStatus
	Status         domain.OrderStatus
	PaymentResult  *domain.PaymentResult
	CancelReason   *string
	Now            time.Time
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
