package services

import (
	"context"
	"time"

	domain "github.com/stitchline/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentMethod      = domain.PaymentMethod
	PaymentResult      = domain.PaymentResult
	Address            = domain.Address
	Product            = domain.Product
	InventoryEntry     = domain.InventoryEntry
	Voucher            = domain.Voucher
	Quote              = domain.Quote
	StockReservation   = domain.StockReservation
	ReservationLine    = domain.ReservationLine
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the authenticated principal performing an operation.
// Admin is true when the caller holds the elevated staff role.
type Actor struct {
	ID    string
	Admin bool
}

// StockLine addresses one per-size stock counter and the quantity requested
// against it.
type StockLine struct {
	ProductID string
	Size      string
	Quantity  int
}

// ReserveStockCommand requests an all-or-nothing reservation across every
// line. Lines for the same product and size are aggregated before the
// decrement is applied.
type ReserveStockCommand struct {
	ReservationID string
	OrderRef      string
	UserRef       string
	Lines         []StockLine
}

// ReleaseStockCommand returns a reservation's quantities to stock. Releasing
// an already-released reservation is a no-op.
type ReleaseStockCommand struct {
	ReservationID string
	Reason        string
}

// InventoryService guards the per-size stock counters. Reserve either
// decrements every requested counter or leaves all of them untouched.
type InventoryService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error)
	Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error)
	GetReservation(ctx context.Context, reservationID string) (StockReservation, error)
}

// QuoteCommand carries the inputs for pricing one prospective order.
type QuoteCommand struct {
	Items         []OrderItem
	ShippingPrice int64
	VoucherID     *string
}

// PricingEngine computes order totals. Quote never mutates state and is
// deterministic for a fixed clock.
type PricingEngine interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// CatalogService exposes read access to the product catalog.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// VoucherService resolves vouchers for lookup surfaces. Redemption windows
// are enforced by the pricing engine, not here.
type VoucherService interface {
	GetByID(ctx context.Context, voucherID string) (Voucher, error)
	GetByCode(ctx context.Context, code string) (Voucher, error)
}

// GetOrderQuery fetches one order on behalf of an actor. Non-admin callers
// may only read their own orders.
type GetOrderQuery struct {
	OrderID string
	Actor   Actor
}

// AcceptOrderCommand moves a new order into processing. Admin only.
type AcceptOrderCommand struct {
	OrderID string
	Actor   Actor
}

// CancelOrderCommand fails an order. The owner may cancel while the order is
// still new; admins may also force-fail an order in processing. Restock opts
// in to releasing the order's stock reservation as part of the cancel.
type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
	Restock bool
}

// CompleteOrderCommand finishes a processing order. Admin only, and the
// order must be cash-on-delivery or have a confirmed payment capture.
type CompleteOrderCommand struct {
	OrderID string
	Actor   Actor
}

// RecordPaymentCaptureCommand applies an externally verified payment capture
// result to an order. It carries no actor: callers are trusted transport
// surfaces that have already authenticated the payment provider.
type RecordPaymentCaptureCommand struct {
	OrderID    string
	CaptureID  string
	Paid       bool
	Email      string
	CapturedAt time.Time
}

// OrderService owns the order lifecycle state machine. Every transition runs
// under an expected-status precondition so concurrent writers cannot both
// win.
type OrderService interface {
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	Accept(ctx context.Context, cmd AcceptOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
	RecordPaymentCapture(ctx context.Context, cmd RecordPaymentCaptureCommand) (Order, error)
}

// PlaceOrderItem is one requested line of a new order, addressed by product
// and size.
type PlaceOrderItem struct {
	ProductID string
	Size      string
	Quantity  int
}

// PlaceOrderCommand carries everything needed to create an order. For PayPal
// orders PaymentCaptureID must reference an already-captured payment.
type PlaceOrderCommand struct {
	UserID           string
	Items            []PlaceOrderItem
	ShippingAddress  Address
	ShippingPrice    int64
	PaymentMethod    PaymentMethod
	PaymentCaptureID string
	PayerEmail       string
	VoucherID        *string
}

// CheckoutService orchestrates order creation: reserve stock, price the
// order, then persist it, compensating the reservation on any failure.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// CounterGenerationOptions controls how counter values are incremented and
// formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue is the outcome of advancing a counter once.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterService manages monotonic sequences such as order numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes operational utilities such as dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEvent describes an order lifecycle change for downstream consumers.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserRef        string
	Status         string
	PreviousStatus string
	OccurredAt     time.Time
}

// Order event types published on lifecycle changes.
const (
	OrderEventCreated         = "order.created"
	OrderEventStatusChanged   = "order.status_changed"
	OrderEventPaymentRecorded = "order.payment_recorded"
)

// OrderEventPublisher delivers order lifecycle events. Publish failures are
// logged by callers and never fail the triggering operation.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// StockEvent describes a reservation-level stock movement.
type StockEvent struct {
	Type          string
	ReservationID string
	OrderRef      string
	Reason        string
	Lines         []StockLine
	OccurredAt    time.Time
}

// Stock event types published on reservation changes.
const (
	StockEventReserved = "stock.reserved"
	StockEventReleased = "stock.released"
)

// StockEventPublisher delivers stock movement events. Publish failures are
// logged by callers and never fail the triggering operation.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) (string, error)
}
