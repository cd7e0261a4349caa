package domain

import "time"

// OrderStatus enumerates lifecycle states for an order.
type OrderStatus string

const (
	OrderStatusNew        OrderStatus = "new"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDone       OrderStatus = "done"
	OrderStatusFail       OrderStatus = "fail"
)

// IsTerminal reports whether no further transition is permitted from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDone || s == OrderStatusFail
}

// PaymentMethod enumerates supported payment options.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "COD"
	PaymentMethodPayPal PaymentMethod = "PayPal"
)

// PaymentResult records the externally verified capture state for online payments.
// The core only consumes this value; it never calls a payment provider itself.
// Orders carry a nil PaymentResult until a capture has been recorded.
type PaymentResult struct {
	CaptureID  string
	Paid       bool
	UpdateTime time.Time
	Email      string
}

// Address is the structured shipping destination. Every field is required.
type Address struct {
	FullName string
	Phone    string
	Line1    string
	City     string
	District string
	Ward     string
}

// OrderItem is one line of an order. UnitPrice is a snapshot of the product
// price at creation time and never changes afterwards.
type OrderItem struct {
	ProductRef string
	SKU        string
	Name       string
	Size       string
	Quantity   int
	UnitPrice  int64
}

// Subtotal returns the line subtotal.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Order is the root entity persisted by the order ledger. Created once by the
// placement flow; afterwards only status and payment result fields change,
// and only through guarded transitions. Orders are never hard-deleted.
type Order struct {
	ID              string
	Number          string
	UserRef         string
	Items           []OrderItem
	ShippingPrice   int64
	TotalPrice      int64
	Status          OrderStatus
	PaymentMethod   PaymentMethod
	PaymentResult   *PaymentResult
	ShippingAddress Address
	VoucherRef      *string
	ReservationRef  *string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DoneAt          *time.Time
	FailedAt        *time.Time
}

// InventoryEntry tracks per-size availability of a product. Stock never drops
// below zero; SoldAmount only grows except when a reservation is released.
type InventoryEntry struct {
	Size       string
	Stock      int
	SoldAmount int
}

// Product is catalog data referenced by orders. Orders hold the ID only;
// deleting a product does not cascade into existing orders.
type Product struct {
	ID              string
	SKU             string
	Name            string
	Price           int64
	DiscountPercent int
	Inventory       []InventoryEntry
	CategoryRef     string
	Visible         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockFor returns the inventory entry for a size, if present.
func (p Product) StockFor(size string) (InventoryEntry, bool) {
	for _, entry := range p.Inventory {
		if entry.Size == size {
			return entry, true
		}
	}
	return InventoryEntry{}, false
}

// Voucher is a time-bounded flat discount applied once at order creation.
// Read-only from the order core.
type Voucher struct {
	ID        string
	Code      string
	Discount  int64
	StartsAt  time.Time
	ExpiresAt time.Time
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationStatus enumerates lifecycle states for a stock reservation.
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusReleased ReservationStatus = "released"
)

// ReservationLine is one (product, size) quantity inside a reservation.
type ReservationLine struct {
	ProductRef string
	SKU        string
	Size       string
	Quantity   int
}

// StockReservation is the audit record of an all-or-nothing stock decrement
// backing a pending order. Releasing it restores stock explicitly.
type StockReservation struct {
	ID         string
	OrderRef   string
	UserRef    string
	Status     ReservationStatus
	Lines      []ReservationLine
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReleasedAt *time.Time
}

// Quote is the pricing engine output for one prospective order.
type Quote struct {
	Subtotal        int64
	ShippingPrice   int64
	VoucherDiscount int64
	Total           int64
	VoucherRef      *string
}

// SystemHealthReport aggregates dependency statuses for readiness checks.
type SystemHealthReport struct {
	Healthy    bool
	Components map[string]ComponentHealth
	CheckedAt  time.Time
}

// ComponentHealth is one dependency's probe outcome.
type ComponentHealth struct {
	Healthy bool
	Detail  string
	Latency time.Duration
}
