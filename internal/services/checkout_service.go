package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

const (
	checkoutReleaseReasonPricingFailed = "checkout_pricing_failed"
	checkoutReleaseReasonPersistError  = "checkout_persist_failed"

	orderIDPrefix = "ord_"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutPaymentRequired indicates a PayPal order arrived without a capture reference.
	ErrCheckoutPaymentRequired = errors.New("checkout: payment capture required")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Inventory   InventoryService
	Pricing     PricingEngine
	Orders      repositories.OrderRepository
	Counters    CounterService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Sanitizer   *bluemonday.Policy
}

type checkoutService struct {
	catalog   repositories.CatalogRepository
	inventory InventoryService
	pricing   PricingEngine
	orders    repositories.OrderRepository
	counters  CounterService
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
	sanitizer *bluemonday.Policy
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("checkout service: catalog repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("checkout service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}

	return &checkoutService{
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		pricing:   deps.Pricing,
		orders:    deps.Orders,
		counters:  deps.Counters,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: sanitizer,
	}, nil
}

// PlaceOrder reserves stock, prices the order, and persists it with status
// new. Any failure after the reservation succeeds releases it before the
// error is returned, so a failed checkout leaves no stock held.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrCheckoutUnavailable
	}

	if err := s.validatePlaceOrder(cmd); err != nil {
		return Order{}, err
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	items, lines, err := s.buildOrderItems(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	reservation, err := s.inventory.Reserve(ctx, ReserveStockCommand{
		OrderRef: orderID,
		UserRef:  cmd.UserID,
		Lines:    lines,
	})
	if err != nil {
		return Order{}, err
	}

	quote, err := s.pricing.Quote(ctx, QuoteCommand{
		Items:         items,
		ShippingPrice: cmd.ShippingPrice,
		VoucherID:     cmd.VoucherID,
	})
	if err != nil {
		s.release(ctx, reservation.ID, checkoutReleaseReasonPricingFailed)
		return Order{}, err
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		s.release(ctx, reservation.ID, checkoutReleaseReasonPersistError)
		return Order{}, err
	}

	order := domain.Order{
		ID:              orderID,
		Number:          number,
		UserRef:         ensureUserRef(cmd.UserID),
		Items:           items,
		ShippingPrice:   quote.ShippingPrice,
		TotalPrice:      quote.Total,
		Status:          domain.OrderStatusNew,
		PaymentMethod:   cmd.PaymentMethod,
		ShippingAddress: s.sanitizeAddress(cmd.ShippingAddress),
		VoucherRef:      quote.VoucherRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	reservationID := reservation.ID
	order.ReservationRef = &reservationID

	if cmd.PaymentMethod == domain.PaymentMethodPayPal {
		order.PaymentResult = &domain.PaymentResult{
			CaptureID:  strings.TrimSpace(cmd.PaymentCaptureID),
			Paid:       false,
			Email:      strings.TrimSpace(cmd.PayerEmail),
			UpdateTime: now,
		}
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.release(ctx, reservation.ID, checkoutReleaseReasonPersistError)
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishCreated(ctx, order, now)

	return order, nil
}

func (s *checkoutService) validatePlaceOrder(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrCheckoutInvalidInput)
	}
	if cmd.ShippingPrice < 0 {
		return fmt.Errorf("%w: shipping price must not be negative", ErrCheckoutInvalidInput)
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
	case domain.PaymentMethodPayPal:
		if strings.TrimSpace(cmd.PaymentCaptureID) == "" {
			return fmt.Errorf("%w: paypal orders need a capture id", ErrCheckoutPaymentRequired)
		}
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}

	address := cmd.ShippingAddress
	if strings.TrimSpace(address.FullName) == "" {
		return fmt.Errorf("%w: shipping address full name is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(address.Phone) == "" {
		return fmt.Errorf("%w: shipping address phone is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(address.Line1) == "" {
		return fmt.Errorf("%w: shipping address line is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(address.City) == "" {
		return fmt.Errorf("%w: shipping address city is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(address.District) == "" {
		return fmt.Errorf("%w: shipping address district is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(address.Ward) == "" {
		return fmt.Errorf("%w: shipping address ward is required", ErrCheckoutInvalidInput)
	}

	return nil
}

// buildOrderItems snapshots product name, sku, and the current discounted
// unit price into the order lines.
func (s *checkoutService) buildOrderItems(ctx context.Context, requested []PlaceOrderItem) ([]domain.OrderItem, []StockLine, error) {
	items := make([]domain.OrderItem, 0, len(requested))
	lines := make([]StockLine, 0, len(requested))
	products := make(map[string]domain.Product)

	for _, req := range requested {
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			return nil, nil, fmt.Errorf("%w: item product id is required", ErrCheckoutInvalidInput)
		}
		size := strings.TrimSpace(req.Size)
		if size == "" {
			return nil, nil, fmt.Errorf("%w: item size is required for product %s", ErrCheckoutInvalidInput, productID)
		}
		if req.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: quantity for %s size %s must be positive", ErrCheckoutInvalidInput, productID, size)
		}

		product, ok := products[productID]
		if !ok {
			var err error
			product, err = s.catalog.GetProduct(ctx, productID)
			if err != nil {
				return nil, nil, s.mapCatalogLookupError(err)
			}
			products[productID] = product
		}

		items = append(items, domain.OrderItem{
			ProductRef: "/products/" + productID,
			SKU:        product.SKU,
			Name:       product.Name,
			Size:       size,
			Quantity:   req.Quantity,
			UnitPrice:  discountedUnitPrice(product),
		})
		lines = append(lines, StockLine{
			ProductID: productID,
			Size:      size,
			Quantity:  req.Quantity,
		})
	}

	return items, lines, nil
}

func (s *checkoutService) sanitizeAddress(address Address) Address {
	clean := func(value string) string {
		return strings.TrimSpace(s.sanitizer.Sanitize(value))
	}
	return Address{
		FullName: clean(address.FullName),
		Phone:    clean(address.Phone),
		Line1:    clean(address.Line1),
		City:     clean(address.City),
		District: clean(address.District),
		Ward:     clean(address.Ward),
	}
}

func (s *checkoutService) release(ctx context.Context, reservationID, reason string) {
	if _, err := s.inventory.Release(ctx, ReleaseStockCommand{
		ReservationID: reservationID,
		Reason:        reason,
	}); err != nil {
		s.logger(ctx, "checkout.release_failed", map[string]any{
			"reservationId": reservationID,
			"reason":        reason,
			"error":         err.Error(),
		})
	}
}

func (s *checkoutService) mapCatalogLookupError(err error) error {
	if err == nil {
		return nil
	}
	var catErr *repositories.CatalogError
	if errors.As(err, &catErr) && catErr.Code == repositories.CatalogErrorProductNotFound {
		return fmt.Errorf("%w: %w", ErrInventoryProductNotFound, catErr)
	}
	return err
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return err
}

func (s *checkoutService) publishCreated(ctx context.Context, order domain.Order, now time.Time) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserRef:     order.UserRef,
		Status:      string(order.Status),
		OccurredAt:  now,
	}); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

// discountedUnitPrice applies the product-level percentage discount, rounding
// down to the nearest minor unit.
func discountedUnitPrice(product domain.Product) int64 {
	if product.DiscountPercent <= 0 {
		return product.Price
	}
	if product.DiscountPercent >= 100 {
		return 0
	}
	discount := product.Price * int64(product.DiscountPercent) / 100
	return product.Price - discount
}
