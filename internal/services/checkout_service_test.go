package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/stitchline/api/internal/domain"
)

type stubPricingEngine struct {
	quote func(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

func (s *stubPricingEngine) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if s.quote == nil {
		return Quote{}, errors.New("quote not stubbed")
	}
	return s.quote(ctx, cmd)
}

type stubCounterService struct {
	next            func(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	nextOrderNumber func(ctx context.Context) (string, error)
}

func (s *stubCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	if s.next == nil {
		return CounterValue{}, errors.New("next not stubbed")
	}
	return s.next(ctx, scope, name, opts)
}

func (s *stubCounterService) NextOrderNumber(ctx context.Context) (string, error) {
	if s.nextOrderNumber == nil {
		return "SL-2026-000001", nil
	}
	return s.nextOrderNumber(ctx)
}

type checkoutFixture struct {
	catalog   *stubCatalogRepository
	inventory *stubInventoryService
	pricing   *stubPricingEngine
	orders    *stubOrderRepository
	counters  *stubCounterService
	publisher *stubOrderPublisher
	service   CheckoutService

	inserted []domain.Order
	released []ReleaseStockCommand
}

func testProduct(id string) domain.Product {
	return domain.Product{
		ID:      id,
		SKU:     "SKU-" + id,
		Name:    "Crewneck " + id,
		Price:   2000,
		Visible: true,
		Inventory: []domain.InventoryEntry{
			{Size: "M", Stock: 5, SoldAmount: 0},
			{Size: "L", Stock: 2, SoldAmount: 1},
		},
	}
}

func newCheckoutFixture(t *testing.T, now time.Time) *checkoutFixture {
	t.Helper()

	f := &checkoutFixture{
		catalog:   &stubCatalogRepository{},
		inventory: &stubInventoryService{},
		pricing:   &stubPricingEngine{},
		orders:    &stubOrderRepository{},
		counters:  &stubCounterService{},
		publisher: &stubOrderPublisher{},
	}

	f.catalog.getProduct = func(_ context.Context, productID string) (domain.Product, error) {
		return testProduct(productID), nil
	}
	f.inventory.reserve = func(_ context.Context, cmd ReserveStockCommand) (StockReservation, error) {
		lines := make([]domain.ReservationLine, len(cmd.Lines))
		for i, line := range cmd.Lines {
			lines[i] = domain.ReservationLine{
				ProductRef: "/products/" + line.ProductID,
				Size:       line.Size,
				Quantity:   line.Quantity,
			}
		}
		return StockReservation{
			ID:       "sr_fixture",
			OrderRef: "/orders/" + strings.TrimPrefix(cmd.OrderRef, "/orders/"),
			UserRef:  "/users/" + strings.TrimPrefix(cmd.UserRef, "/users/"),
			Status:   domain.ReservationStatusReserved,
			Lines:    lines,
		}, nil
	}
	f.inventory.release = func(_ context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
		f.released = append(f.released, cmd)
		return StockReservation{ID: cmd.ReservationID, Status: domain.ReservationStatusReleased}, nil
	}
	f.pricing.quote = func(_ context.Context, cmd QuoteCommand) (Quote, error) {
		var subtotal int64
		for _, item := range cmd.Items {
			subtotal += item.Subtotal()
		}
		return Quote{
			Subtotal:      subtotal,
			ShippingPrice: cmd.ShippingPrice,
			Total:         subtotal + cmd.ShippingPrice,
		}, nil
	}
	f.orders.insert = func(_ context.Context, order domain.Order) error {
		f.inserted = append(f.inserted, order)
		return nil
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Catalog:     f.catalog,
		Inventory:   f.inventory,
		Pricing:     f.pricing,
		Orders:      f.orders,
		Counters:    f.counters,
		Events:      f.publisher,
		Clock:       fixedClock(now),
		IDGenerator: func() string { return "FIXEDID" },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService returned error: %v", err)
	}
	f.service = service
	return f
}

func validPlaceOrderCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID: "user-1",
		Items: []PlaceOrderItem{
			{ProductID: "p1", Size: "M", Quantity: 2},
		},
		ShippingAddress: domain.Address{
			FullName: "Alex Tran",
			Phone:    "0123456789",
			Line1:    "12 Elm Street",
			City:     "Da Nang",
			District: "Hai Chau",
			Ward:     "Thach Thang",
		},
		ShippingPrice: 300,
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)

	order, err := f.service.PlaceOrder(context.Background(), validPlaceOrderCommand())
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if order.Status != domain.OrderStatusNew {
		t.Fatalf("expected status new, got %q", order.Status)
	}
	if order.Number != "SL-2026-000001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if order.TotalPrice != 4300 {
		t.Fatalf("expected total 4300, got %d", order.TotalPrice)
	}
	if order.ReservationRef == nil || *order.ReservationRef != "sr_fixture" {
		t.Fatalf("expected reservation ref sr_fixture, got %v", order.ReservationRef)
	}
	if len(f.inserted) != 1 {
		t.Fatalf("expected one persisted order, got %d", len(f.inserted))
	}
	if len(f.released) != 0 {
		t.Fatalf("expected no releases on success, got %+v", f.released)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", f.publisher.events)
	}
	if len(order.Items) != 1 || order.Items[0].SKU != "SKU-p1" || order.Items[0].UnitPrice != 2000 {
		t.Fatalf("unexpected item snapshot: %+v", order.Items)
	}
}

func TestPlaceOrderPayPalRequiresCapture(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)
	f.inventory.reserve = func(context.Context, ReserveStockCommand) (StockReservation, error) {
		t.Fatal("reserve must not be called when payment validation fails")
		return StockReservation{}, nil
	}

	cmd := validPlaceOrderCommand()
	cmd.PaymentMethod = domain.PaymentMethodPayPal
	cmd.PaymentCaptureID = ""

	_, err := f.service.PlaceOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutPaymentRequired) {
		t.Fatalf("expected ErrCheckoutPaymentRequired, got %v", err)
	}
	if len(f.inserted) != 0 {
		t.Fatalf("expected no persisted order, got %d", len(f.inserted))
	}
}

func TestPlaceOrderPayPalStoresPendingCapture(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)

	cmd := validPlaceOrderCommand()
	cmd.PaymentMethod = domain.PaymentMethodPayPal
	cmd.PaymentCaptureID = "cap-99"
	cmd.PayerEmail = "buyer@example.com"

	order, err := f.service.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if order.PaymentResult == nil {
		t.Fatal("expected payment result for paypal order")
	}
	if order.PaymentResult.CaptureID != "cap-99" || order.PaymentResult.Paid {
		t.Fatalf("expected pending capture cap-99, got %+v", order.PaymentResult)
	}
}

func TestPlaceOrderReleasesReservationWhenPricingFails(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)
	f.pricing.quote = func(context.Context, QuoteCommand) (Quote, error) {
		return Quote{}, ErrVoucherExpired
	}

	_, err := f.service.PlaceOrder(context.Background(), validPlaceOrderCommand())
	if !errors.Is(err, ErrVoucherExpired) {
		t.Fatalf("expected voucher error surfaced, got %v", err)
	}
	if len(f.released) != 1 || f.released[0].Reason != "checkout_pricing_failed" {
		t.Fatalf("expected one release with pricing reason, got %+v", f.released)
	}
	if len(f.inserted) != 0 {
		t.Fatalf("expected no persisted order, got %d", len(f.inserted))
	}
}

func TestPlaceOrderReleasesReservationWhenPersistFails(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)
	f.orders.insert = func(context.Context, domain.Order) error {
		return conflictRepoError{}
	}

	_, err := f.service.PlaceOrder(context.Background(), validPlaceOrderCommand())
	if !errors.Is(err, ErrCheckoutConflict) {
		t.Fatalf("expected ErrCheckoutConflict, got %v", err)
	}
	if len(f.released) != 1 || f.released[0].Reason != "checkout_persist_failed" {
		t.Fatalf("expected one release with persist reason, got %+v", f.released)
	}
}

func TestPlaceOrderPropagatesInsufficientStock(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)
	f.inventory.reserve = func(context.Context, ReserveStockCommand) (StockReservation, error) {
		return StockReservation{}, ErrInventoryInsufficientStock
	}

	_, err := f.service.PlaceOrder(context.Background(), validPlaceOrderCommand())
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected ErrInventoryInsufficientStock, got %v", err)
	}
	if len(f.released) != 0 {
		t.Fatalf("expected no release when reserve fails, got %+v", f.released)
	}
	if len(f.inserted) != 0 {
		t.Fatalf("expected no persisted order, got %d", len(f.inserted))
	}
}

func TestPlaceOrderSanitizesShippingAddress(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)

	cmd := validPlaceOrderCommand()
	cmd.ShippingAddress.FullName = "<script>alert(1)</script>Alex"
	cmd.ShippingAddress.Line1 = "12 Elm <b>Street</b>"

	order, err := f.service.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if strings.Contains(order.ShippingAddress.FullName, "<") {
		t.Fatalf("expected markup stripped from full name, got %q", order.ShippingAddress.FullName)
	}
	if order.ShippingAddress.Line1 != "12 Elm Street" {
		t.Fatalf("expected markup stripped from address line, got %q", order.ShippingAddress.Line1)
	}
}

func TestPlaceOrderValidatesInput(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)

	cmd := validPlaceOrderCommand()
	cmd.UserID = ""
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing user, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.Items = nil
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for empty items, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.ShippingAddress.City = ""
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing city, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.ShippingAddress.Phone = ""
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing phone, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.ShippingAddress.District = ""
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing district, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.ShippingAddress.Ward = ""
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for missing ward, got %v", err)
	}

	cmd = validPlaceOrderCommand()
	cmd.PaymentMethod = domain.PaymentMethod("bitcoin")
	if _, err := f.service.PlaceOrder(context.Background(), cmd); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput for unsupported method, got %v", err)
	}
}

func TestPlaceOrderAppliesProductDiscount(t *testing.T) {
	now := time.Date(2026, time.June, 5, 10, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(t, now)
	f.catalog.getProduct = func(_ context.Context, productID string) (domain.Product, error) {
		product := testProduct(productID)
		product.DiscountPercent = 25
		return product, nil
	}

	order, err := f.service.PlaceOrder(context.Background(), validPlaceOrderCommand())
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}
	if order.Items[0].UnitPrice != 1500 {
		t.Fatalf("expected discounted unit price 1500, got %d", order.Items[0].UnitPrice)
	}
}
