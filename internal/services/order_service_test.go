package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

type stubOrderRepository struct {
	insert       func(ctx context.Context, order domain.Order) error
	findByID     func(ctx context.Context, orderID string) (domain.Order, error)
	updateStatus func(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return errors.New("insert not stubbed")
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatus == nil {
		return domain.Order{}, errors.New("updateStatus not stubbed")
	}
	return s.updateStatus(ctx, req)
}

type stubInventoryService struct {
	reserve        func(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error)
	release        func(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error)
	getReservation func(ctx context.Context, reservationID string) (StockReservation, error)
}

func (s *stubInventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error) {
	if s.reserve == nil {
		return StockReservation{}, errors.New("reserve not stubbed")
	}
	return s.reserve(ctx, cmd)
}

func (s *stubInventoryService) Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
	if s.release == nil {
		return StockReservation{}, errors.New("release not stubbed")
	}
	return s.release(ctx, cmd)
}

func (s *stubInventoryService) GetReservation(ctx context.Context, reservationID string) (StockReservation, error) {
	if s.getReservation == nil {
		return StockReservation{}, errors.New("getReservation not stubbed")
	}
	return s.getReservation(ctx, reservationID)
}

type conflictRepoError struct{}

func (conflictRepoError) Error() string       { return "precondition failed" }
func (conflictRepoError) IsNotFound() bool    { return false }
func (conflictRepoError) IsConflict() bool    { return true }
func (conflictRepoError) IsUnavailable() bool { return false }

type stubOrderPublisher struct {
	events []OrderEvent
	err    error
}

func (s *stubOrderPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-1", nil
}

func storedOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:            "ord_1",
		Number:        "SL-2026-000042",
		UserRef:       "/users/owner-1",
		Status:        status,
		PaymentMethod: domain.PaymentMethodCOD,
		Items: []domain.OrderItem{
			{ProductRef: "/products/p1", Size: "M", Quantity: 1, UnitPrice: 1000},
		},
		TotalPrice: 1000,
		CreatedAt:  time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC),
	}
}

func echoUpdateStatus(order domain.Order) func(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
	return func(_ context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
		updated := order
		updated.Status = req.Status
		updated.UpdatedAt = req.Now
		if req.PaymentResult != nil {
			result := *req.PaymentResult
			updated.PaymentResult = &result
		}
		if req.CancelReason != nil {
			updated.CancelReason = req.CancelReason
		}
		return updated, nil
	}
}

func newTestOrderService(t *testing.T, orders repositories.OrderRepository, inventory InventoryService, events OrderEventPublisher, now time.Time) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Inventory: inventory,
		Clock:     fixedClock(now),
		Events:    events,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return service
}

func TestOrderAcceptRequiresAdmin(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Accept(context.Background(), AcceptOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "owner-1"},
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for non-admin accept, got %v", err)
	}

	updated, err := service.Accept(context.Background(), AcceptOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "staff-1", Admin: true},
	})
	if err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing status, got %q", updated.Status)
	}
}

func TestOrderCancelOwnershipGuard(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "stranger-1"},
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for non-owner cancel, got %v", err)
	}

	updated, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "owner-1"},
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("owner cancel returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusFail {
		t.Fatalf("expected fail status, got %q", updated.Status)
	}
	if updated.CancelReason == nil || *updated.CancelReason != "changed my mind" {
		t.Fatalf("expected cancel reason recorded, got %v", updated.CancelReason)
	}
}

func TestOrderCancelProcessingIsAdminOnly(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusProcessing)
	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "owner-1"},
	}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState for owner cancel of processing order, got %v", err)
	}

	if _, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "staff-1", Admin: true},
		Reason:  "out of stock",
	}); err != nil {
		t.Fatalf("admin force-fail returned error: %v", err)
	}
}

func TestOrderCompletePaymentGuard(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	admin := Actor{ID: "staff-1", Admin: true}

	t.Run("paypal unpaid rejected", func(t *testing.T) {
		order := storedOrder(domain.OrderStatusProcessing)
		order.PaymentMethod = domain.PaymentMethodPayPal
		order.PaymentResult = &domain.PaymentResult{CaptureID: "cap-1", Paid: false}
		repo := &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		if _, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: admin}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState for unpaid paypal order, got %v", err)
		}
	})

	t.Run("paypal without capture rejected", func(t *testing.T) {
		order := storedOrder(domain.OrderStatusProcessing)
		order.PaymentMethod = domain.PaymentMethodPayPal
		order.PaymentResult = nil
		repo := &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		if _, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: admin}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState when no capture was recorded, got %v", err)
		}
	})

	t.Run("cod completes", func(t *testing.T) {
		order := storedOrder(domain.OrderStatusProcessing)
		repo := &stubOrderRepository{
			findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
			updateStatus: echoUpdateStatus(order),
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		updated, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: admin})
		if err != nil {
			t.Fatalf("Complete returned error: %v", err)
		}
		if updated.Status != domain.OrderStatusDone {
			t.Fatalf("expected done status, got %q", updated.Status)
		}
		if updated.PaymentResult == nil || !updated.PaymentResult.Paid {
			t.Fatalf("expected payment marked settled, got %+v", updated.PaymentResult)
		}
		if !updated.PaymentResult.UpdateTime.Equal(now) {
			t.Fatalf("expected payment update time %v, got %v", now, updated.PaymentResult.UpdateTime)
		}
	})

	t.Run("paypal paid completes", func(t *testing.T) {
		order := storedOrder(domain.OrderStatusProcessing)
		order.PaymentMethod = domain.PaymentMethodPayPal
		order.PaymentResult = &domain.PaymentResult{CaptureID: "cap-1", Paid: true}
		repo := &stubOrderRepository{
			findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
			updateStatus: echoUpdateStatus(order),
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		if _, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: admin}); err != nil {
			t.Fatalf("Complete returned error: %v", err)
		}
	})

	t.Run("non-admin rejected", func(t *testing.T) {
		order := storedOrder(domain.OrderStatusProcessing)
		repo := &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		if _, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: Actor{ID: "owner-1"}}); !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState for non-admin complete, got %v", err)
		}
	})
}

func TestOrderTerminalStatesRejectAllTransitions(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	admin := Actor{ID: "staff-1", Admin: true}

	for _, status := range []domain.OrderStatus{domain.OrderStatusDone, domain.OrderStatusFail} {
		order := storedOrder(status)
		updateCalled := false
		repo := &stubOrderRepository{
			findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
			updateStatus: func(context.Context, repositories.OrderStatusUpdate) (domain.Order, error) {
				updateCalled = true
				return domain.Order{}, errors.New("must not be called")
			},
		}
		service := newTestOrderService(t, repo, nil, nil, now)

		if _, err := service.Complete(context.Background(), CompleteOrderCommand{OrderID: "ord_1", Actor: admin}); !errors.Is(err, ErrOrderAlreadyFinalized) {
			t.Fatalf("status %s: expected ErrOrderAlreadyFinalized on complete, got %v", status, err)
		}
		if _, err := service.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1", Actor: admin}); !errors.Is(err, ErrOrderAlreadyFinalized) {
			t.Fatalf("status %s: expected ErrOrderAlreadyFinalized on cancel, got %v", status, err)
		}
		if _, err := service.Accept(context.Background(), AcceptOrderCommand{OrderID: "ord_1", Actor: admin}); !errors.Is(err, ErrOrderAlreadyFinalized) {
			t.Fatalf("status %s: expected ErrOrderAlreadyFinalized on accept, got %v", status, err)
		}
		if updateCalled {
			t.Fatalf("status %s: expected no status write for terminal order", status)
		}
	}
}

func TestOrderTransitionUsesExpectedStatusPrecondition(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)

	var captured repositories.OrderStatusUpdate
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: func(_ context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
			captured = req
			return echoUpdateStatus(order)(context.Background(), req)
		},
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Accept(context.Background(), AcceptOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "staff-1", Admin: true},
	}); err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}

	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusNew {
		t.Fatalf("expected precondition on new status, got %v", captured.ExpectedStatus)
	}
}

func TestOrderTransitionConflictSurfacesAsOrderConflict(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: func(context.Context, repositories.OrderStatusUpdate) (domain.Order, error) {
			return domain.Order{}, conflictRepoError{}
		},
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	_, err := service.Accept(context.Background(), AcceptOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "staff-1", Admin: true},
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderCancelRestockReleasesReservation(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	reservationID := "sr_res1"
	order.ReservationRef = &reservationID

	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	var released ReleaseStockCommand
	inventory := &stubInventoryService{
		release: func(_ context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
			released = cmd
			return StockReservation{ID: cmd.ReservationID, Status: domain.ReservationStatusReleased}, nil
		},
	}
	service := newTestOrderService(t, repo, inventory, nil, now)

	if _, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "owner-1"},
		Reason:  "too slow",
		Restock: true,
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if released.ReservationID != "sr_res1" {
		t.Fatalf("expected release of sr_res1, got %q", released.ReservationID)
	}
	if released.Reason != "too slow" {
		t.Fatalf("expected release reason propagated, got %q", released.Reason)
	}
}

func TestOrderCancelWithoutRestockKeepsReservation(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	reservationID := "sr_res1"
	order.ReservationRef = &reservationID

	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	inventory := &stubInventoryService{
		release: func(context.Context, ReleaseStockCommand) (StockReservation, error) {
			t.Fatal("release must not be called")
			return StockReservation{}, nil
		},
	}
	service := newTestOrderService(t, repo, inventory, nil, now)

	if _, err := service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "owner-1"},
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
}

func TestOrderStatusChangeEmitsEvent(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	repo := &stubOrderRepository{
		findByID:     func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: echoUpdateStatus(order),
	}
	publisher := &stubOrderPublisher{}
	service := newTestOrderService(t, repo, nil, publisher, now)

	if _, err := service.Accept(context.Background(), AcceptOrderCommand{
		OrderID: "ord_1",
		Actor:   Actor{ID: "staff-1", Admin: true},
	}); err != nil {
		t.Fatalf("Accept returned error: %v", err)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != OrderEventStatusChanged {
		t.Fatalf("expected %q, got %q", OrderEventStatusChanged, event.Type)
	}
	if event.PreviousStatus != string(domain.OrderStatusNew) || event.Status != string(domain.OrderStatusProcessing) {
		t.Fatalf("unexpected event statuses: %+v", event)
	}
}

func TestOrderGetEnforcesOwnership(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Get(context.Background(), GetOrderQuery{OrderID: "ord_1", Actor: Actor{ID: "stranger-1"}}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if _, err := service.Get(context.Background(), GetOrderQuery{OrderID: "ord_1", Actor: Actor{ID: "owner-1"}}); err != nil {
		t.Fatalf("owner read returned error: %v", err)
	}
	if _, err := service.Get(context.Background(), GetOrderQuery{OrderID: "ord_1", Actor: Actor{ID: "staff-1", Admin: true}}); err != nil {
		t.Fatalf("admin read returned error: %v", err)
	}
}

func TestOrderRecordPaymentCapture(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusNew)
	order.PaymentMethod = domain.PaymentMethodPayPal

	var captured repositories.OrderStatusUpdate
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
		updateStatus: func(_ context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
			captured = req
			return echoUpdateStatus(order)(context.Background(), req)
		},
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	capturedAt := time.Date(2026, time.May, 1, 8, 30, 0, 0, time.UTC)
	updated, err := service.RecordPaymentCapture(context.Background(), RecordPaymentCaptureCommand{
		OrderID:    "ord_1",
		CaptureID:  "cap-77",
		Paid:       true,
		Email:      "buyer@example.com",
		CapturedAt: capturedAt,
	})
	if err != nil {
		t.Fatalf("RecordPaymentCapture returned error: %v", err)
	}

	if captured.Status != domain.OrderStatusNew || captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusNew {
		t.Fatalf("expected status preserved under precondition, got %+v", captured)
	}
	if updated.PaymentResult == nil || updated.PaymentResult.CaptureID != "cap-77" || !updated.PaymentResult.Paid {
		t.Fatalf("unexpected payment result: %+v", updated.PaymentResult)
	}
	if !updated.PaymentResult.UpdateTime.Equal(capturedAt) {
		t.Fatalf("expected capture time %v, got %v", capturedAt, updated.PaymentResult.UpdateTime)
	}
}

func TestOrderRecordPaymentCaptureRejectsTerminalOrder(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	order := storedOrder(domain.OrderStatusDone)
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) { return order, nil },
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	_, err := service.RecordPaymentCapture(context.Background(), RecordPaymentCaptureCommand{
		OrderID:   "ord_1",
		CaptureID: "cap-77",
		Paid:      true,
	})
	if !errors.Is(err, ErrOrderAlreadyFinalized) {
		t.Fatalf("expected ErrOrderAlreadyFinalized, got %v", err)
	}
}

func TestOrderNotFoundMapsToSentinel(t *testing.T) {
	now := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubOrderRepository{
		findByID: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, notFoundRepoError{}
		},
	}
	service := newTestOrderService(t, repo, nil, nil, now)

	if _, err := service.Get(context.Background(), GetOrderQuery{OrderID: "missing", Actor: Actor{ID: "u1", Admin: true}}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
