package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not access the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the requested transition is not allowed
	// from the order's current status or fails a transition guard.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderAlreadyFinalized indicates the order reached a terminal status
	// and accepts no further transitions.
	ErrOrderAlreadyFinalized = errors.New("order: already finalized")
	// ErrOrderConflict indicates an optimistic concurrency conflict or duplicate.
	ErrOrderConflict = errors.New("order: conflict")
)

// transitionRule declares one edge of the order state machine together with
// the guard an actor must clear to take it.
type transitionRule struct {
	from  domain.OrderStatus
	to    domain.OrderStatus
	guard func(order Order, actor Actor) error
}

var orderTransitions = []transitionRule{
	{
		from:  domain.OrderStatusNew,
		to:    domain.OrderStatusProcessing,
		guard: requireAdmin,
	},
	{
		from:  domain.OrderStatusNew,
		to:    domain.OrderStatusFail,
		guard: requireOwnerOrAdmin,
	},
	{
		from:  domain.OrderStatusProcessing,
		to:    domain.OrderStatusFail,
		guard: requireAdmin,
	},
	{
		from:  domain.OrderStatusProcessing,
		to:    domain.OrderStatusDone,
		guard: requirePaymentSettled,
	},
}

func requireAdmin(_ Order, actor Actor) error {
	if !actor.Admin {
		return fmt.Errorf("%w: admin role required", ErrOrderInvalidState)
	}
	return nil
}

func requireOwnerOrAdmin(order Order, actor Actor) error {
	if actor.Admin {
		return nil
	}
	if ensureUserRef(actor.ID) != order.UserRef || strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: only the order owner may cancel", ErrOrderInvalidState)
	}
	return nil
}

func requirePaymentSettled(order Order, actor Actor) error {
	if err := requireAdmin(order, actor); err != nil {
		return err
	}
	if order.PaymentMethod == domain.PaymentMethodCOD {
		return nil
	}
	if order.PaymentResult == nil || !order.PaymentResult.Paid {
		return fmt.Errorf("%w: payment not confirmed", ErrOrderInvalidState)
	}
	return nil
}

func findTransition(from, to domain.OrderStatus) (transitionRule, bool) {
	for _, rule := range orderTransitions {
		if rule.from == from && rule.to == to {
			return rule, true
		}
	}
	return transitionRule{}, false
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Inventory InventoryService
	Clock     func() time.Time
	Events    OrderEventPublisher
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	clock     func() time.Time
	events    OrderEventPublisher
	logger    func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !query.Actor.Admin && ensureUserRef(query.Actor.ID) != order.UserRef {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderForbidden, orderID)
	}

	return order, nil
}

func (s *orderService) Accept(ctx context.Context, cmd AcceptOrderCommand) (Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID: cmd.OrderID,
		actor:   cmd.Actor,
		target:  domain.OrderStatusProcessing,
	})
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	order, err := s.transition(ctx, transitionRequest{
		orderID:      cmd.OrderID,
		actor:        cmd.Actor,
		target:       domain.OrderStatusFail,
		cancelReason: &reason,
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.Restock {
		s.restock(ctx, order, reason)
	}

	return order, nil
}

func (s *orderService) Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	return s.transition(ctx, transitionRequest{
		orderID:     cmd.OrderID,
		actor:       cmd.Actor,
		target:      domain.OrderStatusDone,
		markSettled: true,
	})
}

func (s *orderService) RecordPaymentCapture(ctx context.Context, cmd RecordPaymentCaptureCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CaptureID) == "" {
		return Order{}, fmt.Errorf("%w: capture id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status.IsTerminal() {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyFinalized, orderID, order.Status)
	}

	capturedAt := cmd.CapturedAt.UTC()
	if capturedAt.IsZero() {
		capturedAt = s.clock()
	}

	result := domain.PaymentResult{
		CaptureID:  strings.TrimSpace(cmd.CaptureID),
		Paid:       cmd.Paid,
		Email:      strings.TrimSpace(cmd.Email),
		UpdateTime: capturedAt,
	}

	current := order.Status
	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:        orderID,
		ExpectedStatus: &current,
		Status:         current,
		PaymentResult:  &result,
		Now:            s.clock(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        OrderEventPaymentRecorded,
		OrderID:     updated.ID,
		OrderNumber: updated.Number,
		UserRef:     updated.UserRef,
		Status:      string(updated.Status),
		OccurredAt:  s.clock(),
	})

	return updated, nil
}

type transitionRequest struct {
	orderID      string
	actor        Actor
	target       domain.OrderStatus
	cancelReason *string
	markSettled  bool
}

func (s *orderService) transition(ctx context.Context, req transitionRequest) (Order, error) {
	orderID := strings.TrimSpace(req.orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	// Terminal orders reject every transition before any guard runs, so
	// repeated cancels and completes stay idempotent in their refusal.
	if order.Status.IsTerminal() {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderAlreadyFinalized, orderID, order.Status)
	}

	rule, ok := findTransition(order.Status, req.target)
	if !ok {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, req.target)
	}
	if err := rule.guard(order, req.actor); err != nil {
		return Order{}, err
	}

	now := s.clock()
	update := repositories.OrderStatusUpdate{
		OrderID:        orderID,
		ExpectedStatus: &order.Status,
		Status:         req.target,
		CancelReason:   req.cancelReason,
		Now:            now,
	}
	if req.markSettled {
		result := domain.PaymentResult{UpdateTime: now}
		if order.PaymentResult != nil {
			result = *order.PaymentResult
			result.UpdateTime = now
		}
		result.Paid = true
		update.PaymentResult = &result
	}

	updated, err := s.orders.UpdateStatus(ctx, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		UserRef:        updated.UserRef,
		Status:         string(updated.Status),
		PreviousStatus: string(order.Status),
		OccurredAt:     now,
	})

	return updated, nil
}

// restock releases the order's stock reservation after a cancel. The cancel
// itself has already committed, so a release failure is logged rather than
// unwinding the transition.
func (s *orderService) restock(ctx context.Context, order Order, reason string) {
	if s.inventory == nil || order.ReservationRef == nil {
		return
	}
	reservationID := strings.TrimSpace(*order.ReservationRef)
	if reservationID == "" {
		return
	}
	if reason == "" {
		reason = "order_canceled"
	}

	if _, err := s.inventory.Release(ctx, ReleaseStockCommand{
		ReservationID: reservationID,
		Reason:        reason,
	}); err != nil {
		s.logger(ctx, "order.restock_failed", map[string]any{
			"orderId":       order.ID,
			"reservationId": reservationID,
			"error":         err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}

	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}
