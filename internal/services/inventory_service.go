package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates a reserved product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventorySizeNotFound indicates the product does not stock the requested size.
	ErrInventorySizeNotFound = errors.New("inventory: size not found")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryReservationNotFound indicates the reservation could not be located.
	ErrInventoryReservationNotFound = errors.New("inventory: reservation not found")
	// ErrInventoryInvalidState indicates the reservation cannot transition due to its state.
	ErrInventoryInvalidState = errors.New("inventory: reservation state invalid")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Events      StockEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	catalog repositories.CatalogRepository
	events  StockEventPublisher
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("inventory service: catalog repository is required")
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

	return &inventoryService{
		catalog: deps.Catalog,
		events:  deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error) {
	if strings.TrimSpace(cmd.UserRef) == "" {
		return StockReservation{}, fmt.Errorf("%w: user ref is required", ErrInventoryInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return StockReservation{}, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	now := s.clock()
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return StockReservation{}, err
	}

	reservation := domain.StockReservation{
		ID:        ensureReservationID(firstNonEmpty(cmd.ReservationID, s.newID())),
		OrderRef:  ensureOrderRef(cmd.OrderRef),
		UserRef:   ensureUserRef(cmd.UserRef),
		Status:    domain.ReservationStatusReserved,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.catalog.Reserve(ctx, repositories.CatalogReserveRequest{
		Reservation: reservation,
		Now:         now,
	})
	if err != nil {
		return StockReservation{}, s.mapCatalogError(err)
	}

	reserved := result.Reservation
	if reserved.ID == "" {
		reserved = reservation
	}

	s.logEventFailure(ctx, s.emitStockEvent(ctx, StockEventReserved, reserved, ""))

	return reserved, nil
}

func (s *inventoryService) Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
	reservationID := strings.TrimSpace(cmd.ReservationID)
	if reservationID == "" {
		return StockReservation{}, fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	result, err := s.catalog.Release(ctx, repositories.CatalogReleaseRequest{
		ReservationID: reservationID,
		Reason:        strings.TrimSpace(cmd.Reason),
		Now:           s.clock(),
	})
	if err != nil {
		return StockReservation{}, s.mapCatalogError(err)
	}

	s.logEventFailure(ctx, s.emitStockEvent(ctx, StockEventReleased, result.Reservation, cmd.Reason))

	return result.Reservation, nil
}

func (s *inventoryService) GetReservation(ctx context.Context, reservationID string) (StockReservation, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return StockReservation{}, fmt.Errorf("%w: reservation id is required", ErrInventoryInvalidInput)
	}

	reservation, err := s.catalog.GetReservation(ctx, reservationID)
	if err != nil {
		return StockReservation{}, s.mapCatalogError(err)
	}
	return reservation, nil
}

func (s *inventoryService) mapCatalogError(err error) error {
	if err == nil {
		return nil
	}

	var catErr *repositories.CatalogError
	if errors.As(err, &catErr) {
		switch catErr.Code {
		case repositories.CatalogErrorProductNotFound:
			return fmt.Errorf("%w: %w", ErrInventoryProductNotFound, catErr)
		case repositories.CatalogErrorSizeNotFound:
			return fmt.Errorf("%w: %w", ErrInventorySizeNotFound, catErr)
		case repositories.CatalogErrorInsufficientStock:
			return fmt.Errorf("%w: %w", ErrInventoryInsufficientStock, catErr)
		case repositories.CatalogErrorReservationNotFound:
			return fmt.Errorf("%w: %w", ErrInventoryReservationNotFound, catErr)
		case repositories.CatalogErrorInvalidReservationState:
			return fmt.Errorf("%w: %w", ErrInventoryInvalidState, catErr)
		}
	}

	return err
}

func (s *inventoryService) emitStockEvent(ctx context.Context, eventType string, reservation StockReservation, reason string) error {
	if s.events == nil {
		return nil
	}

	lines := make([]StockLine, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		lines = append(lines, StockLine{
			ProductID: productIDFromRef(line.ProductRef),
			Size:      line.Size,
			Quantity:  line.Quantity,
		})
	}

	occurredAt := reservation.UpdatedAt
	if occurredAt.IsZero() {
		occurredAt = s.clock()
	}

	event := StockEvent{
		Type:          eventType,
		ReservationID: reservation.ID,
		OrderRef:      reservation.OrderRef,
		Reason:        strings.TrimSpace(reason),
		Lines:         lines,
		OccurredAt:    occurredAt,
	}

	_, err := s.events.PublishStockEvent(ctx, event)
	return err
}

func (s *inventoryService) logEventFailure(ctx context.Context, err error) {
	if err == nil {
		return
	}
	s.logger(ctx, "inventory.event_publish_failed", map[string]any{"error": err.Error()})
}

// normaliseStockLines aggregates duplicate product and size pairs so each
// stock counter is decremented exactly once, in a stable order.
func normaliseStockLines(lines []StockLine) ([]domain.ReservationLine, error) {
	aggregated := make(map[string]*domain.ReservationLine)
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		size := strings.TrimSpace(line.Size)
		if size == "" {
			return nil, fmt.Errorf("%w: line size is required for product %s", ErrInventoryInvalidInput, productID)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s size %s must be positive", ErrInventoryInvalidInput, productID, size)
		}

		key := productID + "|" + size
		agg, ok := aggregated[key]
		if !ok {
			agg = &domain.ReservationLine{
				ProductRef: "/products/" + productID,
				Size:       size,
			}
			aggregated[key] = agg
		}
		agg.Quantity += line.Quantity
	}

	result := make([]domain.ReservationLine, 0, len(aggregated))
	for _, line := range aggregated {
		result = append(result, *line)
	}
	if len(result) > 1 {
		sort.Slice(result, func(i, j int) bool {
			if result[i].ProductRef != result[j].ProductRef {
				return result[i].ProductRef < result[j].ProductRef
			}
			return result[i].Size < result[j].Size
		})
	}
	return result, nil
}

func ensureReservationID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = ulid.Make().String()
	}
	if strings.HasPrefix(trimmed, "sr_") {
		return trimmed
	}
	return "sr_" + trimmed
}

func ensureOrderRef(orderID string) string {
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "/orders/") {
		return trimmed
	}
	return "/orders/" + trimmed
}

func ensureUserRef(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "/users/") {
		return trimmed
	}
	return "/users/" + trimmed
}

func productIDFromRef(ref string) string {
	trimmed := strings.TrimSpace(ref)
	return strings.TrimPrefix(trimmed, "/products/")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
