package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/stitchline/api/internal/domain"
	pfirestore "github.com/stitchline/api/internal/platform/firestore"
	"github.com/stitchline/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository on Firestore.
// Orders are append-only apart from status and payment-result fields, which
// change through UpdateStatus under an optional expected-status precondition.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: base}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateStatus applies a guarded status mutation inside a transaction. When
// the request carries an expected status and the stored order has moved on,
// the update aborts with a conflict so the caller loses the optimistic race
// instead of overwriting a concurrent transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update: id is required")
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFound("orders.updateStatus", fmt.Errorf("order %s not found", orderID))
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if req.ExpectedStatus != nil && doc.Status != string(*req.ExpectedStatus) {
			return pfirestore.NewConflict("orders.updateStatus", fmt.Errorf("order %s expected status %q but was %q", orderID, *req.ExpectedStatus, doc.Status))
		}

		doc.Status = string(req.Status)
		doc.UpdatedAt = now
		if req.PaymentResult != nil {
			pr := newPaymentResultDocument(*req.PaymentResult)
			doc.PaymentResult = &pr
		}
		if req.CancelReason != nil {
			doc.CancelReason = strings.TrimSpace(*req.CancelReason)
		}
		switch req.Status {
		case domain.OrderStatusDone:
			doc.DoneAt = &now
		case domain.OrderStatusFail:
			doc.FailedAt = &now
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.updateStatus", err)
	}
	return updated, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	Number          string                `firestore:"number"`
	UserRef         string                `firestore:"userRef"`
	Items           []orderItemDocument   `firestore:"items"`
	ShippingPrice   int64                 `firestore:"shippingPrice"`
	TotalPrice      int64                 `firestore:"totalPrice"`
	Status          string                `firestore:"status"`
	PaymentMethod   string                `firestore:"paymentMethod"`
	PaymentResult   *paymentResultDocument `firestore:"paymentResult,omitempty"`
	ShippingAddress addressDocument       `firestore:"shippingAddress"`
	VoucherRef      string                `firestore:"voucherRef,omitempty"`
	ReservationRef  string                `firestore:"reservationRef,omitempty"`
	CancelReason    string                `firestore:"cancelReason,omitempty"`
	CreatedAt       time.Time             `firestore:"createdAt"`
	UpdatedAt       time.Time             `firestore:"updatedAt"`
	DoneAt          *time.Time            `firestore:"doneAt,omitempty"`
	FailedAt        *time.Time            `firestore:"failedAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	SKU        string `firestore:"sku"`
	Name       string `firestore:"name"`
	Size       string `firestore:"size"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
}

type paymentResultDocument struct {
	CaptureID  string    `firestore:"captureId,omitempty"`
	Paid       bool      `firestore:"paid"`
	UpdateTime time.Time `firestore:"updateTime,omitempty"`
	Email      string    `firestore:"email,omitempty"`
}

type addressDocument struct {
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
	Line1    string `firestore:"line1"`
	City     string `firestore:"city"`
	District string `firestore:"district"`
	Ward     string `firestore:"ward"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Size:       strings.TrimSpace(item.Size),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	doc := orderDocument{
		Number:          strings.TrimSpace(order.Number),
		UserRef:         strings.TrimSpace(order.UserRef),
		Items:           items,
		ShippingPrice:   order.ShippingPrice,
		TotalPrice:      order.TotalPrice,
		Status:          string(order.Status),
		PaymentMethod:   string(order.PaymentMethod),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		DoneAt:          order.DoneAt,
		FailedAt:        order.FailedAt,
	}
	if order.PaymentResult != nil {
		pr := newPaymentResultDocument(*order.PaymentResult)
		doc.PaymentResult = &pr
	}
	if order.VoucherRef != nil {
		doc.VoucherRef = strings.TrimSpace(*order.VoucherRef)
	}
	if order.ReservationRef != nil {
		doc.ReservationRef = strings.TrimSpace(*order.ReservationRef)
	}
	if order.CancelReason != nil {
		doc.CancelReason = strings.TrimSpace(*order.CancelReason)
	}
	return doc
}

func newPaymentResultDocument(result domain.PaymentResult) paymentResultDocument {
	return paymentResultDocument{
		CaptureID:  strings.TrimSpace(result.CaptureID),
		Paid:       result.Paid,
		UpdateTime: result.UpdateTime,
		Email:      strings.TrimSpace(result.Email),
	}
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		FullName: strings.TrimSpace(addr.FullName),
		Phone:    strings.TrimSpace(addr.Phone),
		Line1:    strings.TrimSpace(addr.Line1),
		City:     strings.TrimSpace(addr.City),
		District: strings.TrimSpace(addr.District),
		Ward:     strings.TrimSpace(addr.Ward),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductRef: item.ProductRef,
			SKU:        item.SKU,
			Name:       item.Name,
			Size:       item.Size,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	order := domain.Order{
		ID:            id,
		Number:        d.Number,
		UserRef:       d.UserRef,
		Items:         items,
		ShippingPrice: d.ShippingPrice,
		TotalPrice:    d.TotalPrice,
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		ShippingAddress: domain.Address{
			FullName: d.ShippingAddress.FullName,
			Phone:    d.ShippingAddress.Phone,
			Line1:    d.ShippingAddress.Line1,
			City:     d.ShippingAddress.City,
			District: d.ShippingAddress.District,
			Ward:     d.ShippingAddress.Ward,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		DoneAt:    d.DoneAt,
		FailedAt:  d.FailedAt,
	}
	if d.PaymentResult != nil {
		order.PaymentResult = &domain.PaymentResult{
			CaptureID:  d.PaymentResult.CaptureID,
			Paid:       d.PaymentResult.Paid,
			UpdateTime: d.PaymentResult.UpdateTime,
			Email:      d.PaymentResult.Email,
		}
	}
	if d.VoucherRef != "" {
		ref := d.VoucherRef
		order.VoucherRef = &ref
	}
	if d.ReservationRef != "" {
		ref := d.ReservationRef
		order.ReservationRef = &ref
	}
	if d.CancelReason != "" {
		reason := d.CancelReason
		order.CancelReason = &reason
	}
	return order
}
