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

const (
	productsCollection          = "products"
	stockReservationsCollection = "stockReservations"

	reservationStatusReserved = string(domain.ReservationStatusReserved)
	reservationStatusReleased = string(domain.ReservationStatusReleased)
)

// CatalogRepository implements repositories.CatalogRepository on Firestore.
// Stock counters live inside the product document; Reserve and Release mutate
// every touched product and the reservation ledger in one transaction, so the
// transaction is the sole serialization point for concurrent orders.
type CatalogRepository struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	reservations := pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection, nil, nil)
	return &CatalogRepository{provider: provider, products: products, reservations: reservations}, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog get product: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.CatalogErrorProductNotFound, productID, "", fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapCatalogError("catalog.getProduct", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CatalogRepository) Reserve(ctx context.Context, req repositories.CatalogReserveRequest) (repositories.CatalogReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CatalogReserveResult{}, errors.New("catalog repository not initialised")
	}
	if req.Reservation.ID == "" {
		return repositories.CatalogReserveResult{}, errors.New("catalog reserve: reservation id is required")
	}
	if len(req.Reservation.Lines) == 0 {
		return repositories.CatalogReserveResult{}, errors.New("catalog reserve: at least one line is required")
	}

	now := req.Now.UTC()
	reservation := req.Reservation
	reservation.Status = domain.ReservationStatusReserved
	reservation.CreatedAt = reservation.CreatedAt.UTC()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now

	var result repositories.CatalogReserveResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservation.ID)
		if err != nil {
			return err
		}

		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewCatalogError(repositories.CatalogErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// Every line must clear its conditional check before any write commits;
		// failing one aborts the whole transaction with no partial mutation.
		products := make(map[string]domain.Product)
		docs := make(map[string]*productDocument)
		refs := make(map[string]*firestore.DocumentRef)
		for _, line := range reservation.Lines {
			productID := productIDFromRef(line.ProductRef)
			if productID == "" {
				return repositories.NewCatalogError(repositories.CatalogErrorProductNotFound, "catalog reserve: product ref is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewCatalogError(repositories.CatalogErrorUnknown, fmt.Sprintf("catalog reserve: quantity for %s/%s must be > 0", productID, line.Size), nil)
			}

			doc, ok := docs[productID]
			if !ok {
				ref, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewStockError(repositories.CatalogErrorProductNotFound, productID, line.Size, fmt.Sprintf("product %s not found", productID), err)
					}
					return err
				}
				var decoded productDocument
				if err := snap.DataTo(&decoded); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				doc = &decoded
				docs[productID] = doc
				refs[productID] = ref
			}

			entry := doc.entryFor(line.Size)
			if entry == nil {
				return repositories.NewStockError(repositories.CatalogErrorSizeNotFound, productID, line.Size, fmt.Sprintf("product %s has no size %s", productID, line.Size), nil)
			}
			if entry.Stock < line.Quantity {
				return repositories.NewStockError(repositories.CatalogErrorInsufficientStock, productID, line.Size, fmt.Sprintf("insufficient stock for %s size %s", productID, line.Size), nil)
			}
			entry.Stock -= line.Quantity
			entry.SoldAmount += line.Quantity
			doc.UpdatedAt = now
		}

		for productID, doc := range docs {
			if err := tx.Set(refs[productID], *doc); err != nil {
				return err
			}
			products[productID] = doc.toDomain(productID)
		}

		resDoc := newReservationDocument(reservation)
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewCatalogError(repositories.CatalogErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), err)
			}
			return err
		}

		result = repositories.CatalogReserveResult{
			Reservation: resDoc.toDomain(reservation.ID),
			Products:    products,
		}
		return nil
	})
	if err != nil {
		return repositories.CatalogReserveResult{}, wrapCatalogError("catalog.reserve", err)
	}
	return result, nil
}

func (r *CatalogRepository) Release(ctx context.Context, req repositories.CatalogReleaseRequest) (repositories.CatalogReleaseResult, error) {
	if r == nil || r.provider == nil {
		return repositories.CatalogReleaseResult{}, errors.New("catalog repository not initialised")
	}
	if strings.TrimSpace(req.ReservationID) == "" {
		return repositories.CatalogReleaseResult{}, errors.New("catalog release: reservation id is required")
	}

	now := req.Now.UTC()
	var result repositories.CatalogReleaseResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		resSnap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewCatalogError(repositories.CatalogErrorReservationNotFound, fmt.Sprintf("reservation %s not found", req.ReservationID), err)
			}
			return err
		}
		resDoc, err := decodeReservation(resSnap)
		if err != nil {
			return err
		}
		if resDoc.Status == reservationStatusReleased {
			// Releases compensate failed flows and may be retried.
			result = repositories.CatalogReleaseResult{Reservation: resDoc.toDomain(req.ReservationID)}
			return nil
		}
		if resDoc.Status != reservationStatusReserved {
			return repositories.NewCatalogError(repositories.CatalogErrorInvalidReservationState, fmt.Sprintf("reservation %s not in reserved status", req.ReservationID), nil)
		}

		products := make(map[string]domain.Product)
		docs := make(map[string]*productDocument)
		refs := make(map[string]*firestore.DocumentRef)
		for _, line := range resDoc.Lines {
			productID := productIDFromRef(line.ProductRef)
			doc, ok := docs[productID]
			if !ok {
				ref, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return repositories.NewStockError(repositories.CatalogErrorProductNotFound, productID, line.Size, fmt.Sprintf("product %s not found", productID), err)
					}
					return err
				}
				var decoded productDocument
				if err := snap.DataTo(&decoded); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				doc = &decoded
				docs[productID] = doc
				refs[productID] = ref
			}

			entry := doc.entryFor(line.Size)
			if entry == nil {
				return repositories.NewStockError(repositories.CatalogErrorSizeNotFound, productID, line.Size, fmt.Sprintf("product %s has no size %s", productID, line.Size), nil)
			}
			if entry.SoldAmount < line.Quantity {
				return repositories.NewStockError(repositories.CatalogErrorInvalidReservationState, productID, line.Size, fmt.Sprintf("sold amount for %s size %s cannot drop below zero", productID, line.Size), nil)
			}
			entry.Stock += line.Quantity
			entry.SoldAmount -= line.Quantity
			doc.UpdatedAt = now
		}

		for productID, doc := range docs {
			if err := tx.Set(refs[productID], *doc); err != nil {
				return err
			}
			products[productID] = doc.toDomain(productID)
		}

		resDoc.Status = reservationStatusReleased
		resDoc.UpdatedAt = now
		resDoc.ReleasedAt = &now
		if req.Reason != "" {
			resDoc.Reason = strings.TrimSpace(req.Reason)
		}
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = repositories.CatalogReleaseResult{
			Reservation: resDoc.toDomain(req.ReservationID),
			Products:    products,
		}
		return nil
	})
	if err != nil {
		return repositories.CatalogReleaseResult{}, wrapCatalogError("catalog.release", err)
	}
	return result, nil
}

func (r *CatalogRepository) GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	if r == nil || r.reservations == nil {
		return domain.StockReservation{}, errors.New("catalog repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.StockReservation{}, errors.New("catalog get reservation: id is required")
	}

	doc, err := r.reservations.Get(ctx, reservationID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.StockReservation{}, repositories.NewCatalogError(repositories.CatalogErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return domain.StockReservation{}, wrapCatalogError("catalog.getReservation", err)
	}

	return doc.Data.toDomain(doc.ID), nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	SKU             string                   `firestore:"sku"`
	Name            string                   `firestore:"name"`
	Price           int64                    `firestore:"price"`
	DiscountPercent int                      `firestore:"discountPercent"`
	Inventory       []inventoryEntryDocument `firestore:"inventory"`
	CategoryRef     string                   `firestore:"categoryRef,omitempty"`
	Visible         bool                     `firestore:"visible"`
	CreatedAt       time.Time                `firestore:"createdAt"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
}

type inventoryEntryDocument struct {
	Size       string `firestore:"size"`
	Stock      int    `firestore:"stock"`
	SoldAmount int    `firestore:"soldAmount"`
}

func (d *productDocument) entryFor(size string) *inventoryEntryDocument {
	for i := range d.Inventory {
		if d.Inventory[i].Size == size {
			return &d.Inventory[i]
		}
	}
	return nil
}

func (d productDocument) toDomain(id string) domain.Product {
	inventory := make([]domain.InventoryEntry, len(d.Inventory))
	for i, entry := range d.Inventory {
		inventory[i] = domain.InventoryEntry{
			Size:       entry.Size,
			Stock:      entry.Stock,
			SoldAmount: entry.SoldAmount,
		}
	}
	return domain.Product{
		ID:              id,
		SKU:             strings.TrimSpace(d.SKU),
		Name:            strings.TrimSpace(d.Name),
		Price:           d.Price,
		DiscountPercent: d.DiscountPercent,
		Inventory:       inventory,
		CategoryRef:     strings.TrimSpace(d.CategoryRef),
		Visible:         d.Visible,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type reservationDocument struct {
	OrderRef   string                    `firestore:"orderRef,omitempty"`
	UserRef    string                    `firestore:"userRef"`
	Status     string                    `firestore:"status"`
	Lines      []reservationLineDocument `firestore:"lines"`
	Reason     string                    `firestore:"reason,omitempty"`
	ReleasedAt *time.Time                `firestore:"releasedAt,omitempty"`
	CreatedAt  time.Time                 `firestore:"createdAt"`
	UpdatedAt  time.Time                 `firestore:"updatedAt"`
}

type reservationLineDocument struct {
	ProductRef string `firestore:"productRef"`
	SKU        string `firestore:"sku"`
	Size       string `firestore:"size"`
	Quantity   int    `firestore:"qty"`
}

func newReservationDocument(res domain.StockReservation) reservationDocument {
	lines := make([]reservationLineDocument, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDocument{
			ProductRef: strings.TrimSpace(line.ProductRef),
			SKU:        strings.TrimSpace(line.SKU),
			Size:       strings.TrimSpace(line.Size),
			Quantity:   line.Quantity,
		}
	}
	return reservationDocument{
		OrderRef:   strings.TrimSpace(res.OrderRef),
		UserRef:    strings.TrimSpace(res.UserRef),
		Status:     string(res.Status),
		Lines:      lines,
		Reason:     strings.TrimSpace(res.Reason),
		ReleasedAt: res.ReleasedAt,
		CreatedAt:  res.CreatedAt.UTC(),
		UpdatedAt:  res.UpdatedAt.UTC(),
	}
}

func (d reservationDocument) toDomain(id string) domain.StockReservation {
	lines := make([]domain.ReservationLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.ReservationLine{
			ProductRef: strings.TrimSpace(line.ProductRef),
			SKU:        strings.TrimSpace(line.SKU),
			Size:       strings.TrimSpace(line.Size),
			Quantity:   line.Quantity,
		}
	}
	return domain.StockReservation{
		ID:         id,
		OrderRef:   strings.TrimSpace(d.OrderRef),
		UserRef:    strings.TrimSpace(d.UserRef),
		Status:     domain.ReservationStatus(strings.TrimSpace(d.Status)),
		Lines:      lines,
		Reason:     strings.TrimSpace(d.Reason),
		ReleasedAt: d.ReleasedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func decodeReservation(snap *firestore.DocumentSnapshot) (reservationDocument, error) {
	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return reservationDocument{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func productIDFromRef(ref string) string {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "/products/")
	return strings.TrimSpace(trimmed)
}

func wrapCatalogError(op string, err error) error {
	if err == nil {
		return nil
	}
	var catErr *repositories.CatalogError
	if errors.As(err, &catErr) {
		if catErr.Op == "" {
			catErr.Op = op
		}
		return catErr
	}
	return pfirestore.WrapError(op, err)
}
