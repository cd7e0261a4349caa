package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/stitchline/api/internal/domain"
	pfirestore "github.com/stitchline/api/internal/platform/firestore"
)

const vouchersCollection = "vouchers"

// VoucherRepository implements repositories.VoucherRepository on Firestore.
// Vouchers are read-only from the order core; writes happen elsewhere.
type VoucherRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.BaseRepository[voucherDocument]
}

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection, nil, nil)
	return &VoucherRepository{provider: provider, vouchers: base}, nil
}

func (r *VoucherRepository) FindByID(ctx context.Context, voucherID string) (domain.Voucher, error) {
	if r == nil || r.vouchers == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return domain.Voucher{}, errors.New("voucher find: id is required")
	}

	doc, err := r.vouchers.Get(ctx, voucherID)
	if err != nil {
		return domain.Voucher{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if r == nil || r.vouchers == nil {
		return domain.Voucher{}, errors.New("voucher repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Voucher{}, errors.New("voucher find: code is required")
	}

	docs, err := r.vouchers.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if len(docs) == 0 {
		return domain.Voucher{}, pfirestore.NewNotFound("vouchers.findByCode", fmt.Errorf("voucher code %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type voucherDocument struct {
	Code      string    `firestore:"code"`
	Discount  int64     `firestore:"discount"`
	StartsAt  time.Time `firestore:"startsAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d voucherDocument) toDomain(id string) domain.Voucher {
	return domain.Voucher{
		ID:        id,
		Code:      strings.TrimSpace(d.Code),
		Discount:  d.Discount,
		StartsAt:  d.StartsAt,
		ExpiresAt: d.ExpiresAt,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
