package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stitchline/api/internal/repositories"
)

var (
	// ErrVoucherInvalidInput signals the supplied voucher reference is missing or malformed.
	ErrVoucherInvalidInput = errors.New("voucher: invalid input")
	// ErrVoucherUnknown indicates no voucher exists for the provided id or code.
	ErrVoucherUnknown = errors.New("voucher: not found")
)

// Voucher codes are stored upper-cased; fold incoming codes the same way so
// lookups are case-insensitive.
var voucherCodeCaser = cases.Upper(language.Und)

// VoucherServiceDeps bundles dependencies required to construct a VoucherService implementation.
type VoucherServiceDeps struct {
	Vouchers repositories.VoucherRepository
	Clock    func() time.Time
}

type voucherService struct {
	repo  repositories.VoucherRepository
	clock func() time.Time
}

var _ VoucherService = (*voucherService)(nil)

// NewVoucherService wires a VoucherService backed by the provided repository.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &voucherService{
		repo:  deps.Vouchers,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *voucherService) GetByID(ctx context.Context, voucherID string) (Voucher, error) {
	voucherID = strings.TrimSpace(voucherID)
	if voucherID == "" {
		return Voucher{}, fmt.Errorf("%w: voucher id is required", ErrVoucherInvalidInput)
	}

	voucher, err := s.repo.FindByID(ctx, voucherID)
	if err != nil {
		return Voucher{}, s.mapRepositoryError(err, voucherID)
	}
	return voucher, nil
}

func (s *voucherService) GetByCode(ctx context.Context, code string) (Voucher, error) {
	normalized := voucherCodeCaser.String(strings.TrimSpace(code))
	if normalized == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code is required", ErrVoucherInvalidInput)
	}

	voucher, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		return Voucher{}, s.mapRepositoryError(err, normalized)
	}
	return voucher, nil
}

func (s *voucherService) mapRepositoryError(err error, ref string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrVoucherUnknown, ref)
	}
	return err
}
