package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput indicates the quote request is malformed.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingOverflow indicates the order total cannot be represented.
	ErrPricingOverflow = errors.New("pricing: amount overflow")
	// ErrVoucherNotFound indicates the referenced voucher does not exist.
	ErrVoucherNotFound = errors.New("pricing: voucher not found")
	// ErrVoucherInactive indicates the voucher has been switched off.
	ErrVoucherInactive = errors.New("pricing: voucher inactive")
	// ErrVoucherNotYetActive indicates the voucher window has not opened.
	ErrVoucherNotYetActive = errors.New("pricing: voucher not yet active")
	// ErrVoucherExpired indicates the voucher window has closed.
	ErrVoucherExpired = errors.New("pricing: voucher expired")
)

// PricingEngineDeps bundles collaborators required to construct the pricing engine.
type PricingEngineDeps struct {
	Vouchers repositories.VoucherRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type pricingEngine struct {
	vouchers repositories.VoucherRepository
	clock    func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ PricingEngine = (*pricingEngine)(nil)

// NewPricingEngine constructs the order pricing engine.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("pricing engine: voucher repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingEngine{
		vouchers: deps.Vouchers,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (e *pricingEngine) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if ctx == nil {
		return Quote{}, fmt.Errorf("%w: context is required", ErrPricingInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}
	if cmd.ShippingPrice < 0 {
		return Quote{}, fmt.Errorf("%w: shipping price must not be negative", ErrPricingInvalidInput)
	}

	var subtotal int64
	for i, item := range cmd.Items {
		if item.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: item %d quantity must be positive", ErrPricingInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return Quote{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrPricingInvalidInput, i)
		}
		line, err := mulInt64(item.UnitPrice, int64(item.Quantity))
		if err != nil {
			return Quote{}, err
		}
		subtotal, err = addInt64(subtotal, line)
		if err != nil {
			return Quote{}, err
		}
	}

	total, err := addInt64(subtotal, cmd.ShippingPrice)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Subtotal:      subtotal,
		ShippingPrice: cmd.ShippingPrice,
		Total:         total,
	}

	if cmd.VoucherID == nil {
		return quote, nil
	}

	voucherID := strings.TrimSpace(*cmd.VoucherID)
	if voucherID == "" {
		return Quote{}, fmt.Errorf("%w: voucher id must not be empty", ErrPricingInvalidInput)
	}

	voucher, err := e.resolveVoucher(ctx, voucherID)
	if err != nil {
		return Quote{}, err
	}

	// The discount never pushes the total below zero.
	discount := voucher.Discount
	if discount > quote.Total {
		discount = quote.Total
	}
	quote.VoucherDiscount = discount
	quote.Total -= discount
	ref := "/vouchers/" + voucher.ID
	quote.VoucherRef = &ref

	e.logger(ctx, "pricing.voucher_applied", map[string]any{
		"voucherId": voucher.ID,
		"discount":  discount,
	})

	return quote, nil
}

func (e *pricingEngine) resolveVoucher(ctx context.Context, voucherID string) (domain.Voucher, error) {
	voucher, err := e.vouchers.FindByID(ctx, voucherID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Voucher{}, fmt.Errorf("%w: %s", ErrVoucherNotFound, voucherID)
		}
		return domain.Voucher{}, err
	}

	if !voucher.Active {
		return domain.Voucher{}, fmt.Errorf("%w: %s", ErrVoucherInactive, voucherID)
	}

	now := e.clock()
	if now.Before(voucher.StartsAt) {
		return domain.Voucher{}, fmt.Errorf("%w: %s opens %s", ErrVoucherNotYetActive, voucherID, voucher.StartsAt.Format(time.RFC3339))
	}
	if now.After(voucher.ExpiresAt) {
		return domain.Voucher{}, fmt.Errorf("%w: %s closed %s", ErrVoucherExpired, voucherID, voucher.ExpiresAt.Format(time.RFC3339))
	}

	return voucher, nil
}

func mulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	result := a * b
	if result/b != a {
		return 0, ErrPricingOverflow
	}
	return result, nil
}

func addInt64(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrPricingOverflow
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, ErrPricingOverflow
	}
	return a + b, nil
}
