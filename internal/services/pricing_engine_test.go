package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/stitchline/api/internal/domain"
	"github.com/stitchline/api/internal/repositories"
)

type stubVoucherRepository struct {
	findByID   func(ctx context.Context, voucherID string) (domain.Voucher, error)
	findByCode func(ctx context.Context, code string) (domain.Voucher, error)
}

func (s *stubVoucherRepository) FindByID(ctx context.Context, voucherID string) (domain.Voucher, error) {
	if s.findByID == nil {
		return domain.Voucher{}, errors.New("findByID not stubbed")
	}
	return s.findByID(ctx, voucherID)
}

func (s *stubVoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	if s.findByCode == nil {
		return domain.Voucher{}, errors.New("findByCode not stubbed")
	}
	return s.findByCode(ctx, code)
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

var _ repositories.RepositoryError = notFoundRepoError{}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestPricingEngine(t *testing.T, repo repositories.VoucherRepository, now time.Time) PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingEngineDeps{
		Vouchers: repo,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}
	return engine
}

func TestPricingEngineQuoteComputesSubtotalAndTotal(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := newTestPricingEngine(t, &stubVoucherRepository{}, now)

	quote, err := engine.Quote(context.Background(), QuoteCommand{
		Items: []domain.OrderItem{
			{ProductRef: "/products/p1", Size: "M", Quantity: 2, UnitPrice: 1500},
			{ProductRef: "/products/p2", Size: "L", Quantity: 1, UnitPrice: 4200},
		},
		ShippingPrice: 300,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}

	if quote.Subtotal != 7200 {
		t.Fatalf("expected subtotal 7200, got %d", quote.Subtotal)
	}
	if quote.Total != 7500 {
		t.Fatalf("expected total 7500, got %d", quote.Total)
	}
	if quote.VoucherDiscount != 0 {
		t.Fatalf("expected no discount, got %d", quote.VoucherDiscount)
	}
	if quote.VoucherRef != nil {
		t.Fatalf("expected no voucher ref, got %q", *quote.VoucherRef)
	}
}

func TestPricingEngineQuoteAppliesVoucherDiscount(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	repo := &stubVoucherRepository{
		findByID: func(_ context.Context, voucherID string) (domain.Voucher, error) {
			return domain.Voucher{
				ID:        voucherID,
				Code:      "SPRING",
				Discount:  1000,
				Active:    true,
				StartsAt:  now.Add(-time.Hour),
				ExpiresAt: now.Add(time.Hour),
			}, nil
		},
	}
	engine := newTestPricingEngine(t, repo, now)

	voucherID := "v1"
	quote, err := engine.Quote(context.Background(), QuoteCommand{
		Items:         []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 1, UnitPrice: 5000}},
		ShippingPrice: 500,
		VoucherID:     &voucherID,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}

	if quote.VoucherDiscount != 1000 {
		t.Fatalf("expected discount 1000, got %d", quote.VoucherDiscount)
	}
	if quote.Total != 4500 {
		t.Fatalf("expected total 4500, got %d", quote.Total)
	}
	if quote.VoucherRef == nil || *quote.VoucherRef != "/vouchers/v1" {
		t.Fatalf("expected voucher ref /vouchers/v1, got %v", quote.VoucherRef)
	}
}

func TestPricingEngineQuoteFloorsTotalAtZero(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	repo := &stubVoucherRepository{
		findByID: func(_ context.Context, voucherID string) (domain.Voucher, error) {
			return domain.Voucher{
				ID:        voucherID,
				Discount:  10000,
				Active:    true,
				StartsAt:  now.Add(-time.Hour),
				ExpiresAt: now.Add(time.Hour),
			}, nil
		},
	}
	engine := newTestPricingEngine(t, repo, now)

	voucherID := "v-big"
	quote, err := engine.Quote(context.Background(), QuoteCommand{
		Items:         []domain.OrderItem{{ProductRef: "/products/p1", Size: "S", Quantity: 1, UnitPrice: 1200}},
		ShippingPrice: 300,
		VoucherID:     &voucherID,
	})
	if err != nil {
		t.Fatalf("Quote returned error: %v", err)
	}

	if quote.Total != 0 {
		t.Fatalf("expected total floored at 0, got %d", quote.Total)
	}
	if quote.VoucherDiscount != 1500 {
		t.Fatalf("expected discount capped at 1500, got %d", quote.VoucherDiscount)
	}
}

func TestPricingEngineQuoteVoucherWindow(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		voucher domain.Voucher
		wantErr error
	}{
		{
			name: "not yet active",
			voucher: domain.Voucher{
				Active:    true,
				StartsAt:  now.Add(time.Hour),
				ExpiresAt: now.Add(48 * time.Hour),
			},
			wantErr: ErrVoucherNotYetActive,
		},
		{
			name: "expired",
			voucher: domain.Voucher{
				Active:    true,
				StartsAt:  now.Add(-48 * time.Hour),
				ExpiresAt: now.Add(-time.Hour),
			},
			wantErr: ErrVoucherExpired,
		},
		{
			name: "inactive",
			voucher: domain.Voucher{
				Active:    false,
				StartsAt:  now.Add(-time.Hour),
				ExpiresAt: now.Add(time.Hour),
			},
			wantErr: ErrVoucherInactive,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubVoucherRepository{
				findByID: func(_ context.Context, voucherID string) (domain.Voucher, error) {
					voucher := tc.voucher
					voucher.ID = voucherID
					voucher.Discount = 100
					return voucher, nil
				},
			}
			engine := newTestPricingEngine(t, repo, now)

			voucherID := "v1"
			_, err := engine.Quote(context.Background(), QuoteCommand{
				Items:     []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 1, UnitPrice: 100}},
				VoucherID: &voucherID,
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPricingEngineQuoteVoucherNotFound(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	repo := &stubVoucherRepository{
		findByID: func(context.Context, string) (domain.Voucher, error) {
			return domain.Voucher{}, notFoundRepoError{}
		},
	}
	engine := newTestPricingEngine(t, repo, now)

	voucherID := "missing"
	_, err := engine.Quote(context.Background(), QuoteCommand{
		Items:     []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 1, UnitPrice: 100}},
		VoucherID: &voucherID,
	})
	if !errors.Is(err, ErrVoucherNotFound) {
		t.Fatalf("expected ErrVoucherNotFound, got %v", err)
	}
}

func TestPricingEngineQuoteRejectsInvalidInput(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := newTestPricingEngine(t, &stubVoucherRepository{}, now)

	if _, err := engine.Quote(context.Background(), QuoteCommand{}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for empty items, got %v", err)
	}

	if _, err := engine.Quote(context.Background(), QuoteCommand{
		Items: []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 0, UnitPrice: 100}},
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for zero quantity, got %v", err)
	}

	if _, err := engine.Quote(context.Background(), QuoteCommand{
		Items:         []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 1, UnitPrice: 100}},
		ShippingPrice: -1,
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for negative shipping, got %v", err)
	}
}

func TestPricingEngineQuoteIsDeterministic(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	engine := newTestPricingEngine(t, &stubVoucherRepository{}, now)

	cmd := QuoteCommand{
		Items:         []domain.OrderItem{{ProductRef: "/products/p1", Size: "M", Quantity: 3, UnitPrice: 777}},
		ShippingPrice: 250,
	}

	first, err := engine.Quote(context.Background(), cmd)
	if err != nil {
		t.Fatalf("first Quote returned error: %v", err)
	}
	second, err := engine.Quote(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second Quote returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical quotes, got %+v and %+v", first, second)
	}
}
