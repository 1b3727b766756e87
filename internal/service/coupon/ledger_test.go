package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

func ptr(v int64) *int64 { return &v }

func TestLedger_ValidateAndPrice(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	coupons := []domain.Coupon{
		{ID: "1", Code: "PCT20", Type: domain.CouponTypePercentage, Value: 20, MaximumDiscountMinor: ptr(150_000), IsActive: true, StartsAt: past},
		{ID: "2", Code: "FIX500", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: true, StartsAt: past},
		{ID: "3", Code: "OFF", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: false, StartsAt: past},
		{ID: "4", Code: "SOON", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: true, StartsAt: future},
		{ID: "5", Code: "OLD", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: true, StartsAt: past, ExpiresAt: &past},
		{ID: "6", Code: "USED", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: true, StartsAt: past, UsageLimit: ptr(2), UsedCount: 2},
		{ID: "7", Code: "MIN", Type: domain.CouponTypeFixedAmount, Value: 500, IsActive: true, StartsAt: past, MinimumAmountMinor: ptr(10_000)},
	}
	repo := memory.NewCouponRepository()
	for _, c := range coupons {
		if err := repo.Upsert(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	ledger := NewLedger(repo, WithClock(func() time.Time { return now }))

	tests := []struct {
		code     string
		subtotal int64
		discount int64
		want     error
	}{
		{"pct20", 1_000_000, 150_000, nil},
		{" fix500 ", 300, 300, nil},
		{"OFF", 1000, 0, domain.ErrCouponInvalid},
		{"UNKNOWN", 1000, 0, domain.ErrCouponInvalid},
		{"SOON", 1000, 0, domain.ErrCouponNotYetActive},
		{"OLD", 1000, 0, domain.ErrCouponExpired},
		{"USED", 1000, 0, domain.ErrCouponExhausted},
		{"MIN", 9_999, 0, domain.ErrMinimumAmountNotMet},
		{"MIN", 10_000, 500, nil},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			quote, err := ledger.ValidateAndPrice(context.Background(), tt.code, tt.subtotal)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("expected %v, got %v", tt.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if quote.DiscountMinor != tt.discount {
				t.Fatalf("discount = %d, want %d", quote.DiscountMinor, tt.discount)
			}
		})
	}
}

func TestLedger_UsageBounds(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()
	if err := repo.Upsert(ctx, domain.Coupon{ID: "c1", Code: "ONE", IsActive: true, UsageLimit: ptr(1)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ledger := NewLedger(repo)

	if err := ledger.IncrementUsage(ctx, "c1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := ledger.IncrementUsage(ctx, "c1"); !errors.Is(err, domain.ErrCouponExhausted) {
		t.Fatalf("expected ErrCouponExhausted, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ledger.DecrementUsage(ctx, "c1"); err != nil {
			t.Fatalf("decrement: %v", err)
		}
	}
	c, _ := repo.Get(ctx, "c1")
	if c.UsedCount != 0 {
		t.Fatalf("used_count = %d, want 0", c.UsedCount)
	}
}
