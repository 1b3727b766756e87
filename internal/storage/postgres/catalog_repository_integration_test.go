package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestProductRepository_PostgresConcurrentDecrementNeverOversells(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Product{ID: "p-1", Name: "Mouse", SKU: "M-1", PriceMinor: 1000, StockQuantity: 5, IsActive: true}))

	const buyers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.DecrementStock(ctx, "p-1", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5, succeeded)
	require.Equal(t, buyers-5, rejected)

	product, err := repo.Get(ctx, "p-1")
	require.NoError(t, err)
	require.Zero(t, product.StockQuantity)
}

func TestProductRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewProductRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Product{ID: "p-off", Name: "Old", SKU: "OLD", PriceMinor: 100, StockQuantity: 10}))
	require.ErrorIs(t, repo.DecrementStock(ctx, "p-off", 1), domain.ErrProductUnavailable)
	require.ErrorIs(t, repo.DecrementStock(ctx, "missing", 1), domain.ErrProductNotFound)
	require.ErrorIs(t, repo.IncrementStock(ctx, "missing", 1), domain.ErrProductNotFound)

	require.NoError(t, repo.IncrementStock(ctx, "p-off", 3))
	found, err := repo.GetMany(ctx, []string{"p-off", "missing"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, int64(13), found["p-off"].StockQuantity)
}

func TestCouponRepository_PostgresUsageLimit(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewCouponRepository(store)
	ctx := context.Background()

	limit := int64(3)
	maxDiscount := int64(5000)
	expires := time.Now().UTC().Add(24 * time.Hour).Round(time.Microsecond)
	require.NoError(t, repo.Upsert(ctx, domain.Coupon{
		ID:                   "c-1",
		Code:                 "Spring10",
		Type:                 domain.CouponTypePercentage,
		Value:                10,
		MaximumDiscountMinor: &maxDiscount,
		UsageLimit:           &limit,
		IsActive:             true,
		StartsAt:             time.Now().UTC().Add(-time.Hour),
		ExpiresAt:            &expires,
	}))

	coupon, err := repo.GetByCode(ctx, " spring10 ")
	require.NoError(t, err)
	require.Equal(t, "c-1", coupon.ID)
	require.Nil(t, coupon.MinimumAmountMinor)
	require.Equal(t, maxDiscount, *coupon.MaximumDiscountMinor)
	require.True(t, coupon.ExpiresAt.Equal(expires))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < int(limit)+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := repo.IncrementUsage(ctx, "c-1"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			} else if !errors.Is(err, domain.ErrCouponExhausted) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int(limit), granted)

	require.NoError(t, repo.DecrementUsage(ctx, "c-1"))
	coupon, err = repo.Get(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, limit-1, coupon.UsedCount)

	_, err = repo.GetByCode(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrCouponNotFound)
	require.ErrorIs(t, repo.IncrementUsage(ctx, "missing"), domain.ErrCouponNotFound)
}

func TestCartRepository_PostgresPutItemsClear(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	products := NewProductRepository(store)
	carts := NewCartRepository(store)
	ctx := context.Background()

	require.NoError(t, products.Upsert(ctx, domain.Product{ID: "p-1", Name: "Mouse", SKU: "M-1", PriceMinor: 1000, StockQuantity: 5, IsActive: true}))
	require.NoError(t, carts.Put(ctx, domain.CartItem{UserID: "user-1", ProductID: "p-1", Quantity: 1}))
	require.NoError(t, carts.Put(ctx, domain.CartItem{UserID: "user-1", ProductID: "p-1", Quantity: 2}))

	items, err := carts.Items(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []domain.CartItem{{UserID: "user-1", ProductID: "p-1", Quantity: 3}}, items)

	require.NoError(t, carts.Clear(ctx, "user-1"))
	items, err = carts.Items(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, items)
}
