package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// productRepositoryInMemory хранит каталог; проверка и изменение остатка идут под одним локом.
type productRepositoryInMemory struct {
	mu    sync.Mutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory каталог товаров.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepositoryInMemory) GetMany(_ context.Context, ids []string) (map[string]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.items[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (r *productRepositoryInMemory) DecrementStock(_ context.Context, id string, qty int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	switch {
	case !ok:
		return domain.ErrProductNotFound
	case !product.IsActive:
		return domain.ErrProductInactive
	case product.StockQuantity < qty:
		return domain.ErrInsufficientStock
	}
	product.StockQuantity -= qty
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

func (r *productRepositoryInMemory) IncrementStock(_ context.Context, id string, qty int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.StockQuantity += qty
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	r.items[product.ID] = product
	return nil
}

// couponRepositoryInMemory хранит купоны с индексом по нормализованному коду.
type couponRepositoryInMemory struct {
	mu     sync.Mutex
	items  map[string]domain.Coupon
	byCode map[string]string
}

// NewCouponRepository создаёт in-memory хранилище купонов.
func NewCouponRepository() domain.CouponRepository {
	return &couponRepositoryInMemory{
		items:  make(map[string]domain.Coupon),
		byCode: make(map[string]string),
	}
}

func (r *couponRepositoryInMemory) Get(_ context.Context, id string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[id]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c, nil
}

func (r *couponRepositoryInMemory) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return r.items[id], nil
}

func (r *couponRepositoryInMemory) IncrementUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return domain.ErrCouponExhausted
	}
	c.UsedCount++
	r.items[id] = c
	return nil
}

func (r *couponRepositoryInMemory) DecrementUsage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if c.UsedCount > 0 {
		c.UsedCount--
	}
	r.items[id] = c
	return nil
}

func (r *couponRepositoryInMemory) Upsert(_ context.Context, c domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.items[c.ID]; ok {
		delete(r.byCode, domain.NormalizeCouponCode(prev.Code))
	}
	r.items[c.ID] = c
	r.byCode[domain.NormalizeCouponCode(c.Code)] = c.ID
	return nil
}

// CartRepository — in-memory корзина; Put используется сидами и тестами.
type CartRepository struct {
	mu    sync.Mutex
	items map[string][]domain.CartItem
}

// NewCartRepository создаёт пустое хранилище корзин.
func NewCartRepository() *CartRepository {
	return &CartRepository{items: make(map[string][]domain.CartItem)}
}

// Put добавляет позицию в корзину пользователя.
func (r *CartRepository) Put(_ context.Context, item domain.CartItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.UserID] = append(r.items[item.UserID], item)
}

func (r *CartRepository) Items(_ context.Context, userID string) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CartItem(nil), r.items[userID]...), nil
}

func (r *CartRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, userID)
	return nil
}

var (
	_ domain.ProductRepository = (*productRepositoryInMemory)(nil)
	_ domain.CouponRepository  = (*couponRepositoryInMemory)(nil)
	_ domain.CartRepository    = (*CartRepository)(nil)
)
