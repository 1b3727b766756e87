package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var p domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, sku, price_minor, stock_quantity, is_active, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.SKU, &p.PriceMinor, &p.StockQuantity, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *productRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, sku, price_minor, stock_quantity, is_active, updated_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.PriceMinor, &p.StockQuantity, &p.IsActive, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

// DecrementStock списывает остаток одним условным UPDATE; параллельные списания
// сериализуются блокировкой строки и не уводят остаток в минус.
func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int64) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    updated_at = $3
		WHERE id = $1
		  AND is_active
		  AND stock_quantity >= $2
	`, id, qty, time.Now().UTC())
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInsufficientStock
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Строка не обновлена: выясняем причину для точной ошибки.
	product, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if !product.IsActive {
		return domain.ErrProductInactive
	}
	return domain.ErrInsufficientStock
}

func (r *productRepository) IncrementStock(ctx context.Context, id string, qty int64) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = $3
		WHERE id = $1
	`, id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (r *productRepository) Upsert(ctx context.Context, p domain.Product) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, sku, price_minor, stock_quantity, is_active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    sku = EXCLUDED.sku,
		    price_minor = EXCLUDED.price_minor,
		    stock_quantity = EXCLUDED.stock_quantity,
		    is_active = EXCLUDED.is_active,
		    updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.SKU, p.PriceMinor, p.StockQuantity, p.IsActive, p.UpdatedAt.UTC()); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

const couponColumns = `
	id, code, type, value, minimum_amount_minor, maximum_discount_minor,
	usage_limit, used_count, is_active, starts_at, expires_at`

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) Get(ctx context.Context, id string) (domain.Coupon, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return r.getBy(ctx, `UPPER(code) = $1`, domain.NormalizeCouponCode(code))
}

func (r *couponRepository) getBy(ctx context.Context, cond, value string) (domain.Coupon, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		c                       domain.Coupon
		couponType              string
		minimum, maximum, limit sql.NullInt64
		expiresAt               sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE `+cond, value).Scan(
		&c.ID, &c.Code, &couponType, &c.Value, &minimum, &maximum,
		&limit, &c.UsedCount, &c.IsActive, &c.StartsAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	c.Type = domain.CouponType(couponType)
	c.MinimumAmountMinor = int64Ptr(minimum)
	c.MaximumDiscountMinor = int64Ptr(maximum)
	c.UsageLimit = int64Ptr(limit)
	c.StartsAt = c.StartsAt.UTC()
	c.ExpiresAt = timePtr(expiresAt)
	return c, nil
}

// IncrementUsage занимает слот купона условным UPDATE: лимит не превышается
// даже при параллельных оформлениях.
func (r *couponRepository) IncrementUsage(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1
		  AND (usage_limit IS NULL OR used_count < usage_limit)
	`, id)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	exists, err := rowExists(ctx, r.db, `SELECT 1 FROM coupons WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrCouponNotFound
	}
	return domain.ErrCouponExhausted
}

func (r *couponRepository) DecrementUsage(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("decrement coupon usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r *couponRepository) Upsert(ctx context.Context, c domain.Coupon) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code,
		    type = EXCLUDED.type,
		    value = EXCLUDED.value,
		    minimum_amount_minor = EXCLUDED.minimum_amount_minor,
		    maximum_discount_minor = EXCLUDED.maximum_discount_minor,
		    usage_limit = EXCLUDED.usage_limit,
		    used_count = EXCLUDED.used_count,
		    is_active = EXCLUDED.is_active,
		    starts_at = EXCLUDED.starts_at,
		    expires_at = EXCLUDED.expires_at
	`,
		c.ID, c.Code, string(c.Type), c.Value, nullInt64(c.MinimumAmountMinor), nullInt64(c.MaximumDiscountMinor),
		nullInt64(c.UsageLimit), c.UsedCount, c.IsActive, c.StartsAt.UTC(), nullTime(c.ExpiresAt),
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("upsert coupon: %w", err)
	}
	return nil
}

type cartRepository struct {
	db *sql.DB
}

// CartRepository — корзины в PostgreSQL; Put нужен сидам и тестам.
type CartRepository interface {
	domain.CartRepository
	Put(ctx context.Context, item domain.CartItem) error
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Put(ctx context.Context, item domain.CartItem) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, added_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, item.UserID, item.ProductID, item.Quantity, time.Now().UTC()); err != nil {
		return fmt.Errorf("put cart item: %w", err)
	}
	return nil
}

func (r *cartRepository) Items(ctx context.Context, userID string) ([]domain.CartItem, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, product_id, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at ASC, product_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

var (
	_ domain.ProductRepository = (*productRepository)(nil)
	_ domain.CouponRepository  = (*couponRepository)(nil)
	_ CartRepository           = (*cartRepository)(nil)
)
