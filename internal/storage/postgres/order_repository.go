package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const orderColumns = `
	id, order_number, user_id, status, payment_status,
	subtotal_minor, discount_minor, tax_minor, shipping_minor, total_minor,
	coupon_id, coupon_code, shipping_method, shipping_address, billing_address,
	tracking_number, notes, version, created_at, updated_at,
	shipped_at, delivered_at, cancelled_at, refunded_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	shipping, billing, err := marshalAddresses(order)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status), string(order.PaymentStatus),
		order.SubtotalMinor, order.DiscountMinor, order.TaxMinor, order.ShippingMinor, order.TotalMinor,
		nullString(order.CouponID), order.CouponCode, order.ShippingMethod, shipping, billing,
		order.TrackingNumber, order.Notes, order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		nullTime(order.ShippedAt), nullTime(order.DeliveredAt), nullTime(order.CancelledAt), nullTime(order.RefundedAt),
	)
	if err != nil {
		switch {
		case uniqueViolationOn(err, "orders_order_number_key"):
			return domain.ErrOrderNumberConflict
		case isUniqueViolation(err):
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) CreateItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		exists, err := rowExistsTx(ctx, tx, `SELECT 1 FROM orders WHERE id = $1`, orderID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, product_name, product_sku,
					quantity, unit_price_minor, total_price_minor, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				item.ID, orderID, item.ProductID, item.ProductName, item.ProductSKU,
				item.Quantity, item.UnitPriceMinor, item.TotalPriceMinor, item.CreatedAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
}

// Delete удаляет заказ; позиции и платежи уходят каскадом.
func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) GetByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.getBy(ctx, "order_number", orderNumber)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		add("payment_status = $%d", string(filter.PaymentStatus))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	if len(ids) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

// Save обновляет изменяемые поля заказа. Номер и позиции не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	shipping, billing, err := marshalAddresses(order)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    subtotal_minor = $3,
		    discount_minor = $4,
		    tax_minor = $5,
		    shipping_minor = $6,
		    total_minor = $7,
		    coupon_id = $8,
		    coupon_code = $9,
		    shipping_method = $10,
		    shipping_address = $11,
		    billing_address = $12,
		    tracking_number = $13,
		    notes = $14,
		    updated_at = $15,
		    shipped_at = $16,
		    delivered_at = $17,
		    cancelled_at = $18,
		    refunded_at = $19,
		    version = version + 1
		WHERE id = $20
		  AND version = $21
	`,
		string(order.Status), string(order.PaymentStatus),
		order.SubtotalMinor, order.DiscountMinor, order.TaxMinor, order.ShippingMinor, order.TotalMinor,
		nullString(order.CouponID), order.CouponCode, order.ShippingMethod, shipping, billing,
		order.TrackingNumber, order.Notes, order.UpdatedAt.UTC(),
		nullTime(order.ShippedAt), nullTime(order.DeliveredAt), nullTime(order.CancelledAt), nullTime(order.RefundedAt),
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT 1 FROM orders WHERE id = $1`, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

// loadItems грузит позиции сразу для нескольких заказов.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, product_sku,
		       quantity, unit_price_minor, total_price_minor, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSKU,
			&item.Quantity, &item.UnitPriceMinor, &item.TotalPriceMinor, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                         domain.Order
		status, paymentStatus         string
		couponID                      sql.NullString
		shipping, billing             []byte
		shipped, delivered, cancelled sql.NullTime
		refunded                      sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status, &paymentStatus,
		&order.SubtotalMinor, &order.DiscountMinor, &order.TaxMinor, &order.ShippingMinor, &order.TotalMinor,
		&couponID, &order.CouponCode, &order.ShippingMethod, &shipping, &billing,
		&order.TrackingNumber, &order.Notes, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&shipped, &delivered, &cancelled, &refunded,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.OrderPaymentStatus(paymentStatus)
	order.CouponID = stringPtr(couponID)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.ShippedAt = timePtr(shipped)
	order.DeliveredAt = timePtr(delivered)
	order.CancelledAt = timePtr(cancelled)
	order.RefundedAt = timePtr(refunded)
	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	return order, nil
}

func marshalAddresses(order domain.Order) ([]byte, []byte, error) {
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("encode billing address: %w", err)
	}
	return shipping, billing, nil
}

func rowExists(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

func rowExistsTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
