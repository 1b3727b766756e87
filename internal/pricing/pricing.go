// Package pricing считает суммы заказа. Пакет не делает I/O и безопасен для
// предварительного расчёта цены без резервов и без расхода купона.
package pricing

import (
	"fmt"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// MaxAmountMinor — верхняя граница суммы позиции, subtotal и каждого начисления.
// При ней скидка, налог до 10000 б.п. и итог считаются в int64 без переполнения.
const MaxAmountMinor int64 = 100_000_000_000_000

// Line — позиция для расчёта: товар из каталога и количество.
type Line struct {
	Product  *domain.Product
	Quantity int32
}

// Charges — внешние начисления: налог и доставка.
type Charges struct {
	TaxMinor      int64
	ShippingMinor int64
}

// Breakdown — результат расчёта.
type Breakdown struct {
	SubtotalMinor int64
	DiscountMinor int64
	TaxMinor      int64
	ShippingMinor int64
	TotalMinor    int64
}

// Compute считает subtotal по активным товарам, скидку по купону и итог.
// Отсутствующий или неактивный товар прерывает весь расчёт с ErrProductUnavailable.
func Compute(lines []Line, coupon *domain.Coupon, charges Charges) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, domain.ErrEmptyCart
	}
	if charges.TaxMinor < 0 || charges.ShippingMinor < 0 {
		return Breakdown{}, domain.Invalid("charges", "must be non-negative")
	}
	if charges.TaxMinor > MaxAmountMinor || charges.ShippingMinor > MaxAmountMinor {
		return Breakdown{}, domain.Invalid("charges", "amount overflow")
	}

	var subtotal int64
	for i, line := range lines {
		if line.Product == nil {
			return Breakdown{}, fmt.Errorf("line %d: %w", i, domain.ErrProductUnavailable)
		}
		if !line.Product.IsActive {
			return Breakdown{}, fmt.Errorf("product %s: %w", line.Product.ID, domain.ErrProductUnavailable)
		}
		if line.Quantity < 1 {
			return Breakdown{}, domain.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		qty := int64(line.Quantity)
		if line.Product.PriceMinor > MaxAmountMinor/qty {
			return Breakdown{}, domain.Invalid("items", "amount overflow")
		}
		subtotal += qty * line.Product.PriceMinor
		if subtotal > MaxAmountMinor {
			return Breakdown{}, domain.Invalid("items", "amount overflow")
		}
	}

	discount := Discount(coupon, subtotal)

	return Breakdown{
		SubtotalMinor: subtotal,
		DiscountMinor: discount,
		TaxMinor:      charges.TaxMinor,
		ShippingMinor: charges.ShippingMinor,
		TotalMinor:    domain.ClampTotal(subtotal, charges.TaxMinor, charges.ShippingMinor, discount),
	}, nil
}

// Discount возвращает размер скидки купона для subtotal. Без купона скидка нулевая.
func Discount(coupon *domain.Coupon, subtotal int64) int64 {
	if coupon == nil || subtotal <= 0 {
		return 0
	}

	var discount int64
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount = subtotal * coupon.Value / 100
		if coupon.MaximumDiscountMinor != nil && discount > *coupon.MaximumDiscountMinor {
			discount = *coupon.MaximumDiscountMinor
		}
	case domain.CouponTypeFixedAmount:
		discount = min(coupon.Value, subtotal)
	}

	if discount < 0 {
		return 0
	}
	return discount
}
