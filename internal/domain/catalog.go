package domain

import (
	"strings"
	"time"
)

// Product — запись каталога. Движок читает цену и остаток, пишет только stock_quantity.
type Product struct {
	ID            string
	Name          string
	SKU           string
	PriceMinor    int64
	StockQuantity int64
	IsActive      bool
	UpdatedAt     time.Time
}

// CouponType — тип скидки.
type CouponType string

const (
	CouponTypePercentage  CouponType = "percentage"
	CouponTypeFixedAmount CouponType = "fixed_amount"
)

// Coupon — купон на скидку. Движок пишет только used_count.
type Coupon struct {
	ID                   string
	Code                 string
	Type                 CouponType
	Value                int64
	MinimumAmountMinor   *int64
	MaximumDiscountMinor *int64
	UsageLimit           *int64
	UsedCount            int64
	IsActive             bool
	StartsAt             time.Time
	ExpiresAt            *time.Time
}

// NormalizeCouponCode приводит код купона к каноничному виду для сравнения без учёта регистра.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CartItem — позиция корзины пользователя (внешняя сущность: только чтение и очистка).
type CartItem struct {
	UserID    string
	ProductID string
	Quantity  int32
}
