package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован, оплата не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — оплата подтверждена или заказ подтверждён оператором.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — заказ полностью возвращён (терминальный статус).
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderStatuses перечисляет все статусы заказа в порядке жизненного цикла.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// OrderPaymentStatus — проекция состояния платежей на заказ.
type OrderPaymentStatus string

const (
	OrderPaymentPending    OrderPaymentStatus = "pending"
	OrderPaymentProcessing OrderPaymentStatus = "processing"
	OrderPaymentPaid       OrderPaymentStatus = "paid"
	OrderPaymentFailed     OrderPaymentStatus = "failed"
	OrderPaymentCancelled  OrderPaymentStatus = "cancelled"
	OrderPaymentRefunded   OrderPaymentStatus = "refunded"
)

// Valid проверяет, что статус оплаты известен.
func (s OrderPaymentStatus) Valid() bool {
	switch s {
	case OrderPaymentPending, OrderPaymentProcessing, OrderPaymentPaid,
		OrderPaymentFailed, OrderPaymentCancelled, OrderPaymentRefunded:
		return true
	default:
		return false
	}
}

// Address — структурированный адрес доставки или оплаты.
type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// IsZero сообщает, что адрес не заполнен вовсе.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate проверяет обязательные поля адреса; prefix попадает в имя поля ошибки.
func (a Address) Validate(prefix string) []error {
	var errs []error
	required := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			errs = append(errs, Invalid(prefix+"."+field.name, "is required"))
		}
	}
	return errs
}

// OrderItem — позиция заказа. Название и SKU фиксируются на момент покупки.
type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductName     string
	ProductSKU      string
	Quantity        int32
	UnitPriceMinor  int64
	TotalPriceMinor int64
	CreatedAt       time.Time
}

// Order агрегирует состояние заказа, суммы и позиции.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	PaymentStatus   OrderPaymentStatus
	SubtotalMinor   int64
	DiscountMinor   int64
	TaxMinor        int64
	ShippingMinor   int64
	TotalMinor      int64
	CouponID        *string
	CouponCode      string
	ShippingMethod  string
	ShippingAddress Address
	BillingAddress  Address
	TrackingNumber  string
	Notes           string
	Items           []OrderItem
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
}

// HasCoupon сообщает, занимал ли заказ слот использования купона.
func (o *Order) HasCoupon() bool {
	return o.CouponID != nil && *o.CouponID != ""
}

// Clone возвращает копию заказа без общих срезов и указателей.
func (o Order) Clone() Order {
	clone := o
	if o.Items != nil {
		clone.Items = append([]OrderItem(nil), o.Items...)
	}
	clone.CouponID = cloneString(o.CouponID)
	clone.ShippedAt = cloneTime(o.ShippedAt)
	clone.DeliveredAt = cloneTime(o.DeliveredAt)
	clone.CancelledAt = cloneTime(o.CancelledAt)
	clone.RefundedAt = cloneTime(o.RefundedAt)
	return clone
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, Invalid("user_id", "is required"))
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrEmptyCart)
	}

	// Сверяем subtotal с суммой позиций: quantity * unit_price.
	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, Invalid("quantity", "must be greater than zero"))
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, Invalid("unit_price", "must be non-negative"))
		}
		if item.TotalPriceMinor != int64(item.Quantity)*item.UnitPriceMinor {
			errs = append(errs, Invalid("total_price", "must equal quantity * unit_price"))
		}
		subtotal += item.TotalPriceMinor
	}
	if subtotal != o.SubtotalMinor {
		errs = append(errs, Invalid("subtotal", "does not match items sum"))
	}
	if o.TotalMinor != ClampTotal(o.SubtotalMinor, o.TaxMinor, o.ShippingMinor, o.DiscountMinor) {
		errs = append(errs, Invalid("total", "does not match subtotal + tax + shipping - discount"))
	}

	return errs
}

// ClampTotal считает итог заказа и не даёт ему уйти в минус.
func ClampTotal(subtotal, tax, shipping, discount int64) int64 {
	total := subtotal + tax + shipping - discount
	if total < 0 {
		return 0
	}
	return total
}

// OrderFilter задаёт выборку заказов.
type OrderFilter struct {
	UserID        string
	Status        OrderStatus
	PaymentStatus OrderPaymentStatus
	Limit         int
	Offset        int
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
