package domain

import (
	"strings"
	"time"
)

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — попытка оплаты создана, шлюз ещё не ответил.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusProcessing — шлюз принял платёж в обработку.
	PaymentStatusProcessing PaymentStatus = "processing"
	// PaymentStatusCompleted — деньги получены.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed — шлюз отклонил платёж; допускается повтор.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — попытка отменена (терминальный статус).
	PaymentStatusCancelled PaymentStatus = "cancelled"
	// PaymentStatusRefunded — платёж возвращён на стороне шлюза (терминальный статус).
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentStatuses перечисляет все статусы платежа.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusProcessing,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
}

// Valid проверяет, что статус известен.
func (s PaymentStatus) Valid() bool {
	for _, known := range PaymentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentMethodGatewayA       PaymentMethod = "online-gateway-a"
	PaymentMethodGatewayB       PaymentMethod = "online-gateway-b"
	PaymentMethodCashOnDelivery PaymentMethod = "cash-on-delivery"
	PaymentMethodBankTransfer   PaymentMethod = "bank-transfer"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodGatewayA, PaymentMethodGatewayB, PaymentMethodCashOnDelivery, PaymentMethodBankTransfer:
		return true
	default:
		return false
	}
}

// RefundTransactionPrefix отличает строки возвратов от попыток оплаты.
const RefundTransactionPrefix = "REFUND-"

// Payment — попытка оплаты или возврат, привязанные к заказу.
type Payment struct {
	ID              string
	OrderID         string
	TransactionID   string
	Method          PaymentMethod
	AmountMinor     int64
	Status          PaymentStatus
	GatewayResponse map[string]string
	FailureReason   string
	ProcessedAt     *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsRefund сообщает, что запись — возврат, созданный Refund Engine.
func (p *Payment) IsRefund() bool {
	return strings.HasPrefix(p.TransactionID, RefundTransactionPrefix)
}

// Clone возвращает копию платежа без общих map/указателей.
func (p Payment) Clone() Payment {
	clone := p
	if p.GatewayResponse != nil {
		clone.GatewayResponse = make(map[string]string, len(p.GatewayResponse))
		for k, v := range p.GatewayResponse {
			clone.GatewayResponse[k] = v
		}
	}
	clone.ProcessedAt = cloneTime(p.ProcessedAt)
	return clone
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, Invalid("order_id", "is required"))
	}
	if p.TransactionID == "" {
		errs = append(errs, Invalid("transaction_id", "is required"))
	}
	if !p.Method.Valid() {
		errs = append(errs, Invalid("payment_method", "is not supported"))
	}
	if p.AmountMinor < 0 {
		errs = append(errs, Invalid("amount", "must be non-negative"))
	}
	if !p.Status.Valid() {
		errs = append(errs, Invalid("status", "is unknown"))
	}

	return errs
}

// SumCompletedRefunds суммирует завершённые возвраты среди платежей заказа.
func SumCompletedRefunds(payments []Payment) int64 {
	var total int64
	for i := range payments {
		if payments[i].IsRefund() && payments[i].Status == PaymentStatusCompleted {
			total += payments[i].AmountMinor
		}
	}
	return total
}
