package domain

import "errors"

// Kind — стабильный код ошибки для транспорта и клиентов.
type Kind string

const (
	KindValidation              Kind = "validation"
	KindNotFound                Kind = "not_found"
	KindProductUnavailable      Kind = "product_unavailable"
	KindInsufficientStock       Kind = "insufficient_stock"
	KindCouponInvalid           Kind = "coupon_invalid"
	KindCouponExpired           Kind = "coupon_expired"
	KindCouponNotYetActive      Kind = "coupon_not_yet_active"
	KindCouponExhausted         Kind = "coupon_exhausted"
	KindMinimumAmountNotMet     Kind = "minimum_amount_not_met"
	KindIllegalTransition       Kind = "illegal_transition"
	KindPaymentNotCompleted     Kind = "payment_not_completed"
	KindRefundExceedsOrderTotal Kind = "refund_exceeds_order_total"
	KindRefundExceedsRemaining  Kind = "refund_exceeds_remaining"
	KindCompensationFailure     Kind = "compensation_failure"
	KindEmptyCart               Kind = "empty_cart"
	KindOrderCreationFailed     Kind = "order_creation_failed"
	KindReservationFailed       Kind = "reservation_failed"
	KindConcurrentModification  Kind = "concurrent_modification"
	KindForbidden               Kind = "forbidden"
	KindConflict                Kind = "conflict"
	KindInternal                Kind = "internal"
)

// kindTable упорядочена от частного к общему: первая совпавшая запись побеждает.
// CompensationFailure стоит первой, потому что несёт внутри исходную причину.
var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrCompensationFailure, KindCompensationFailure},
	{ErrValidation, KindValidation},
	{ErrForbidden, KindForbidden},
	{ErrEmptyCart, KindEmptyCart},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrProductUnavailable, KindProductUnavailable},
	{ErrCouponInvalid, KindCouponInvalid},
	{ErrCouponExpired, KindCouponExpired},
	{ErrCouponNotYetActive, KindCouponNotYetActive},
	{ErrCouponExhausted, KindCouponExhausted},
	{ErrMinimumAmountNotMet, KindMinimumAmountNotMet},
	{ErrIllegalTransition, KindIllegalTransition},
	{ErrPaymentNotCompleted, KindPaymentNotCompleted},
	{ErrRefundExceedsOrderTotal, KindRefundExceedsOrderTotal},
	{ErrRefundExceedsRemaining, KindRefundExceedsRemaining},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrIdempotencyHashMismatch, KindConflict},
	{ErrIdempotencyInProgress, KindConflict},
	{ErrAlreadyExists, KindConflict},
	{ErrPaymentInProgress, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrOrderCreationFailed, KindOrderCreationFailed},
	{ErrReservationFailed, KindReservationFailed},
}

// KindOf возвращает код наиболее конкретной доменной ошибки в цепочке err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}

// SentinelFor возвращает базовую ошибку для кода; используется при восстановлении
// ответа из кэша идемпотентности.
func SentinelFor(kind Kind) error {
	for _, entry := range kindTable {
		if entry.kind == kind {
			return entry.err
		}
	}
	return nil
}
