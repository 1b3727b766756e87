package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — входные данные не прошли проверку (исправляется вызывающей стороной).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound — базовая ошибка отсутствующей сущности.
	ErrNotFound = errors.New("not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = fmt.Errorf("payment %w", ErrNotFound)
	// ErrProductNotFound возвращается, если товар отсутствует в каталоге.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrCouponNotFound возвращается репозиторием купонов; наружу отдаётся как ErrCouponInvalid.
	ErrCouponNotFound = fmt.Errorf("coupon %w", ErrNotFound)
	// ErrAlreadyExists — запись с таким идентификатором уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrProductUnavailable — товар отсутствует или снят с продажи.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrProductInactive — товар неактивен на момент резервирования.
	ErrProductInactive = fmt.Errorf("%w: product is inactive", ErrProductUnavailable)
	// ErrInsufficientStock — на складе недостаточно единиц товара.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCouponInvalid — купон не найден или отключён.
	ErrCouponInvalid = errors.New("coupon invalid")
	// ErrCouponExpired — срок действия купона истёк.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponNotYetActive — купон ещё не начал действовать.
	ErrCouponNotYetActive = errors.New("coupon not yet active")
	// ErrCouponExhausted — лимит использований купона исчерпан.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrMinimumAmountNotMet — сумма заказа ниже минимальной для купона.
	ErrMinimumAmountNotMet = errors.New("order minimum amount not met")

	// ErrIllegalTransition — переход статуса не разрешён таблицей переходов.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrPaymentNotCompleted — заказ не оплачен, возврат невозможен.
	ErrPaymentNotCompleted = errors.New("order payment is not completed")
	// ErrRefundExceedsOrderTotal — сумма возврата больше суммы заказа.
	ErrRefundExceedsOrderTotal = errors.New("refund amount exceeds order total")
	// ErrRefundExceedsRemaining — сумма возврата больше остатка с учётом прошлых возвратов.
	ErrRefundExceedsRemaining = errors.New("refund amount exceeds remaining refundable amount")
	// ErrPaymentInProgress — у заказа уже есть незавершённая попытка оплаты.
	ErrPaymentInProgress = errors.New("payment attempt already in progress")

	// ErrCompensationFailure — откат шага саги не выполнен, требуется ручная сверка.
	ErrCompensationFailure = errors.New("compensation failed")
	// ErrEmptyCart — в запросе и в корзине нет позиций.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrOrderCreationFailed — заказ или его позиции не удалось сохранить.
	ErrOrderCreationFailed = errors.New("order creation failed")
	// ErrReservationFailed — заказ сохранён, но резерв стока или купона не прошёл.
	ErrReservationFailed = errors.New("reservation failed")

	// ErrConcurrentModification — запись изменена параллельным запросом.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrOrderVersionConflict сигнализирует о конфликте версий заказа при сохранении.
	ErrOrderVersionConflict = fmt.Errorf("order version conflict: %w", ErrConcurrentModification)
	// ErrPaymentVersionConflict сигнализирует о конфликте версий платежа при сохранении.
	ErrPaymentVersionConflict = fmt.Errorf("payment version conflict: %w", ErrConcurrentModification)
	// ErrOrderNumberConflict — сгенерированный номер заказа уже занят.
	ErrOrderNumberConflict = errors.New("order number already exists")
	// ErrTransactionIDConflict — transaction_id платежа уже занят.
	ErrTransactionIDConflict = errors.New("transaction id already exists")

	// ErrForbidden — у актора нет прав на операцию.
	ErrForbidden = errors.New("operation not permitted for actor")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound — сообщение outbox не найдено.
	ErrOutboxMessageNotFound = fmt.Errorf("outbox message %w", ErrNotFound)

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = fmt.Errorf("idempotency key %w", ErrNotFound)
	// ErrIdempotencyInProgress — запрос с тем же ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with the same idempotency key is in progress")
)

// PhaseError — ошибка, которая знает фазу саги, где случился сбой.
type PhaseError interface {
	error
	FailurePhase() string
}

// PhaseOf возвращает фазу саги из цепочки ошибок или пустую строку.
func PhaseOf(err error) string {
	var phased PhaseError
	if errors.As(err, &phased) {
		return phased.FailurePhase()
	}
	return ""
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// ValidationError описывает конкретное поле, не прошедшее проверку.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

// Is делает ValidationError совместимой с errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid — короткий конструктор ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransitionError сообщает о запрещённом переходе и несёт пару from/to.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s %s -> %s", ErrIllegalTransition, e.Entity, e.From, e.To)
}

// Is делает TransitionError совместимой с errors.Is(err, ErrIllegalTransition).
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}
