package lifecycle

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending:    {domain.PaymentStatusProcessing, domain.PaymentStatusCancelled, domain.PaymentStatusFailed},
	domain.PaymentStatusProcessing: {domain.PaymentStatusCompleted, domain.PaymentStatusFailed, domain.PaymentStatusCancelled},
	domain.PaymentStatusCompleted:  {domain.PaymentStatusRefunded},
	domain.PaymentStatusFailed:     {domain.PaymentStatusProcessing},
	domain.PaymentStatusCancelled:  {},
	domain.PaymentStatusRefunded:   {},
}

// CanTransitionPayment сообщает, есть ли пара from → to в таблице переходов платежа.
func CanTransitionPayment(from, to domain.PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PaymentChange — данные из callback шлюза или от оператора.
type PaymentChange struct {
	TransactionID   string
	GatewayResponse map[string]string
	FailureReason   string
	At              time.Time
}

// TransitionPayment проверяет переход платежа и возвращает изменённую копию.
// Переход в failed требует непустую причину.
func TransitionPayment(payment domain.Payment, to domain.PaymentStatus, change PaymentChange) (domain.Payment, error) {
	if !CanTransitionPayment(payment.Status, to) {
		return payment, &domain.TransitionError{Entity: "payment", From: string(payment.Status), To: string(to)}
	}
	if to == domain.PaymentStatusFailed && strings.TrimSpace(change.FailureReason) == "" {
		return payment, domain.Invalid("failure_reason", "is required for failed status")
	}

	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	updated := payment.Clone()
	updated.Status = to
	updated.UpdatedAt = at
	if change.TransactionID != "" {
		updated.TransactionID = change.TransactionID
	}
	if len(change.GatewayResponse) > 0 {
		if updated.GatewayResponse == nil {
			updated.GatewayResponse = make(map[string]string, len(change.GatewayResponse))
		}
		for k, v := range change.GatewayResponse {
			updated.GatewayResponse[k] = v
		}
	}
	switch to {
	case domain.PaymentStatusCompleted:
		updated.ProcessedAt = &at
	case domain.PaymentStatusFailed:
		updated.FailureReason = strings.TrimSpace(change.FailureReason)
	case domain.PaymentStatusProcessing:
		// Повтор после failed начинается с чистой причины.
		updated.FailureReason = ""
	}

	return updated, nil
}

// Коды расхождений, которые проекция не может устранить сама и которые требуют сверки оператором.
const (
	// AnomalyDuplicateCapture — списание по попытке, когда заказ уже оплачен другой попыткой.
	AnomalyDuplicateCapture = "duplicate_capture"
	// AnomalyCaptureOnCancelledOrder — деньги списаны по уже отменённому заказу.
	AnomalyCaptureOnCancelledOrder = "capture_on_cancelled_order"
)

// Projection — заказ после отражения на нём статуса попытки оплаты.
type Projection struct {
	Order   domain.Order
	Effects Effects
	// Changed=false означает, что заказ сохранять не нужно.
	Changed bool
	// Anomaly — код расхождения для сверки; пусто, если всё согласовано.
	Anomaly string
}

// ProjectPayment отражает новый статус попытки payment на заказе с учётом остальных
// попыток заказа (attempts может содержать и саму payment, и записи возвратов).
//
// Правила:
//   - completed переводит pending → confirmed в обход таблицы (привилегированный переход);
//   - cancelled переводит pending → cancelled по таблице и отдаёт эффекты отмены;
//   - если другая попытка уже списала деньги, processing/failed/cancelled заказ не трогают,
//     а повторный completed помечается как AnomalyDuplicateCapture;
//   - пока жива другая попытка (pending/processing), failed и cancelled заказ не трогают;
//   - completed по отменённому заказу ставит paid (деньги можно вернуть) и помечается
//     AnomalyCaptureOnCancelledOrder.
func ProjectPayment(order domain.Order, payment domain.Payment, attempts []domain.Payment, at time.Time) Projection {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	unchanged := Projection{Order: order}
	captured, live := siblingAttempts(payment.ID, attempts)
	settled := captured ||
		order.PaymentStatus == domain.OrderPaymentPaid ||
		order.PaymentStatus == domain.OrderPaymentRefunded

	updated := order.Clone()
	var effects Effects
	var anomaly string

	switch payment.Status {
	case domain.PaymentStatusProcessing:
		if settled {
			return unchanged
		}
		updated.PaymentStatus = domain.OrderPaymentProcessing
	case domain.PaymentStatusCompleted:
		if captured {
			unchanged.Anomaly = AnomalyDuplicateCapture
			return unchanged
		}
		updated.PaymentStatus = domain.OrderPaymentPaid
		switch order.Status {
		case domain.OrderStatusPending:
			updated.Status = domain.OrderStatusConfirmed
		case domain.OrderStatusCancelled:
			anomaly = AnomalyCaptureOnCancelledOrder
		}
	case domain.PaymentStatusFailed:
		if settled || live {
			return unchanged
		}
		updated.PaymentStatus = domain.OrderPaymentFailed
	case domain.PaymentStatusCancelled:
		if settled || live {
			return unchanged
		}
		if order.Status == domain.OrderStatusPending {
			updated, effects = applyOrderStatus(updated, domain.OrderStatusCancelled, OrderChange{At: at})
		}
		updated.PaymentStatus = domain.OrderPaymentCancelled
	case domain.PaymentStatusRefunded:
		updated.PaymentStatus = domain.OrderPaymentRefunded
	default:
		return unchanged
	}

	if updated.Status == order.Status && updated.PaymentStatus == order.PaymentStatus {
		unchanged.Anomaly = anomaly
		return unchanged
	}
	updated.UpdatedAt = at
	return Projection{Order: updated, Effects: effects, Changed: true, Anomaly: anomaly}
}

// siblingAttempts смотрит на остальные попытки оплаты: списала ли какая-то деньги
// и есть ли ещё незавершённые. Записи возвратов не считаются попытками.
func siblingAttempts(paymentID string, attempts []domain.Payment) (captured, live bool) {
	for i := range attempts {
		a := &attempts[i]
		if a.ID == paymentID || a.IsRefund() {
			continue
		}
		switch a.Status {
		case domain.PaymentStatusCompleted, domain.PaymentStatusRefunded:
			captured = true
		case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
			live = true
		}
	}
	return captured, live
}
