// Package lifecycle содержит чистые машины состояний заказа и платежа.
// Переход возвращает обновлённую сущность и список побочных эффектов;
// применяет эффекты вызывающий код.
package lifecycle

import (
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusRefunded:   {},
}

// CanTransitionOrder сообщает, есть ли пара from → to в таблице переходов заказа.
func CanTransitionOrder(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StockRelease — возврат единиц товара на склад.
type StockRelease struct {
	ProductID string
	Quantity  int64
}

// Effects — межагрегатные побочные эффекты перехода.
type Effects struct {
	InventoryReleases []StockRelease
	// CouponDecrement — id купона, у которого нужно вернуть слот; пусто, если не нужно.
	CouponDecrement string
}

// Empty сообщает, что эффектов нет.
func (e Effects) Empty() bool {
	return len(e.InventoryReleases) == 0 && e.CouponDecrement == ""
}

// OrderChange — дополнительные данные перехода статуса.
type OrderChange struct {
	TrackingNumber string
	Notes          string
	At             time.Time
}

// TransitionOrder проверяет переход по таблице и возвращает изменённую копию заказа с эффектами.
func TransitionOrder(order domain.Order, to domain.OrderStatus, change OrderChange) (domain.Order, Effects, error) {
	if !CanTransitionOrder(order.Status, to) {
		return order, Effects{}, &domain.TransitionError{Entity: "order", From: string(order.Status), To: string(to)}
	}
	updated, effects := applyOrderStatus(order, to, change)
	return updated, effects, nil
}

func applyOrderStatus(order domain.Order, to domain.OrderStatus, change OrderChange) (domain.Order, Effects) {
	at := change.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	updated := order.Clone()
	updated.Status = to
	updated.UpdatedAt = at
	if change.Notes != "" {
		updated.Notes = change.Notes
	}

	var effects Effects
	switch to {
	case domain.OrderStatusCancelled:
		updated.CancelledAt = &at
		effects.InventoryReleases = releasesFor(order.Items)
		if order.HasCoupon() {
			effects.CouponDecrement = *order.CouponID
		}
	case domain.OrderStatusShipped:
		updated.ShippedAt = &at
		if change.TrackingNumber != "" {
			updated.TrackingNumber = change.TrackingNumber
		}
	case domain.OrderStatusDelivered:
		updated.DeliveredAt = &at
	case domain.OrderStatusRefunded:
		// payment_status меняет только запись возврата, здесь лишь возврат стока.
		updated.RefundedAt = &at
		effects.InventoryReleases = releasesFor(order.Items)
	}

	return updated, effects
}

// ApplyFullRefund переводит заказ в refunded после полного возврата денег.
// Это внутренний переход вне таблицы: он доступен из любого оплаченного статуса.
// Отменённый заказ остаётся cancelled, а сток повторно не возвращается.
func ApplyFullRefund(order domain.Order, at time.Time) (domain.Order, Effects) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if order.Status == domain.OrderStatusCancelled {
		updated := order.Clone()
		updated.PaymentStatus = domain.OrderPaymentRefunded
		updated.RefundedAt = &at
		updated.UpdatedAt = at
		return updated, Effects{}
	}

	updated := order.Clone()
	updated.Status = domain.OrderStatusRefunded
	updated.PaymentStatus = domain.OrderPaymentRefunded
	updated.RefundedAt = &at
	updated.UpdatedAt = at
	return updated, Effects{InventoryReleases: releasesFor(order.Items)}
}

func releasesFor(items []domain.OrderItem) []StockRelease {
	releases := make([]StockRelease, 0, len(items))
	for _, item := range items {
		releases = append(releases, StockRelease{ProductID: item.ProductID, Quantity: int64(item.Quantity)})
	}
	return releases
}
