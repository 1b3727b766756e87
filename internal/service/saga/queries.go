package saga

import (
	"context"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// GetOrder возвращает заказ, если актору разрешено его читать.
func (e *Engine) GetOrder(ctx context.Context, actor domain.Actor, id string) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	order, err := e.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.CanReadOrder(&order) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы по фильтру. Покупатель видит только свои заказы.
func (e *Engine) ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.IsOperator() {
		if actor.Role != domain.RoleCustomer {
			return nil, domain.ErrForbidden
		}
		if filter.UserID != "" && filter.UserID != actor.ID {
			return nil, domain.ErrForbidden
		}
		filter.UserID = actor.ID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Invalid("status", "is unknown")
	}
	if filter.PaymentStatus != "" && !filter.PaymentStatus.Valid() {
		return nil, domain.Invalid("payment_status", "is unknown")
	}
	if filter.Offset < 0 {
		return nil, domain.Invalid("offset", "must be non-negative")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	return e.orders.List(ctx, filter)
}

// ListPayments возвращает попытки оплаты и возвраты заказа.
func (e *Engine) ListPayments(ctx context.Context, actor domain.Actor, orderID string) ([]domain.Payment, error) {
	if _, err := e.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return e.payments.ListByOrder(ctx, orderID)
}

// Timeline возвращает историю событий заказа.
func (e *Engine) Timeline(ctx context.Context, actor domain.Actor, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := e.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	if e.timeline == nil {
		return nil, nil
	}
	return e.timeline.List(ctx, orderID)
}

// GetPayment возвращает платёж; доступ как к заказу, которому он принадлежит.
func (e *Engine) GetPayment(ctx context.Context, actor domain.Actor, id string) (domain.Payment, error) {
	payment, err := e.payments.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	return e.authorizePayment(ctx, actor, payment)
}

// GetPaymentByTransaction ищет платёж по transaction_id (callback шлюза).
func (e *Engine) GetPaymentByTransaction(ctx context.Context, actor domain.Actor, transactionID string) (domain.Payment, error) {
	payment, err := e.payments.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return domain.Payment{}, err
	}
	return e.authorizePayment(ctx, actor, payment)
}

func (e *Engine) authorizePayment(ctx context.Context, actor domain.Actor, payment domain.Payment) (domain.Payment, error) {
	if err := requireActor(actor); err != nil {
		return domain.Payment{}, err
	}
	if actor.CanProcessPayment() {
		return payment, nil
	}
	if _, err := e.GetOrder(ctx, actor, payment.OrderID); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}
