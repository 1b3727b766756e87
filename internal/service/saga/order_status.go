package saga

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/lifecycle"
)

// UpdateStatusInput — запрос на смену статуса заказа.
type UpdateStatusInput struct {
	OrderID        string
	Status         domain.OrderStatus
	TrackingNumber string
	Notes          string
}

// StatusUpdateResult — новый заказ и сбои побочных эффектов, случившиеся после сохранения.
type StatusUpdateResult struct {
	Order          domain.Order
	EffectFailures []error
}

// UpdateOrderStatus переводит заказ по таблице переходов. Конфликт версии возвращается
// как ErrConcurrentModification без повтора: вызывающий перечитывает заказ сам.
func (e *Engine) UpdateOrderStatus(ctx context.Context, actor domain.Actor, in UpdateStatusInput) (res StatusUpdateResult, err error) {
	ctx, finish := e.observe(ctx, "update_order_status",
		attribute.String("order_id", in.OrderID),
		attribute.String("status", string(in.Status)),
	)
	defer finish(&err)

	if err := requireActor(actor); err != nil {
		return StatusUpdateResult{}, err
	}
	if !in.Status.Valid() {
		return StatusUpdateResult{}, domain.Invalid("status", fmt.Sprintf("unknown order status %q", in.Status))
	}

	order, err := e.orders.Get(ctx, in.OrderID)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	if !actor.CanReadOrder(&order) {
		return StatusUpdateResult{}, domain.ErrForbidden
	}
	if lifecycle.CanTransitionOrder(order.Status, in.Status) && !actor.CanTransitionOrder(&order, in.Status) {
		return StatusUpdateResult{}, domain.ErrForbidden
	}

	if in.Status == domain.OrderStatusRefunded && lifecycle.CanTransitionOrder(order.Status, in.Status) {
		return e.refundRemaining(ctx, actor, order, in.Notes)
	}

	updated, effects, err := lifecycle.TransitionOrder(order, in.Status, lifecycle.OrderChange{
		TrackingNumber: in.TrackingNumber,
		Notes:          in.Notes,
		At:             e.now(),
	})
	if err != nil {
		e.illegalTransition("order", err)
		return StatusUpdateResult{}, err
	}

	if err := e.orders.Save(ctx, updated); err != nil {
		e.versionConflict("order", err)
		return StatusUpdateResult{}, err
	}
	updated.Version++

	if e.metrics != nil {
		e.metrics.RecordOrderTransition(string(order.Status), string(updated.Status))
	}
	e.log(ctx).WithFields(log.Fields{
		"order_id": order.ID,
		"from":     order.Status,
		"to":       updated.Status,
		"actor":    actor.ID,
	}).Info("order status changed")

	payload := map[string]any{
		"order_id": order.ID,
		"from":     string(order.Status),
		"to":       string(updated.Status),
	}
	e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventOrderStatusChanged, in.Notes, payload)
	if updated.Status == domain.OrderStatusCancelled {
		e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventOrderCancelled, in.Notes, map[string]any{
			"order_id": order.ID,
		})
	}

	failures := e.applyEffects(ctx, actor, updated, effects)
	return StatusUpdateResult{Order: updated, EffectFailures: failures}, nil
}

// refundRemaining переводит заказ в refunded возвратом невозвращённого остатка: запись
// возврата, смена статусов и возврат стока проходят через RefundOrder одной сагой.
func (e *Engine) refundRemaining(ctx context.Context, actor domain.Actor, order domain.Order, notes string) (StatusUpdateResult, error) {
	if !actor.CanRefund() {
		return StatusUpdateResult{}, domain.ErrForbidden
	}
	payments, err := e.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return StatusUpdateResult{}, fmt.Errorf("list payments: %w", err)
	}
	var captured *domain.Payment
	for i := range payments {
		if !payments[i].IsRefund() && payments[i].Status == domain.PaymentStatusCompleted {
			captured = &payments[i]
			break
		}
	}
	if captured == nil || order.PaymentStatus != domain.OrderPaymentPaid {
		return StatusUpdateResult{}, fmt.Errorf("order %s payment status is %s: %w", order.ID, order.PaymentStatus, domain.ErrPaymentNotCompleted)
	}

	reason := strings.TrimSpace(notes)
	if reason == "" {
		reason = "order refunded"
	}
	res, err := e.RefundOrder(ctx, actor, RefundInput{
		OrderID:     order.ID,
		AmountMinor: order.TotalMinor - domain.SumCompletedRefunds(payments),
		Reason:      reason,
		Method:      captured.Method,
	})
	if err != nil {
		return StatusUpdateResult{}, err
	}
	e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventOrderStatusChanged, reason, map[string]any{
		"order_id": order.ID,
		"from":     string(order.Status),
		"to":       string(res.Order.Status),
	})
	return StatusUpdateResult{Order: res.Order, EffectFailures: res.EffectFailures}, nil
}
