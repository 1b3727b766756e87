package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/lifecycle"
)

// CreatePaymentInput — новая попытка оплаты заказа.
type CreatePaymentInput struct {
	OrderID       string
	Method        domain.PaymentMethod
	TransactionID string
}

// ProcessPaymentInput — новый статус платежа от шлюза или оператора.
type ProcessPaymentInput struct {
	PaymentID       string
	Status          domain.PaymentStatus
	TransactionID   string
	GatewayResponse map[string]string
	FailureReason   string
}

// PaymentResult — платёж после перехода и заказ после проекции.
type PaymentResult struct {
	Payment        domain.Payment
	Order          domain.Order
	EffectFailures []error
}

// CreatePayment создаёт попытку оплаты на полную сумму заказа.
func (e *Engine) CreatePayment(ctx context.Context, actor domain.Actor, in CreatePaymentInput) (payment domain.Payment, err error) {
	ctx, finish := e.observe(ctx, "create_payment", attribute.String("order_id", in.OrderID))
	defer finish(&err)

	if err := requireActor(actor); err != nil {
		return domain.Payment{}, err
	}
	if !in.Method.Valid() {
		return domain.Payment{}, domain.Invalid("payment_method", fmt.Sprintf("unsupported method %q", in.Method))
	}
	if strings.HasPrefix(in.TransactionID, domain.RefundTransactionPrefix) {
		return domain.Payment{}, domain.Invalid("transaction_id", "prefix is reserved for refunds")
	}

	order, err := e.orders.Get(ctx, in.OrderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if !actor.CanActFor(order.UserID) {
		return domain.Payment{}, domain.ErrForbidden
	}
	switch {
	case order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded:
		return domain.Payment{}, domain.Invalid("order_id", fmt.Sprintf("order is %s", order.Status))
	case order.PaymentStatus == domain.OrderPaymentPaid || order.PaymentStatus == domain.OrderPaymentRefunded:
		return domain.Payment{}, domain.Invalid("order_id", "order is already paid")
	}
	// Одна живая попытка на заказ: две параллельные могут обе списать деньги.
	attempts, err := e.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("list payments: %w", err)
	}
	for i := range attempts {
		a := &attempts[i]
		if a.IsRefund() {
			continue
		}
		switch a.Status {
		case domain.PaymentStatusPending, domain.PaymentStatusProcessing:
			return domain.Payment{}, fmt.Errorf("order %s has payment %s in status %s: %w", order.ID, a.ID, a.Status, domain.ErrPaymentInProgress)
		case domain.PaymentStatusCompleted:
			return domain.Payment{}, domain.Invalid("order_id", "order is already paid")
		}
	}

	now := e.now()
	payment = domain.Payment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		TransactionID: in.TransactionID,
		Method:        in.Method,
		AmountMinor:   order.TotalMinor,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payment.TransactionID == "" {
		payment.TransactionID = "TXN-" + ulid.Make().String()
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errors.Join(errs...)
	}
	if err := e.payments.Create(ctx, payment); err != nil {
		return domain.Payment{}, err
	}

	e.emitEvent(ctx, actor, "payment", payment.ID, order.ID, domain.EventPaymentCreated, "", map[string]any{
		"payment_id":     payment.ID,
		"order_id":       order.ID,
		"transaction_id": payment.TransactionID,
		"method":         string(payment.Method),
		"amount_minor":   payment.AmountMinor,
	})
	e.log(ctx).WithFields(log.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"method":     payment.Method,
	}).Info("payment created")
	return payment, nil
}

// ProcessPayment двигает платёж по его таблице переходов и проецирует результат на заказ.
// Строки возвратов этой операцией не меняются.
func (e *Engine) ProcessPayment(ctx context.Context, actor domain.Actor, in ProcessPaymentInput) (res PaymentResult, err error) {
	ctx, finish := e.observe(ctx, "process_payment",
		attribute.String("payment_id", in.PaymentID),
		attribute.String("status", string(in.Status)),
	)
	defer finish(&err)

	if err := requireActor(actor); err != nil {
		return PaymentResult{}, err
	}
	if !actor.CanProcessPayment() {
		return PaymentResult{}, domain.ErrForbidden
	}
	if !in.Status.Valid() {
		return PaymentResult{}, domain.Invalid("status", fmt.Sprintf("unknown payment status %q", in.Status))
	}
	if strings.HasPrefix(in.TransactionID, domain.RefundTransactionPrefix) {
		return PaymentResult{}, domain.Invalid("transaction_id", "prefix is reserved for refunds")
	}

	payment, err := e.payments.Get(ctx, in.PaymentID)
	if err != nil {
		return PaymentResult{}, err
	}
	if payment.IsRefund() {
		return PaymentResult{}, domain.Invalid("payment_id", "refund records cannot change status")
	}

	updated, err := lifecycle.TransitionPayment(payment, in.Status, lifecycle.PaymentChange{
		TransactionID:   in.TransactionID,
		GatewayResponse: in.GatewayResponse,
		FailureReason:   in.FailureReason,
		At:              e.now(),
	})
	if err != nil {
		e.illegalTransition("payment", err)
		return PaymentResult{}, err
	}
	if err := e.payments.Save(ctx, updated); err != nil {
		e.versionConflict("payment", err)
		return PaymentResult{}, err
	}
	updated.Version++

	if e.metrics != nil {
		e.metrics.RecordPaymentTransition(string(payment.Status), string(updated.Status))
	}
	logger := e.log(ctx).WithFields(log.Fields{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"from":       payment.Status,
		"to":         updated.Status,
	})
	logger.Info("payment status changed")
	e.emitEvent(ctx, actor, "payment", payment.ID, payment.OrderID, domain.EventPaymentStatusChanged, updated.FailureReason, map[string]any{
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"from":       string(payment.Status),
		"to":         string(updated.Status),
	})

	projection, err := e.projectPayment(ctx, updated)
	if err != nil {
		logger.WithError(err).Error("payment saved but order projection failed")
		if e.metrics != nil {
			e.metrics.RecordSideEffectFailure("project_payment")
		}
		e.emitEvent(ctx, actor, "order", payment.OrderID, payment.OrderID, domain.EventSideEffectFailed, err.Error(), map[string]any{
			"order_id":   payment.OrderID,
			"payment_id": payment.ID,
			"effect":     "project_payment",
		})
		return PaymentResult{Payment: updated}, fmt.Errorf("project payment %s onto order %s: %w", payment.ID, payment.OrderID, err)
	}
	if projection.Anomaly != "" {
		e.paymentAnomaly(ctx, actor, updated, projection.Order, projection.Anomaly)
	}

	failures := e.applyEffects(ctx, actor, projection.Order, projection.Effects)
	return PaymentResult{Payment: updated, Order: projection.Order, EffectFailures: failures}, nil
}

// projectPayment перечитывает заказ и его попытки при конфликте версии: проекция вычисляется
// заново от свежего состояния, поэтому повтор не дублирует эффекты.
func (e *Engine) projectPayment(ctx context.Context, payment domain.Payment) (lifecycle.Projection, error) {
	var lastErr error
	for attempt := 0; attempt < projectionAttempts; attempt++ {
		order, err := e.orders.Get(ctx, payment.OrderID)
		if err != nil {
			return lifecycle.Projection{}, err
		}
		attempts, err := e.payments.ListByOrder(ctx, payment.OrderID)
		if err != nil {
			return lifecycle.Projection{}, fmt.Errorf("list payments: %w", err)
		}
		projection := lifecycle.ProjectPayment(order, payment, attempts, e.now())
		if !projection.Changed {
			return projection, nil
		}
		updated := projection.Order
		err = e.orders.Save(ctx, updated)
		if err == nil {
			updated.Version++
			projection.Order = updated
			if updated.Status != order.Status {
				if e.metrics != nil {
					e.metrics.RecordOrderTransition(string(order.Status), string(updated.Status))
				}
				e.emitEvent(ctx, domain.SystemActor, "order", order.ID, order.ID, domain.EventOrderStatusChanged, "payment "+string(payment.Status), map[string]any{
					"order_id": order.ID,
					"from":     string(order.Status),
					"to":       string(updated.Status),
				})
			}
			return projection, nil
		}
		if !domain.IsVersionConflict(err) {
			return lifecycle.Projection{}, err
		}
		e.versionConflict("order", err)
		e.log(ctx).WithFields(log.Fields{
			"order_id": payment.OrderID,
			"attempt":  attempt + 1,
		}).Warn("order changed during payment projection, re-reading")
		lastErr = err
	}
	return lifecycle.Projection{}, lastErr
}

// paymentAnomaly фиксирует списание, которое заказ не ждал: деньги нужно вернуть вручную
// или через RefundOrder.
func (e *Engine) paymentAnomaly(ctx context.Context, actor domain.Actor, payment domain.Payment, order domain.Order, anomaly string) {
	if e.metrics != nil {
		e.metrics.RecordPaymentAnomaly(anomaly)
	}
	e.log(ctx).WithFields(log.Fields{
		"order_id":     order.ID,
		"payment_id":   payment.ID,
		"order_status": order.Status,
		"anomaly":      anomaly,
		"amount_minor": payment.AmountMinor,
	}).Warn("captured payment requires reconciliation")
	e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventPaymentReconciliationRequired, anomaly, map[string]any{
		"order_id":       order.ID,
		"payment_id":     payment.ID,
		"transaction_id": payment.TransactionID,
		"amount_minor":   payment.AmountMinor,
		"anomaly":        anomaly,
	})
}
