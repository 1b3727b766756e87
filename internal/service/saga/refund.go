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

// RefundInput — запрос на возврат части или всей суммы заказа.
type RefundInput struct {
	OrderID     string
	AmountMinor int64
	Reason      string
	Method      domain.PaymentMethod
}

// RefundResult — запись возврата и заказ после неё.
type RefundResult struct {
	Refund         domain.Payment
	Order          domain.Order
	RefundedMinor  int64
	FullyRefunded  bool
	EffectFailures []error
}

// RefundOrder оформляет возврат по оплаченному заказу. Сумма всех возвратов не превышает total.
// Запись возврата и обновление заказа выполняются сагой: если заказ сохранить не удалось,
// запись возврата удаляется.
func (e *Engine) RefundOrder(ctx context.Context, actor domain.Actor, in RefundInput) (res RefundResult, err error) {
	ctx, finish := e.observe(ctx, "refund_order",
		attribute.String("order_id", in.OrderID),
		attribute.Int64("amount_minor", in.AmountMinor),
	)
	defer finish(&err)
	defer func() {
		if e.metrics == nil {
			return
		}
		if err != nil {
			e.metrics.RecordRefund(string(domain.KindOf(err)), 0)
			return
		}
		e.metrics.RecordRefund("ok", in.AmountMinor)
	}()

	if err := requireActor(actor); err != nil {
		return RefundResult{}, err
	}
	if !actor.CanRefund() {
		return RefundResult{}, domain.ErrForbidden
	}
	if in.AmountMinor <= 0 {
		return RefundResult{}, domain.Invalid("amount", "must be greater than zero")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return RefundResult{}, domain.Invalid("reason", "is required")
	}
	if !in.Method.Valid() {
		return RefundResult{}, domain.Invalid("payment_method", fmt.Sprintf("unsupported method %q", in.Method))
	}

	order, err := e.orders.Get(ctx, in.OrderID)
	if err != nil {
		return RefundResult{}, err
	}
	if order.PaymentStatus != domain.OrderPaymentPaid {
		return RefundResult{}, fmt.Errorf("order %s payment status is %s: %w", order.ID, order.PaymentStatus, domain.ErrPaymentNotCompleted)
	}
	if in.AmountMinor > order.TotalMinor {
		return RefundResult{}, fmt.Errorf("refund %d > total %d: %w", in.AmountMinor, order.TotalMinor, domain.ErrRefundExceedsOrderTotal)
	}
	payments, err := e.payments.ListByOrder(ctx, order.ID)
	if err != nil {
		return RefundResult{}, fmt.Errorf("list payments: %w", err)
	}
	already := domain.SumCompletedRefunds(payments)
	if already+in.AmountMinor > order.TotalMinor {
		return RefundResult{}, fmt.Errorf("refund %d with %d already refunded exceeds total %d: %w",
			in.AmountMinor, already, order.TotalMinor, domain.ErrRefundExceedsRemaining)
	}

	now := e.now()
	refund := domain.Payment{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		TransactionID:   domain.RefundTransactionPrefix + ulid.Make().String(),
		Method:          in.Method,
		AmountMinor:     in.AmountMinor,
		Status:          domain.PaymentStatusCompleted,
		GatewayResponse: map[string]string{"refund_reason": strings.TrimSpace(in.Reason)},
		ProcessedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	refunded := already + in.AmountMinor
	full := refunded == order.TotalMinor

	// Заказ сохраняется и при частичном возврате: рост версии отсекает параллельный
	// возврат, прочитавший ту же сумму уже возвращённого.
	updated := order.Clone()
	updated.UpdatedAt = now
	var effects lifecycle.Effects
	if full {
		updated, effects = lifecycle.ApplyFullRefund(order, now)
	}

	logger := e.log(ctx).WithFields(log.Fields{"order_id": order.ID, "refund_id": refund.ID})
	s := New("refund_order", logger, e.metrics)
	s.Add(Step{
		Name:  domain.SagaStepCreateRefund,
		Phase: PhaseRefund,
		Do: func(ctx context.Context) error {
			return e.payments.Create(ctx, refund)
		},
		Compensate: func(ctx context.Context) error {
			return e.payments.Delete(ctx, refund.ID)
		},
	})
	s.Add(Step{
		Name:  domain.SagaStepUpdateOrder,
		Phase: PhaseRefund,
		Do: func(ctx context.Context) error {
			return e.orders.Save(ctx, updated)
		},
	})

	if err := s.Run(ctx); err != nil {
		e.versionConflict("order", err)
		var compErr *CompensationError
		if errors.As(err, &compErr) {
			e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventCompensationFailed, err.Error(), map[string]any{
				"order_id":     order.ID,
				"refund_id":    refund.ID,
				"amount_minor": in.AmountMinor,
			})
		}
		logger.WithError(err).Warn("refund failed")
		return RefundResult{}, err
	}
	updated.Version++

	logger.WithFields(log.Fields{
		"amount_minor":   in.AmountMinor,
		"refunded_minor": refunded,
		"full":           full,
	}).Info("refund issued")
	e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventRefundIssued, in.Reason, map[string]any{
		"order_id":       order.ID,
		"refund_id":      refund.ID,
		"transaction_id": refund.TransactionID,
		"amount_minor":   in.AmountMinor,
		"refunded_minor": refunded,
	})
	if full {
		if e.metrics != nil && updated.Status != order.Status {
			e.metrics.RecordOrderTransition(string(order.Status), string(updated.Status))
		}
		e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventOrderRefunded, in.Reason, map[string]any{
			"order_id":     order.ID,
			"total_minor":  order.TotalMinor,
			"stock_return": len(effects.InventoryReleases) > 0,
		})
	}

	failures := e.applyEffects(ctx, actor, updated, effects)
	return RefundResult{
		Refund:         refund,
		Order:          updated,
		RefundedMinor:  refunded,
		FullyRefunded:  full,
		EffectFailures: failures,
	}, nil
}
