// Package payment принимает уведомления платёжных шлюзов и переводит их в переходы
// платежа через движок заказов.
package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
)

// Результаты обработки callback'а для метрик.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultRetry     = "retry"
)

// Processor — часть движка, нужная обработчику callback'ов.
type Processor interface {
	GetPayment(ctx context.Context, actor domain.Actor, id string) (domain.Payment, error)
	GetPaymentByTransaction(ctx context.Context, actor domain.Actor, transactionID string) (domain.Payment, error)
	ProcessPayment(ctx context.Context, actor domain.Actor, in saga.ProcessPaymentInput) (saga.PaymentResult, error)
}

// CallbackHandler применяет callback'и шлюза. Повторная доставка того же статуса
// подтверждается без изменений.
type CallbackHandler struct {
	engine  Processor
	logger  *log.Entry
	metrics *metrics.OutboxMetrics
}

// Option настраивает CallbackHandler.
type Option func(*CallbackHandler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *CallbackHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics подключает счётчик callback'ов.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(h *CallbackHandler) {
		h.metrics = m
	}
}

// NewCallbackHandler создаёт обработчик поверх движка.
func NewCallbackHandler(engine Processor, opts ...Option) *CallbackHandler {
	h := &CallbackHandler{
		engine: engine,
		logger: log.WithField("component", "payment-callbacks"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle применяет один callback. Ошибки, повтор которых ничего не изменит,
// помечаются kafka.Permanent.
func (h *CallbackHandler) Handle(ctx context.Context, cb kafka.PaymentCallback) (err error) {
	result := ResultApplied
	defer func() {
		if h.metrics != nil {
			h.metrics.RecordCallback(result)
		}
	}()

	if err := cb.Validate(); err != nil {
		result = ResultRejected
		return kafka.Permanent(domain.Invalid("callback", err.Error()))
	}
	status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(cb.Status)))
	if !status.Valid() {
		result = ResultRejected
		return kafka.Permanent(domain.Invalid("status", fmt.Sprintf("unknown payment status %q", cb.Status)))
	}

	gateway := strings.TrimSpace(cb.Gateway)
	if gateway == "" {
		gateway = "gateway"
	}
	actor := domain.Actor{ID: gateway, Role: domain.RoleGateway}

	payment, err := h.lookup(ctx, actor, cb)
	if err != nil {
		result = classify(err)
		return wrapResult(result, err)
	}

	logger := h.logger.WithFields(log.Fields{
		"gateway":    gateway,
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"status":     status,
	})
	if payment.Status == status {
		result = ResultDuplicate
		logger.Info("duplicate payment callback acknowledged")
		return nil
	}

	transactionID := cb.TransactionID
	if transactionID == payment.TransactionID {
		transactionID = ""
	}
	res, err := h.engine.ProcessPayment(ctx, actor, saga.ProcessPaymentInput{
		PaymentID:       payment.ID,
		Status:          status,
		TransactionID:   transactionID,
		GatewayResponse: cb.GatewayResponse,
		FailureReason:   cb.FailureReason,
	})
	if err != nil {
		if res.Payment.ID != "" {
			// Платёж сохранён, не удалась только проекция на заказ: повтор callback'а
			// увидит тот же статус и будет подтверждён как дубликат.
			logger.WithError(err).Error("payment callback applied with projection failure")
			return nil
		}
		result = classify(err)
		logger.WithError(err).WithField("result", result).Warn("payment callback not applied")
		return wrapResult(result, err)
	}
	if len(res.EffectFailures) > 0 {
		logger.WithField("effect_failures", len(res.EffectFailures)).Warn("payment callback applied with effect failures")
	}
	logger.Info("payment callback applied")
	return nil
}

// HandleMessage — адаптер для kafka.Consumer.
func (h *CallbackHandler) HandleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	cb, err := kafka.ParsePaymentCallback(message)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordCallback(ResultRejected)
		}
		return kafka.Permanent(err)
	}
	return h.Handle(ctx, *cb)
}

func (h *CallbackHandler) lookup(ctx context.Context, actor domain.Actor, cb kafka.PaymentCallback) (domain.Payment, error) {
	if id := strings.TrimSpace(cb.PaymentID); id != "" {
		return h.engine.GetPayment(ctx, actor, id)
	}
	return h.engine.GetPaymentByTransaction(ctx, actor, strings.TrimSpace(cb.TransactionID))
}

// classify делит ошибки на временные (конфликт версий, сбой хранилища) и окончательные.
func classify(err error) string {
	switch domain.KindOf(err) {
	case domain.KindConcurrentModification, domain.KindInternal:
		return ResultRetry
	default:
		return ResultRejected
	}
}

func wrapResult(result string, err error) error {
	if result == ResultRejected {
		return kafka.Permanent(err)
	}
	return err
}

// MessageHandler возвращает функцию для kafka.NewConsumerWithDLQ.
func (h *CallbackHandler) MessageHandler() kafka.MessageHandler {
	return h.HandleMessage
}
