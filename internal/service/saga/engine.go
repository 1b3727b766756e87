package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/lifecycle"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/pricing"
	"github.com/vladislavdragonenkov/orderengine/internal/service/coupon"
	"github.com/vladislavdragonenkov/orderengine/internal/service/inventory"
	"github.com/vladislavdragonenkov/orderengine/internal/tracing"
)

const (
	defaultNumberAttempts = 5
	defaultListLimit      = 50
	maxListLimit          = 500
	projectionAttempts    = 3
)

// Dependencies — хранилища, с которыми работает движок. Carts, Outbox и Timeline необязательны.
type Dependencies struct {
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Products domain.ProductRepository
	Coupons  domain.CouponRepository
	Carts    domain.CartRepository
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
}

// Service — операции движка, доступные транспортам (gRPC, HTTP, consumer callback'ов).
type Service interface {
	CreateOrder(ctx context.Context, actor domain.Actor, in CreateOrderInput) (domain.Order, error)
	PreviewPrice(ctx context.Context, actor domain.Actor, in PreviewInput) (pricing.Breakdown, error)
	GetOrder(ctx context.Context, actor domain.Actor, id string) (domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error)
	Timeline(ctx context.Context, actor domain.Actor, orderID string) ([]domain.TimelineEvent, error)
	ListPayments(ctx context.Context, actor domain.Actor, orderID string) ([]domain.Payment, error)
	UpdateOrderStatus(ctx context.Context, actor domain.Actor, in UpdateStatusInput) (StatusUpdateResult, error)
	CreatePayment(ctx context.Context, actor domain.Actor, in CreatePaymentInput) (domain.Payment, error)
	ProcessPayment(ctx context.Context, actor domain.Actor, in ProcessPaymentInput) (PaymentResult, error)
	RefundOrder(ctx context.Context, actor domain.Actor, in RefundInput) (RefundResult, error)
}

var _ Service = (*Engine)(nil)

// Engine — единая точка входа для операций над заказами, платежами и возвратами.
type Engine struct {
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	products  domain.ProductRepository
	carts     domain.CartRepository
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	inventory *inventory.Ledger
	coupons   *coupon.Ledger

	charges        pricing.ChargesPolicy
	logger         *log.Entry
	metrics        *metrics.EngineMetrics
	now            func() time.Time
	orderNumber    func(time.Time) string
	numberAttempts int
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics включает сбор метрик.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithChargesPolicy задаёт правила налога и доставки.
func WithChargesPolicy(p pricing.ChargesPolicy) Option {
	return func(e *Engine) { e.charges = p }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOrderNumberGenerator подменяет генератор номеров заказов.
func WithOrderNumberGenerator(gen func(time.Time) string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.orderNumber = gen
		}
	}
}

// NewEngine собирает движок.
func NewEngine(deps Dependencies, opts ...Option) *Engine {
	e := &Engine{
		orders:         deps.Orders,
		payments:       deps.Payments,
		products:       deps.Products,
		carts:          deps.Carts,
		outbox:         deps.Outbox,
		timeline:       deps.Timeline,
		logger:         log.New().WithField("component", "engine"),
		now:            func() time.Time { return time.Now().UTC() },
		orderNumber:    NewOrderNumber,
		numberAttempts: defaultNumberAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.inventory = inventory.NewLedger(deps.Products, e.logger.WithField("component", "inventory"))
	e.coupons = coupon.NewLedger(deps.Coupons,
		coupon.WithClock(e.now),
		coupon.WithLogger(e.logger.WithField("component", "coupon")),
	)
	return e
}

// NewOrderNumber формирует номер вида ORD-20240501-7ZK3QX2M: дата плюс случайный хвост ULID.
func NewOrderNumber(at time.Time) string {
	id := ulid.Make().String()
	return "ORD-" + at.UTC().Format("20060102") + "-" + id[len(id)-8:]
}

// observe открывает span и считает длительность операции. Вызывается как
// ctx, finish := e.observe(...); defer finish(&err).
func (e *Engine) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := tracing.StartSpan(ctx, "engine."+operation, attrs...)
	start := time.Now()
	if e.metrics != nil {
		e.metrics.RecordOperationStarted()
	}
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		tracing.End(span, err)
		if e.metrics != nil {
			result := "ok"
			if err != nil {
				result = string(domain.KindOf(err))
			}
			e.metrics.RecordOperationFinished(operation, result, time.Since(start))
		}
	}
}

func (e *Engine) log(ctx context.Context) *log.Entry {
	if traceID := tracing.TraceID(ctx); traceID != "" {
		return e.logger.WithField("trace_id", traceID)
	}
	return e.logger
}

// emitEvent пишет событие в outbox и timeline. Ошибки записи не прерывают операцию.
func (e *Engine) emitEvent(ctx context.Context, actor domain.Actor, aggregateType, aggregateID, orderID, eventType, reason string, payload map[string]any) {
	now := e.now()

	if e.timeline != nil && orderID != "" {
		err := e.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Actor:    actor.ID,
			Occurred: now,
		})
		if err != nil {
			e.log(ctx).WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Warn("failed to append timeline event")
		} else if e.metrics != nil {
			e.metrics.RecordTimelineEvent()
		}
	}

	if e.outbox == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event_type"] = eventType
	payload["occurred_at"] = now.Format(time.RFC3339Nano)
	if reason != "" {
		payload["reason"] = reason
	}
	if actor.ID != "" {
		payload["actor_id"] = actor.ID
		payload["actor_role"] = string(actor.Role)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		e.log(ctx).WithError(err).WithField("event", eventType).Error("failed to marshal outbox payload")
		return
	}
	_, err = e.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
	})
	if err != nil {
		e.log(ctx).WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event":        eventType,
		}).Warn("failed to enqueue outbox event")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordOutboxEvent()
	}
}

// applyEffects выполняет побочные эффекты перехода после сохранения сущности.
// Каждый эффект выполняется независимо; сбои логируются, считаются и возвращаются.
func (e *Engine) applyEffects(ctx context.Context, actor domain.Actor, order domain.Order, effects lifecycle.Effects) []error {
	if effects.Empty() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failures []error
	fail := func(effect domain.SagaStep, subject string, err error) {
		e.log(ctx).WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"effect":   effect,
			"subject":  subject,
		}).Error("side effect failed after commit")
		if e.metrics != nil {
			e.metrics.RecordSideEffectFailure(string(effect))
		}
		e.emitEvent(ctx, actor, "order", order.ID, order.ID, domain.EventSideEffectFailed, err.Error(), map[string]any{
			"order_id": order.ID,
			"effect":   string(effect),
			"subject":  subject,
		})
		failures = append(failures, err)
	}

	for _, release := range effects.InventoryReleases {
		if err := e.inventory.Release(ctx, release.ProductID, release.Quantity); err != nil {
			fail(domain.SagaStepReleaseStock, release.ProductID, err)
		}
	}
	if effects.CouponDecrement != "" {
		if err := e.coupons.DecrementUsage(ctx, effects.CouponDecrement); err != nil {
			fail(domain.SagaStepDecrementCoupon, effects.CouponDecrement, err)
		}
	}
	return failures
}

func (e *Engine) versionConflict(entity string, err error) {
	if e.metrics != nil && errors.Is(err, domain.ErrConcurrentModification) {
		e.metrics.RecordVersionConflict(entity)
	}
}

func (e *Engine) illegalTransition(entity string, err error) {
	if e.metrics != nil && errors.Is(err, domain.ErrIllegalTransition) {
		e.metrics.RecordIllegalTransition(entity)
	}
}

func requireActor(actor domain.Actor) error {
	if !actor.Valid() {
		return domain.ErrForbidden
	}
	return nil
}
