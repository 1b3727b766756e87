package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SagaStep задаёт имена шагов для метрик/логов.
type SagaStep string

const (
	SagaStepPersistOrder    SagaStep = "persist_order"
	SagaStepPersistItems    SagaStep = "persist_items"
	SagaStepReserveStock    SagaStep = "reserve_stock"
	SagaStepIncrementCoupon SagaStep = "increment_coupon"
	SagaStepReleaseStock    SagaStep = "release_stock"
	SagaStepDecrementCoupon SagaStep = "decrement_coupon"
	SagaStepCreateRefund    SagaStep = "create_refund"
	SagaStepUpdateOrder     SagaStep = "update_order"
)

// Типы событий жизненного цикла; общие для outbox и timeline.
const (
	EventOrderCreated         = "OrderCreated"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventOrderCancelled       = "OrderCancelled"
	EventOrderRefunded        = "OrderRefunded"
	EventPaymentCreated       = "PaymentCreated"
	EventPaymentStatusChanged = "PaymentStatusChanged"
	EventRefundIssued         = "RefundIssued"
	EventSideEffectFailed     = "SideEffectFailed"
	EventCompensationFailed   = "CompensationFailed"
	// EventPaymentReconciliationRequired — деньги списаны там, где заказ их не ждёт.
	EventPaymentReconciliationRequired = "PaymentReconciliationRequired"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
