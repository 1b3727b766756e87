package payment

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/saga"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

var buyer = domain.Actor{ID: "user-1", Role: domain.RoleCustomer}

type env struct {
	engine  *saga.Engine
	handler *CallbackHandler
	metrics *metrics.OutboxMetrics
	order   domain.Order
	payment domain.Payment
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("test", t.Name())

	products := memory.NewProductRepository()
	require.NoError(t, products.Upsert(ctx, domain.Product{
		ID: "p-1", Name: "Keyboard", SKU: "KB-1", PriceMinor: 5000, StockQuantity: 10, IsActive: true,
	}))
	engine := saga.NewEngine(saga.Dependencies{
		Orders:   memory.NewOrderRepository(),
		Payments: memory.NewPaymentRepository(),
		Products: products,
		Coupons:  memory.NewCouponRepository(),
		Carts:    memory.NewCartRepository(),
		Outbox:   memory.NewOutboxRepository(),
		Timeline: memory.NewTimelineRepository(),
	}, saga.WithLogger(entry))

	order, err := engine.CreateOrder(ctx, buyer, saga.CreateOrderInput{
		UserID: buyer.ID,
		Items:  []saga.ItemInput{{ProductID: "p-1", Quantity: 2}},
		ShippingAddress: domain.Address{
			FullName: "Ivan Petrov", Line1: "Lenina 1", City: "Moscow", PostalCode: "101000", Country: "RU",
		},
		ShippingMethod: "standard",
	})
	require.NoError(t, err)
	payment, err := engine.CreatePayment(ctx, buyer, saga.CreatePaymentInput{
		OrderID:       order.ID,
		Method:        domain.PaymentMethodGatewayA,
		TransactionID: "TXN-1",
	})
	require.NoError(t, err)

	m := metrics.NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())
	return &env{
		engine:  engine,
		handler: NewCallbackHandler(engine, WithLogger(entry), WithMetrics(m)),
		metrics: m,
		order:   order,
		payment: payment,
	}
}

func (e *env) callbacks(result string) float64 {
	return testutil.ToFloat64(e.metrics.CallbackCounter().WithLabelValues(result))
}

func TestHandle_CompletesPaymentAndConfirmsOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.handler.Handle(ctx, kafka.PaymentCallback{Gateway: "gw-a", PaymentID: e.payment.ID, Status: "processing"}))
	require.NoError(t, e.handler.Handle(ctx, kafka.PaymentCallback{Gateway: "gw-a", TransactionID: "TXN-1", Status: "COMPLETED"}))

	order, err := e.engine.GetOrder(ctx, buyer, e.order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, order.Status)
	require.Equal(t, domain.OrderPaymentPaid, order.PaymentStatus)
	require.Equal(t, 2.0, e.callbacks(ResultApplied))
}

func TestHandle_DuplicateIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cb := kafka.PaymentCallback{Gateway: "gw-a", PaymentID: e.payment.ID, Status: "processing"}
	require.NoError(t, e.handler.Handle(ctx, cb))
	require.NoError(t, e.handler.Handle(ctx, cb))

	payment, err := e.engine.GetPayment(ctx, buyer, e.payment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusProcessing, payment.Status)
	require.Equal(t, 1.0, e.callbacks(ResultDuplicate))
}

func TestHandle_PermanentFailures(t *testing.T) {
	cases := []struct {
		name string
		cb   func(e *env) kafka.PaymentCallback
		kind domain.Kind
	}{
		{
			name: "unknown status",
			cb: func(e *env) kafka.PaymentCallback {
				return kafka.PaymentCallback{PaymentID: e.payment.ID, Status: "settled"}
			},
			kind: domain.KindValidation,
		},
		{
			name: "unknown payment",
			cb: func(*env) kafka.PaymentCallback {
				return kafka.PaymentCallback{PaymentID: "missing", Status: "processing"}
			},
			kind: domain.KindNotFound,
		},
		{
			name: "illegal transition",
			cb: func(e *env) kafka.PaymentCallback {
				return kafka.PaymentCallback{PaymentID: e.payment.ID, Status: "completed"}
			},
			kind: domain.KindIllegalTransition,
		},
		{
			name: "no identifiers",
			cb:   func(*env) kafka.PaymentCallback { return kafka.PaymentCallback{Status: "processing"} },
			kind: domain.KindValidation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			err := e.handler.Handle(context.Background(), tc.cb(e))
			require.Error(t, err)
			require.True(t, kafka.IsPermanent(err), "error must skip retries: %v", err)
			require.Equal(t, tc.kind, domain.KindOf(err))
			require.Equal(t, 1.0, e.callbacks(ResultRejected))
		})
	}
}

func TestHandle_VersionConflictIsRetryable(t *testing.T) {
	stub := &stubProcessor{
		payment:    domain.Payment{ID: "pay-1", OrderID: "ord-1", Status: domain.PaymentStatusPending},
		processErr: domain.ErrConcurrentModification,
	}
	h := NewCallbackHandler(stub)

	err := h.Handle(context.Background(), kafka.PaymentCallback{PaymentID: "pay-1", Status: "processing"})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)
	require.False(t, kafka.IsPermanent(err))
}

func TestHandleMessage_BrokenPayloadGoesToDLQ(t *testing.T) {
	h := NewCallbackHandler(&stubProcessor{})
	err := h.MessageHandler()(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
	require.True(t, kafka.IsPermanent(err))
}

func TestHandleMessage_AppliesCallback(t *testing.T) {
	e := newEnv(t)
	msg := &sarama.ConsumerMessage{
		Topic: kafka.TopicPaymentCallbacks,
		Value: []byte(`{"gateway":"gw-a","payment_id":"` + e.payment.ID + `","status":"failed","failure_reason":"card declined"}`),
	}
	require.NoError(t, e.handler.HandleMessage(context.Background(), msg))

	payment, err := e.engine.GetPayment(context.Background(), buyer, e.payment.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusFailed, payment.Status)
	require.Equal(t, "card declined", payment.FailureReason)
}

type stubProcessor struct {
	payment    domain.Payment
	processErr error
}

func (s *stubProcessor) GetPayment(context.Context, domain.Actor, string) (domain.Payment, error) {
	if s.payment.ID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *stubProcessor) GetPaymentByTransaction(ctx context.Context, actor domain.Actor, _ string) (domain.Payment, error) {
	return s.GetPayment(ctx, actor, "")
}

func (s *stubProcessor) ProcessPayment(context.Context, domain.Actor, saga.ProcessPaymentInput) (saga.PaymentResult, error) {
	if s.processErr != nil {
		return saga.PaymentResult{}, s.processErr
	}
	return saga.PaymentResult{}, errors.New("unexpected call")
}
