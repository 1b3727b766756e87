package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics — метрики жизненного цикла заказов, платежей и компенсаций.
type EngineMetrics struct {
	ordersCreated        prometheus.Counter
	orderCreationFailed  *prometheus.CounterVec
	orderTransitions     *prometheus.CounterVec
	illegalTransitions   *prometheus.CounterVec
	paymentTransitions   *prometheus.CounterVec
	refunds              *prometheus.CounterVec
	refundedAmount       prometheus.Counter
	compensationFailures *prometheus.CounterVec
	sideEffectFailures   *prometheus.CounterVec
	versionConflicts     *prometheus.CounterVec
	paymentAnomalies     *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
	stepDuration      *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeOperations prometheus.Gauge
}

// NewEngineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewEngineMetrics() *EngineMetrics {
	return NewEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewEngineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders created successfully",
		}),
		orderCreationFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_order_creation_failed_total",
			Help: "Total number of failed order creations grouped by phase and error kind",
		}, []string{"phase", "kind"}),
		orderTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_order_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		illegalTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_illegal_transitions_total",
			Help: "Total number of rejected status transitions",
		}, []string{"entity"}),
		paymentTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_payment_transitions_total",
			Help: "Total number of payment status transitions",
		}, []string{"from", "to"}),
		refunds: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_refunds_total",
			Help: "Total number of refunds grouped by result",
		}, []string{"result"}),
		refundedAmount: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_refunded_amount_minor_total",
			Help: "Total refunded amount in minor units",
		}),
		compensationFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_compensation_failures_total",
			Help: "Total number of failed compensations requiring manual reconciliation",
		}, []string{"step"}),
		sideEffectFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_side_effect_failures_total",
			Help: "Total number of failed transition side effects (stock release, coupon decrement)",
		}, []string{"effect"}),
		versionConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts",
		}, []string{"entity"}),
		paymentAnomalies: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_payment_reconciliation_required_total",
			Help: "Total number of captured payments that need manual reconciliation",
		}, []string{"anomaly"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_saga_step_duration_seconds",
			Help:    "Duration of individual saga steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of events enqueued to outbox",
		}),
		activeOperations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_active_operations",
			Help: "Number of engine operations in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *EngineMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderCreationFailed считает неудачное создание заказа по фазе саги и коду ошибки.
func (m *EngineMetrics) RecordOrderCreationFailed(phase, kind string) {
	m.orderCreationFailed.WithLabelValues(phase, kind).Inc()
}

// RecordOrderTransition считает переход статуса заказа.
func (m *EngineMetrics) RecordOrderTransition(from, to string) {
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

// RecordIllegalTransition считает отклонённый переход (entity: order|payment).
func (m *EngineMetrics) RecordIllegalTransition(entity string) {
	m.illegalTransitions.WithLabelValues(entity).Inc()
}

// RecordPaymentTransition считает переход статуса платежа.
func (m *EngineMetrics) RecordPaymentTransition(from, to string) {
	m.paymentTransitions.WithLabelValues(from, to).Inc()
}

// RecordRefund считает возврат; сумма учитывается только для успешных.
func (m *EngineMetrics) RecordRefund(result string, amountMinor int64) {
	m.refunds.WithLabelValues(result).Inc()
	if result == "ok" && amountMinor > 0 {
		m.refundedAmount.Add(float64(amountMinor))
	}
}

// RecordCompensationFailure считает компенсацию, которую не удалось выполнить.
func (m *EngineMetrics) RecordCompensationFailure(step string) {
	m.compensationFailures.WithLabelValues(step).Inc()
}

// RecordSideEffectFailure считает неудавшийся побочный эффект перехода.
func (m *EngineMetrics) RecordSideEffectFailure(effect string) {
	m.sideEffectFailures.WithLabelValues(effect).Inc()
}

// RecordPaymentAnomaly считает списание, требующее ручной сверки.
func (m *EngineMetrics) RecordPaymentAnomaly(anomaly string) {
	m.paymentAnomalies.WithLabelValues(anomaly).Inc()
}

// RecordVersionConflict считает конфликт optimistic locking.
func (m *EngineMetrics) RecordVersionConflict(entity string) {
	m.versionConflicts.WithLabelValues(entity).Inc()
}

// RecordOperationStarted увеличивает количество операций в работе.
func (m *EngineMetrics) RecordOperationStarted() {
	m.activeOperations.Inc()
}

// RecordOperationFinished уменьшает количество операций в работе и пишет длительность.
func (m *EngineMetrics) RecordOperationFinished(operation, result string, duration time.Duration) {
	m.activeOperations.Dec()
	m.operationDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага саги.
func (m *EngineMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *EngineMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *EngineMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
