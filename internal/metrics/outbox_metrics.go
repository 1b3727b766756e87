package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics — метрики публикации transactional outbox и обработки callback'ов шлюзов.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
	callbacks        *prometheus.CounterVec
}

// NewOutboxMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
		callbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_payment_callbacks_total",
			Help: "Total number of consumed payment gateway callbacks grouped by result.",
		}, []string{"result"}),
	}
}

// RecordPublish считает попытку публикации: sent, retry_error, failed, dlq_failed, skipped.
func (m *OutboxMetrics) RecordPublish(result string) {
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pendingRecords.Set(float64(pending))
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.oldestPendingAge.Set(oldestAge.Seconds())
}

// RecordCallback считает обработанный callback шлюза по результату.
func (m *OutboxMetrics) RecordCallback(result string) {
	m.callbacks.WithLabelValues(result).Inc()
}

// PendingCollector отдаёт gauge размера backlog (для тестов и дашбордов).
func (m *OutboxMetrics) PendingCollector() prometheus.Collector { return m.pendingRecords }

// OldestAgeCollector отдаёт gauge возраста самого старого события.
func (m *OutboxMetrics) OldestAgeCollector() prometheus.Collector { return m.oldestPendingAge }

// CallbackCounter отдаёт счётчик callback'ов шлюза.
func (m *OutboxMetrics) CallbackCounter() *prometheus.CounterVec { return m.callbacks }
