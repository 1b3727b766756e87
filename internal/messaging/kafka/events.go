package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka.
const (
	TopicOrderEvents      = "oms.order.events"
	TopicPaymentCallbacks = "oms.payment.callbacks"
	TopicDeadLetterQueue  = "oms.dlq"
)

// Kafka headers.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderTraceID       = "x-trace-id"
)

// Envelope — событие жизненного цикла заказа в том виде, в котором оно уходит в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentCallback — уведомление платёжного шлюза о новом статусе платежа.
// Платёж ищется по PaymentID, а если он пуст — по TransactionID.
type PaymentCallback struct {
	Gateway         string            `json:"gateway"`
	PaymentID       string            `json:"payment_id,omitempty"`
	TransactionID   string            `json:"transaction_id,omitempty"`
	Status          string            `json:"status"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	GatewayResponse map[string]string `json:"gateway_response,omitempty"`
}

// Validate проверяет обязательные поля callback'а.
func (c PaymentCallback) Validate() error {
	if strings.TrimSpace(c.PaymentID) == "" && strings.TrimSpace(c.TransactionID) == "" {
		return fmt.Errorf("payment_id or transaction_id is required")
	}
	if strings.TrimSpace(c.Status) == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// ParseEnvelope парсит событие заказа из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var event Envelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// ParsePaymentCallback парсит и проверяет callback шлюза.
func ParsePaymentCallback(message *sarama.ConsumerMessage) (*PaymentCallback, error) {
	var cb PaymentCallback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment callback: %w", err)
	}
	if err := cb.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payment callback: %w", err)
	}
	return &cb, nil
}

// Header возвращает значение заголовка сообщения.
func Header(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
