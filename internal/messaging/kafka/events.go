// Package kafka связывает transactional outbox заказов с Kafka: публикует
// события и раздаёт их репликам, чтобы те обновляли живые подписки.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderOrigin        = "x-origin"
)

// OrderEnvelope — сообщение в TopicOrderEvents, обёртка над событием outbox.
type OrderEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	OrderID       string          `json:"order_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderSnapshot — полезная нагрузка события: состояние заказа после изменения.
type OrderSnapshot struct {
	OrderID       string `json:"order_id"`
	Reference     string `json:"reference"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	OrderStatus   string `json:"order_status"`
	Total         int64  `json:"total"`
	Version       int64  `json:"version"`
	Reason        string `json:"reason,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// ParseOrderEnvelope разбирает сообщение из TopicOrderEvents.
func ParseOrderEnvelope(message *sarama.ConsumerMessage) (OrderEnvelope, error) {
	var envelope OrderEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return OrderEnvelope{}, fmt.Errorf("unmarshal order envelope: %w", err)
	}
	if envelope.OrderID == "" {
		return OrderEnvelope{}, fmt.Errorf("order envelope %q: missing order_id", envelope.ID)
	}
	return envelope, nil
}

// Snapshot декодирует состояние заказа из Payload.
func (e OrderEnvelope) Snapshot() (OrderSnapshot, error) {
	var snap OrderSnapshot
	if err := json.Unmarshal(e.Payload, &snap); err != nil {
		return OrderSnapshot{}, fmt.Errorf("unmarshal order snapshot: %w", err)
	}
	return snap, nil
}

func header(message *sarama.ConsumerMessage, key string) string {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
