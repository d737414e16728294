package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// EventPublisher — часть Producer, нужная паблишеру outbox.
type EventPublisher interface {
	PublishEvent(topic, key string, event any, headers map[string]string) error
}

// OutboxTopicPublisher публикует события outbox в topic с ключом по id заказа,
// поэтому события одного заказа попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer EventPublisher
	topic    string
	origin   string
}

// NewOutboxPublisher создаёт паблишер outbox. origin помечает сообщения
// идентификатором реплики, чтобы она могла пропускать собственные события.
func NewOutboxPublisher(producer EventPublisher, topic, origin string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, origin: origin}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	headers := map[string]string{HeaderEventType: event.EventType}
	if p.origin != "" {
		headers[HeaderOrigin] = p.origin
	}
	return p.producer.PublishEvent(p.topic, key, OrderEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		OrderID:       event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
