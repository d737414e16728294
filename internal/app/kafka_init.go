package app

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// messaging — публикация outbox и чтение событий других реплик.
// Без брокеров publisher пишет события в лог, а consumer не создаётся.
type messaging struct {
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
}

func initMessaging(cfg config.Kafka, instance string, l *ledger.Ledger, logger *log.Entry) (*messaging, error) {
	if !cfg.Enabled() {
		logger.Info("kafka is not configured, outbox events are logged only")
		return &messaging{publisher: logPublisher{logger: logger.WithField("layer", "outbox")}}, nil
	}

	producer, err := kafka.NewProducer(cfg.Brokers, cfg.ClientID)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	m := &messaging{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.Topic, instance),
		dlq:       kafka.NewOutboxPublisher(producer, cfg.DLQTopic, instance),
	}

	consumerLogger := logger.WithField("layer", "kafka-consumer")
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.Group(instance), []string{cfg.Topic},
		kafka.NewRefreshHandler(l, instance, consumerLogger),
		kafka.WithDLQ(producer),
		kafka.WithConsumerLogger(consumerLogger),
	)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	m.consumer = consumer

	logger.WithFields(log.Fields{
		"brokers":  cfg.Brokers,
		"topic":    cfg.Topic,
		"instance": instance,
	}).Info("kafka initialized")
	return m, nil
}

func (m *messaging) start(ctx context.Context) {
	if m != nil && m.consumer != nil {
		m.consumer.Start(ctx)
	}
}

// close останавливает consumer и закрывает producer.
func (m *messaging) close(logger *log.Entry) {
	if m == nil {
		return
	}
	if m.consumer != nil {
		if err := m.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if m.producer != nil {
		if err := m.producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}

// logPublisher подтверждает события outbox записью в лог.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	}).Debug("outbox event")
	return nil
}

// instanceID различает реплики: по нему consumer пропускает собственные события.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "storefront"
	}
	return host + "-" + uuid.NewString()[:8]
}
