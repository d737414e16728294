// Команда dlq-replay возвращает события заказов из DLQ в основной topic.
//
// По умолчанию работает в dry-run режиме и только логирует кандидатов:
//
//	dlq-replay -brokers=localhost:9092 -limit=50
//	dlq-replay -brokers=localhost:9092 -execute
//
// Понимает оба формата DLQ: события outbox, не опубликованные после retry,
// и сообщения consumer-а, которые не удалось обработать.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	// replayOrigin не совпадает ни с одной репликой, поэтому все они обновят подписчиков.
	replayOrigin   = "dlq-replay"
	replayClientID = "storefront-dlq-replay"
)

var errSkip = errors.New("not a replayable dlq message")

type replayConfig struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type replayMessage struct {
	topic   string
	key     string
	value   json.RawMessage
	headers map[string]string
}

// consumerDeadLetter — сообщение, которое consumer не смог обработать.
type consumerDeadLetter struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxDeadLetter — событие outbox, которое worker не смог опубликовать.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	OrderID       string          `json:"order_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// replayDeps — подключения к Kafka. producer есть только в execute-режиме.
type replayDeps struct {
	client   offsetClient
	consumer partitionConsumerSource
	producer kafka.EventPublisher
	closers  []io.Closer
}

func (d *replayDeps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
}

var newReplayDeps = func(cfg replayConfig) (*replayDeps, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = replayClientID
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}
	deps := &replayDeps{client: client, consumer: consumer, closers: []io.Closer{client, consumer}}

	if !cfg.execute {
		return deps, nil
	}
	producer, err := kafka.NewProducer(cfg.brokers, replayClientID)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.producer = producer
	deps.closers = append(deps.closers, producer)
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug(".env not loaded")
	}
	defaults, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	cfg, err := parseFlags(os.Args[1:], defaults.Kafka)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// parseFlags читает флаги поверх настроек Kafka сервиса.
func parseFlags(args []string, defaults config.Kafka) (replayConfig, error) {
	var (
		brokersRaw string
		cfg        replayConfig
	)

	fs := flag.NewFlagSet("dlq-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", strings.Join(defaults.Brokers, ","), "Kafka brokers as comma-separated list (default: STOREFRONT_KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", defaults.DLQTopic, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", defaults.Topic, "target topic for replay")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return replayConfig{}, err
	}

	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	switch {
	case len(cfg.brokers) == 0:
		return replayConfig{}, errors.New("kafka brokers are required (-brokers or STOREFRONT_KAFKA_BROKERS)")
	case cfg.sourceTopic == "":
		return replayConfig{}, errors.New("source-topic is required")
	case cfg.targetTopic == "":
		return replayConfig{}, errors.New("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return replayConfig{}, errors.New("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return replayConfig{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return replayConfig{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg replayConfig) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := newReplayDeps(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	_, err = runReplay(ctx, cfg, deps.client, deps.consumer, deps.producer)
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

func runReplay(ctx context.Context, cfg replayConfig, client offsetClient, consumer partitionConsumerSource, producer kafka.EventPublisher) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer kafka.EventPublisher,
	cfg replayConfig,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case <-idle.C:
			return stats, nil
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			stats.processed++
			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

			replay, err := extractReplayMessage(msg, cfg.targetTopic)
			if err != nil {
				stats.skipped++
				entry := log.WithFields(fields)
				if !errors.Is(err, errSkip) {
					entry = entry.WithError(err)
				}
				entry.Warn("skip unsupported dlq message")
			} else if cfg.execute {
				if err := producer.PublishEvent(replay.topic, replay.key, replay.value, replay.headers); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
				stats.replayed++
			} else {
				fields["target_topic"] = replay.topic
				fields["key"] = replay.key
				fields["event_type"] = replay.headers[kafka.HeaderEventType]
				log.WithFields(fields).Info("dlq replay candidate")
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// extractReplayMessage восстанавливает исходное сообщение из DLQ.
// Непонятные сообщения возвращают errSkip.
func extractReplayMessage(msg *sarama.ConsumerMessage, targetTopic string) (replayMessage, error) {
	var dead consumerDeadLetter
	if err := json.Unmarshal(msg.Value, &dead); err == nil && dead.OriginalValue != "" {
		if !json.Valid([]byte(dead.OriginalValue)) {
			return replayMessage{}, fmt.Errorf("consumer dead letter: original value is not JSON")
		}
		topic := strings.TrimSpace(dead.OriginalTopic)
		if topic == "" {
			topic = targetTopic
		}
		return replayMessage{
			topic:   topic,
			key:     dead.OriginalKey,
			value:   json.RawMessage(dead.OriginalValue),
			headers: map[string]string{kafka.HeaderOrigin: replayOrigin},
		}, nil
	}

	var envelope kafka.OrderEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errSkip
	}
	var failed outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &failed); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(failed.Payload) == 0 || string(failed.Payload) == "null" {
		return replayMessage{}, errors.New("outbox dead letter has no original payload")
	}

	replay := kafka.OrderEnvelope{
		ID:            firstNonEmpty(failed.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(failed.AggregateType, envelope.AggregateType),
		OrderID:       firstNonEmpty(failed.OrderID, envelope.OrderID),
		EventType:     firstNonEmpty(failed.EventType, envelope.EventType),
		Payload:       failed.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic: targetTopic,
		key:   firstNonEmpty(replay.OrderID, replay.ID),
		value: value,
		headers: map[string]string{
			kafka.HeaderEventType: replay.EventType,
			kafka.HeaderOrigin:    replayOrigin,
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
