package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	testDLQ    = "storefront.dlq"
	testTopic  = "storefront.order.events"
	consumerDL = `{"original_topic":"storefront.order.events","original_partition":0,"original_offset":7,"original_key":"order-1","original_value":"{\"id\":\"evt-1\",\"order_id\":\"order-1\"}","error_message":"boom"}`
)

func testKafka() config.Kafka {
	return config.Kafka{Brokers: []string{"broker-1:9092"}, Topic: testTopic, DLQTopic: testDLQ}
}

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(""))
}

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil, testKafka())
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092"}, cfg.brokers)
	require.Equal(t, testDLQ, cfg.sourceTopic)
	require.Equal(t, testTopic, cfg.targetTopic)
	require.Equal(t, defaultReplayLimit, cfg.limit)
	require.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
	require.False(t, cfg.execute)
}

func TestParseFlags_Overrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-limit=10",
		"-execute",
		"-from-newest",
		"-idle-timeout=3s",
	}, testKafka())
	require.NoError(t, err)
	require.Len(t, cfg.brokers, 2)
	require.Equal(t, 10, cfg.limit)
	require.True(t, cfg.execute)
	require.True(t, cfg.fromNewest)
	require.Equal(t, 3*time.Second, cfg.idleTimeout)
}

func TestParseFlags_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "brokers", args: []string{"-brokers="}, want: "kafka brokers are required"},
		{name: "source", args: []string{"-source-topic= "}, want: "source-topic is required"},
		{name: "target", args: []string{"-target-topic="}, want: "target-topic is required"},
		{name: "same topic", args: []string{"-target-topic=" + testDLQ}, want: "must differ"},
		{name: "limit", args: []string{"-limit=0"}, want: "limit must be > 0"},
		{name: "idle", args: []string{"-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
		{name: "unknown flag", args: []string{"-nope"}, want: "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, testKafka())
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestExtractReplayMessage_ConsumerDeadLetter(t *testing.T) {
	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(consumerDL)}, "fallback-topic")
	require.NoError(t, err)
	require.Equal(t, testTopic, got.topic)
	require.Equal(t, "order-1", got.key)
	require.JSONEq(t, `{"id":"evt-1","order_id":"order-1"}`, string(got.value))
	require.Equal(t, replayOrigin, got.headers[kafka.HeaderOrigin])
}

func TestExtractReplayMessage_ConsumerDeadLetterNotJSON(t *testing.T) {
	raw := `{"original_topic":"t","original_key":"k","original_value":"plain text"}`
	_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(raw)}, testTopic)
	require.Error(t, err)
	require.NotErrorIs(t, err, errSkip)
}

func outboxDeadLetterMessage(t *testing.T, original json.RawMessage) *sarama.ConsumerMessage {
	t.Helper()
	failed, err := json.Marshal(outboxDeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		OrderID:       "order-1",
		EventType:     domain.EventPaymentSettled,
		Payload:       original,
		PublishError:  "broker down",
	})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.OrderEnvelope{
		ID:            "outbox-1",
		AggregateType: "order",
		OrderID:       "order-1",
		EventType:     domain.EventPaymentSettled,
		Payload:       failed,
		PublishedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: value}
}

func TestExtractReplayMessage_OutboxDeadLetter(t *testing.T) {
	original := json.RawMessage(`{"order_id":"order-1","payment_status":"paid","order_status":"confirmed"}`)

	got, err := extractReplayMessage(outboxDeadLetterMessage(t, original), testTopic)
	require.NoError(t, err)
	require.Equal(t, testTopic, got.topic)
	require.Equal(t, "order-1", got.key)
	require.Equal(t, domain.EventPaymentSettled, got.headers[kafka.HeaderEventType])
	require.Equal(t, replayOrigin, got.headers[kafka.HeaderOrigin])

	// Восстановленное сообщение читается как обычное событие заказа.
	envelope, err := kafka.ParseOrderEnvelope(&sarama.ConsumerMessage{Value: got.value})
	require.NoError(t, err)
	require.Equal(t, "outbox-1", envelope.ID)
	snapshot, err := envelope.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "paid", snapshot.PaymentStatus)
}

func TestExtractReplayMessage_OutboxWithoutOriginalPayload(t *testing.T) {
	_, err := extractReplayMessage(outboxDeadLetterMessage(t, nil), testTopic)
	require.ErrorContains(t, err, "no original payload")
}

func TestExtractReplayMessage_Unknown(t *testing.T) {
	for _, raw := range []string{`{"foo":"bar"}`, `not json`} {
		_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(raw)}, testTopic)
		require.ErrorIs(t, err, errSkip, raw)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "x", firstNonEmpty("", "  ", "x", "y"))
	require.Empty(t, firstNonEmpty("", " "))
}

func replayCfg(execute bool) replayConfig {
	return replayConfig{
		sourceTopic: testDLQ,
		targetTopic: testTopic,
		limit:       10,
		execute:     execute,
		idleTimeout: 20 * time.Millisecond,
	}
}

func singleMessageSource(value string) *stubPartitionConsumerSource {
	return &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(value)}}),
	}}
}

func TestProcessPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := singleMessageSource(consumerDL)

	stats, err := processPartition(context.Background(), consumer, client, nil, replayCfg(false), 0, 10)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 1, replayed: 1}, stats)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)
}

func TestProcessPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	producer := &stubProducer{}

	stats, err := processPartition(context.Background(), singleMessageSource(consumerDL), client, producer, replayCfg(true), 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.Len(t, producer.sent, 1)
	require.Equal(t, testTopic, producer.sent[0].topic)
	require.Equal(t, "order-1", producer.sent[0].key)
}

func TestProcessPartition_FromNewestStartsWithinLimit(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 3, newest: 10}}}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)}}
	cfg := replayCfg(false)
	cfg.fromNewest = true

	_, err := processPartition(context.Background(), consumer, client, nil, cfg, 0, 4)
	require.NoError(t, err)
	require.Equal(t, int64(6), consumer.calls[0].offset)
}

func TestProcessPartition_EmptyPartition(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 5}}}
	consumer := &stubPartitionConsumerSource{}

	stats, err := processPartition(context.Background(), consumer, client, nil, replayCfg(false), 0, 10)
	require.NoError(t, err)
	require.Zero(t, stats.processed)
	require.Empty(t, consumer.calls)
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := replayCfg(true)
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	offsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	_, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, offsetErr, &stubProducer{}, cfg, 0, 1)
	require.ErrorContains(t, err, "get oldest offset")

	_, err = processPartition(context.Background(), &stubPartitionConsumerSource{consumeErr: errors.New("consume")}, client, &stubProducer{}, cfg, 0, 1)
	require.ErrorContains(t, err, "consume partition 0")

	failing := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	failing.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: failing}}
	_, err = processPartition(context.Background(), consumer, client, &stubProducer{}, cfg, 0, 1)
	require.ErrorContains(t, err, "consumer error")

	stats, err := processPartition(context.Background(), singleMessageSource(`{"id":"x","payload":"not-an-object"}`), client, &stubProducer{}, cfg, 0, 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.skipped)

	_, err = processPartition(context.Background(), singleMessageSource(consumerDL), client, &stubProducer{err: errors.New("send fail")}, cfg, 0, 1)
	require.ErrorContains(t, err, "publish replay message")
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := replayCfg(false)
	cfg.idleTimeout = 10 * time.Millisecond

	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}, client, nil, cfg, 0, 1)
	require.NoError(t, err)
	require.Zero(t, stats.processed)
	require.True(t, idle.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	cfg.idleTimeout = time.Minute
	_, err = processPartition(ctx, &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: blocked}}, client, nil, cfg, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	cfg := replayCfg(false)
	cfg.limit = 1

	_, err := runReplay(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}, 2: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(consumerDL)}}),
		2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: []byte(consumerDL)}}),
	}}

	stats, err := runReplay(context.Background(), cfg, client, consumer, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	// limit=1 исчерпан первой (после сортировки) партицией.
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, consumer.calls)

	execute := cfg
	execute.execute = true
	_, err = runReplay(context.Background(), execute, client, consumer, nil)
	require.ErrorContains(t, err, "producer is required")

	stats, err = runReplay(context.Background(), cfg, &stubOffsetClient{}, consumer, nil)
	require.NoError(t, err)
	require.Zero(t, stats.processed)

	_, err = runReplay(context.Background(), cfg, &stubOffsetClient{partitionsErr: errors.New("no meta")}, consumer, nil)
	require.ErrorContains(t, err, "get partitions")
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDeps
	t.Cleanup(func() { newReplayDeps = oldDeps })

	newReplayDeps = func(replayConfig) (*replayDeps, error) {
		return nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), replayCfg(true)), "deps failed")

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := singleMessageSource(consumerDL)
	producer := &stubProducer{}
	newReplayDeps = func(replayConfig) (*replayDeps, error) {
		return &replayDeps{
			client:   client,
			consumer: consumer,
			producer: producer,
			closers:  []io.Closer{client, consumer, producer},
		}, nil
	}

	require.NoError(t, run(context.Background(), replayCfg(true)))
	require.Len(t, producer.sent, 1)
	require.True(t, client.closed)
	require.True(t, consumer.closed)
	require.True(t, producer.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type sentMessage struct {
	topic   string
	key     string
	headers map[string]string
}

type stubProducer struct {
	err    error
	sent   []sentMessage
	closed bool
}

func (s *stubProducer) PublishEvent(topic, key string, _ any, headers map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, headers: headers})
	return nil
}

func (s *stubProducer) Close() error {
	s.closed = true
	return nil
}

var _ kafka.EventPublisher = (*stubProducer)(nil)
