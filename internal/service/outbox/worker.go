// Package outbox публикует события заказов из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Результаты попыток публикации (label метрики).
const (
	resultSent      = "sent"
	resultRetry     = "retry_error"
	resultFailed    = "failed"
	resultDLQFailed = "dlq_failed"
	resultDeferred  = "deferred"
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics подключает метрики backlog и публикаций.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт, куда уходит событие после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт, сколько событий берётся за цикл.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации до DLQ.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Report — итог одного цикла ProcessOnce.
type Report struct {
	Sent     int
	Failed   int
	Deferred int
}

// Worker переносит pending-события заказов в брокер.
// События одного заказа уходят строго по порядку: если раннее событие не
// опубликовано и не ушло в DLQ, поздние события того же заказа ждут следующего цикла.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// outcome — судьба одного события в цикле.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeDeadLettered
	outcomeBlocked
	outcomeAborted
)

// ProcessOnce выполняет один цикл публикации.
func (w *Worker) ProcessOnce(ctx context.Context) Report {
	var report Report
	if ctx.Err() != nil {
		return report
	}

	w.refreshBacklog()
	defer w.refreshBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}

	blocked := make(map[string]bool)
	for _, event := range batch {
		if blocked[event.AggregateID] {
			w.metrics.RecordPublish(resultDeferred)
			w.eventLog(event).Debug("outbox event deferred behind failed predecessor")
			report.Deferred++
			continue
		}

		switch w.deliver(ctx, event) {
		case outcomeAborted:
			return report
		case outcomeSent:
			report.Sent++
		case outcomeDeadLettered:
			report.Failed++
		case outcomeBlocked:
			report.Failed++
			blocked[event.AggregateID] = true
		}
	}

	if report.Failed > 0 || report.Deferred > 0 {
		w.logger.WithFields(log.Fields{
			"sent":     report.Sent,
			"failed":   report.Failed,
			"deferred": report.Deferred,
		}).Info("outbox batch processed with errors")
	}
	return report
}

// deliver публикует событие с повторами, а при неудаче пробует DLQ.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) outcome {
	if ctx.Err() != nil {
		return outcomeAborted
	}
	entry := w.eventLog(event)

	publishErr := w.publishWithRetry(ctx, event)
	if publishErr == nil {
		if err := w.repo.MarkSent(event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox as sent")
		}
		return outcomeSent
	}
	if ctx.Err() != nil {
		return outcomeAborted
	}

	entry.WithError(publishErr).Error("outbox publish failed after retries")
	w.metrics.RecordPublish(resultFailed)

	if err := w.deadLetter(event, publishErr); err != nil {
		// Событие остаётся pending и держит очередь заказа.
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(resultDLQFailed)
		return outcomeBlocked
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
	return outcomeDeadLettered
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.pause(ctx, w.retryBackoff(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			w.metrics.RecordPublish(resultSent)
			return nil
		}
		w.metrics.RecordPublish(resultRetry)
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func (w *Worker) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff удваивает базовую паузу на каждой попытке, не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (w *Worker) refreshBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

func (w *Worker) eventLog(event domain.OutboxMessage) *log.Entry {
	return w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	})
}
