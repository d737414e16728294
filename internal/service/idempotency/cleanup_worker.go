// Package idempotency очищает просроченные ключи идемпотентности checkout.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultMaxBatches       = 100
)

// ExpiredDeleter — часть хранилища ключей, нужная воркеру.
type ExpiredDeleter interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CleanupOptions задаёт параметры воркера очистки.
type CleanupOptions struct {
	Logger     *log.Entry
	Metrics    *metrics.CleanupMetrics
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Now        func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Metrics = m
	}
}

// WithInterval задаёт интервал между циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxBatches ограничивает число удалений за один цикл.
func WithMaxBatches(n int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.MaxBatches = n
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Now = now
	}
}

// CleanupWorker периодически удаляет ключи Idempotency-Key с истёкшим TTL,
// чтобы повторный checkout через сутки не упирался в старую запись.
type CleanupWorker struct {
	repo       ExpiredDeleter
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo ExpiredDeleter, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:   defaultCleanupInterval,
		BatchSize:  defaultCleanupBatchSize,
		MaxBatches: defaultMaxBatches,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "idempotency-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultMaxBatches
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:       repo,
		logger:     logger,
		metrics:    opts.Metrics,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
		now:        opts.Now,
	}
}

// Run чистит ключи до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordRun("error", deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordRun("ok", deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("idempotency cleanup completed")
	}
}

// DeleteExpired удаляет записи с TTL <= before порциями batchSize,
// но не более maxBatches порций за вызов.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		w.metrics.AddDeleted(deleted)

		if deleted < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Debug("idempotency cleanup hit batch limit")
	return total, nil
}
