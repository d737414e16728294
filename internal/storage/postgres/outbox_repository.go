package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Статусы строк outbox_messages.
const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

const defaultOutboxBatch = 100

// orderEventLog — очередь событий заказов для Kafka; выдача строго по seq,
// чтобы события одного заказа уходили в порядке записи.
type orderEventLog struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &orderEventLog{db: store.DB()}
}

func (l *orderEventLog) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	// status и attempt_count берутся из DEFAULT таблицы.
	if _, err := execAffected(l.db, "enqueue order event", `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, payload, time.Now().UTC()); err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

func (l *orderEventLog) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := opContext()
	defer cancel()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY seq
		LIMIT $2
	`, outboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull order events: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOrderEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		batch = append(batch, msg)
	}
	return batch, rows.Err()
}

func (l *orderEventLog) Stats() (domain.OutboxStats, error) {
	ctx, cancel := opContext()
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = $1`,
		outboxPending,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("order event backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (l *orderEventLog) MarkSent(id string) error {
	return l.settle(id, outboxSent)
}

func (l *orderEventLog) MarkFailed(id string) error {
	return l.settle(id, outboxFailed)
}

// settle закрывает только pending-событие, повторная отметка даёт ErrOutboxPublish.
func (l *orderEventLog) settle(id, status string) error {
	closed, err := execAffected(l.db, "settle order event "+id, `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, status, time.Now().UTC(), outboxPending)
	if err != nil {
		return err
	}
	if closed == 0 {
		return fmt.Errorf("order event %s already %s or missing: %w", id, status, domain.ErrOutboxPublish)
	}
	return nil
}

func scanOrderEvent(row scanner) (domain.OutboxMessage, error) {
	var msg domain.OutboxMessage
	err := row.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload)
	return msg, err
}

var _ domain.OutboxRepository = (*orderEventLog)(nil)
