package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderHistory хранит timeline заказа для GET /api/orders/{id}.
type orderHistory struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &orderHistory{db: store.DB()}
}

func (h *orderHistory) Append(event domain.TimelineEvent) error {
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := execAffected(h.db, "append order history",
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, occurred,
	)
	return err
}

// List отдаёт события в порядке появления; id разводит события с одинаковым временем.
func (h *orderHistory) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := opContext()
	defer cancel()

	rows, err := h.db.QueryContext(ctx, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order history %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan order history: %w", err)
		}
		history = append(history, event)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*orderHistory)(nil)
