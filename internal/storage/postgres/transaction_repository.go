package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// transactionRepository — журнал расчётов, порядок задаёт seq.
type transactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository создаёт PostgreSQL-журнал транзакций.
func NewTransactionRepository(store *Store) domain.TransactionRepository {
	return &transactionRepository{db: store.DB()}
}

func (r *transactionRepository) Append(tx domain.Transaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (
			id, order_id, reference, status, source, amount_minor, data, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		tx.ID, tx.OrderID, tx.Reference, string(tx.Status), string(tx.Source),
		tx.AmountMinor, data, tx.CreatedAt,
	); err != nil {
		// Вторая paid-запись по reference упирается в уникальный индекс: расчёт уже записан.
		if tx.Status == domain.PaymentStatusPaid && isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) ListByOrder(orderID string) ([]domain.Transaction, error) {
	return r.list(`SELECT data FROM payment_transactions WHERE order_id = $1 ORDER BY seq`, orderID)
}

func (r *transactionRepository) ListByReference(reference string) ([]domain.Transaction, error) {
	return r.list(`SELECT data FROM payment_transactions WHERE reference = $1 ORDER BY seq`, reference)
}

func (r *transactionRepository) list(query, arg string) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		var tx domain.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

var _ domain.TransactionRepository = (*transactionRepository)(nil)
