package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type receiptRepository struct {
	db *sql.DB
}

// NewReceiptRepository создаёт PostgreSQL-хранилище чеков.
func NewReceiptRepository(store *Store) domain.ReceiptRepository {
	return &receiptRepository{db: store.DB()}
}

// Create опирается на первичный ключ order_id: второй чек даёт ErrReceiptExists.
func (r *receiptRepository) Create(receipt domain.Receipt) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO receipts (order_id, id, data, created_at)
		VALUES ($1,$2,$3,$4)
	`, receipt.OrderID, receipt.ID, data, receipt.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrReceiptExists
		}
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

func (r *receiptRepository) GetByOrder(orderID string) (domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM receipts WHERE order_id = $1`, orderID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Receipt{}, domain.ErrReceiptNotFound
		}
		return domain.Receipt{}, fmt.Errorf("select receipt: %w", err)
	}
	var receipt domain.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

var _ domain.ReceiptRepository = (*receiptRepository)(nil)
