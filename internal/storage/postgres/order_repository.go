package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

// Заказ хранится целиком в JSONB, поля для фильтров и версия дублируются в колонках.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_email, payment_reference, payment_method, payment_status,
			order_status, total, version, data, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		order.ID, order.Customer.Email, order.PaymentReference, string(order.PaymentMethod),
		string(order.PaymentStatus), string(order.OrderStatus), order.Total, order.Version,
		data, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrOrderVersionConflict)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		data    []byte
		version int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT data, version
		FROM orders
		WHERE id = $1
	`, id).Scan(&data, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return decodeOrder(data, version)
}

func (r *orderRepository) List(filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	if filter.Email != "" {
		args = append(args, filter.Email)
		where = append(where, fmt.Sprintf("lower(customer_email) = lower($%d)", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		where = append(where, fmt.Sprintf("payment_reference = $%d", len(args)))
	}

	query := "SELECT data, version FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			data    []byte
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order, err := decodeOrder(data, version)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// Save пишет заказ, если в базе лежит order.Version, и возвращает его с версией +1.
func (r *orderRepository) Save(order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	expected := order.Version
	order.Version++
	data, err := json.Marshal(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal order: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET customer_email = $1,
		    payment_status = $2,
		    order_status = $3,
		    version = $4,
		    data = $5,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		order.Customer.Email,
		string(order.PaymentStatus),
		string(order.OrderStatus),
		order.Version,
		data,
		order.UpdatedAt,
		order.ID,
		expected,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var stored int64
		err := r.db.QueryRowContext(ctx, `SELECT version FROM orders WHERE id = $1`, order.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("check order version: %w", err)
		}
		return domain.Order{}, fmt.Errorf("order %s: stored version %d, got %d: %w",
			order.ID, stored, expected, domain.ErrOrderVersionConflict)
	}
	return order, nil
}

func decodeOrder(data []byte, version int64) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	order.Version = version
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
