package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// scanner покрывает *sql.Row и *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// opContext ограничивает одиночный запрос репозитория.
func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// execAffected выполняет запрос и возвращает число затронутых строк.
func execAffected(db *sql.DB, op, query string, args ...any) (int64, error) {
	ctx, cancel := opContext()
	defer cancel()

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return affected, nil
}
