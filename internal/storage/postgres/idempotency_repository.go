package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// checkoutKeyTTL — срок жизни Idempotency-Key, если checkout не передал свой.
const checkoutKeyTTL = 24 * time.Hour

const selectCheckoutKey = `
	SELECT key, request_hash, status, response_body, http_status, ttl_at, created_at, updated_at
	FROM idempotency_keys
	WHERE key = $1`

// checkoutKeys хранит ключи повторов POST /api/checkout.
type checkoutKeys struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &checkoutKeys{db: store.DB()}
}

// CreateProcessing занимает ключ через ON CONFLICT DO NOTHING: гонка двух
// одинаковых checkout решается базой, проигравший получает уже сохранённую запись.
func (k *checkoutKeys) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := checkoutKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(checkoutKeyTTL)
	}
	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := execAffected(k.db, "reserve checkout key", `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING
	`, key, requestHash, string(record.Status), ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if inserted == 1 {
		return record, nil
	}

	existing, err := k.Get(key)
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		// Ключ успели удалить между INSERT и SELECT; клиент повторит запрос.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	case err != nil:
		return domain.IdempotencyRecord{}, err
	case existing.RequestHash != requestHash:
		return existing, domain.ErrIdempotencyHashMismatch
	default:
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
}

func (k *checkoutKeys) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := checkoutKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := opContext()
	defer cancel()

	record, err := scanCheckoutKey(k.db.QueryRowContext(ctx, selectCheckoutKey, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load checkout key %s: %w", key, err)
	}
	return record, nil
}

func (k *checkoutKeys) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (k *checkoutKeys) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return k.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired чистит ключи с ttl_at <= before; limit <= 0 снимает ограничение пачки.
func (k *checkoutKeys) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	// LIMIT NULL в PostgreSQL означает "без ограничения".
	deleted, err := execAffected(k.db, "purge expired checkout keys", `
		WITH expired AS (
			SELECT key
			FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
		DELETE FROM idempotency_keys AS k
		USING expired
		WHERE k.key = expired.key
	`, before, batch)
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func (k *checkoutKeys) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := checkoutKey(key)
	if err != nil {
		return err
	}

	updated, err := execAffected(k.db, "finish checkout key", `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, http_status = $4, updated_at = $5
		WHERE key = $1
	`, key, string(status), responseBody, httpStatus, time.Now().UTC())
	if err != nil {
		return err
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanCheckoutKey(row scanner) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key, &record.RequestHash, &status, &record.ResponseBody, &httpStatus,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown checkout key status %q", status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record, nil
}

func checkoutKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

var _ domain.IdempotencyRepository = (*checkoutKeys)(nil)
