package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// IdempotencyKeyHeader — заголовок ключа идемпотентности.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader помечает ответ, повторённый из кэша.
	ReplayedHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
)

// Idempotency кэширует ответ на запрос с Idempotency-Key и повторяет его для того же ключа.
// Тот же ключ с другим телом запроса даёт 409. Запросы без ключа проходят как есть.
func Idempotency(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if repo == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Details: "unreadable body"})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			record, err := repo.CreateProcessing(key, requestHash(r, body), time.Now().UTC().Add(ttl))
			if err != nil {
				replayIdempotency(w, err, record, logger.WithField("idempotency_key", key))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < http.StatusBadRequest {
				err = repo.MarkDone(key, rec.body.Bytes(), rec.status)
			} else {
				err = repo.MarkFailed(key, rec.body.Bytes(), rec.status)
			}
			if err != nil {
				logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
			}
		})
	}
}

func replayIdempotency(w http.ResponseWriter, createErr error, record domain.IdempotencyRecord, logger *log.Entry) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   "conflict",
			Details: "idempotency key is already used with different request payload",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayedHeader, "true")
			w.WriteHeader(status)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			writeJSON(w, http.StatusConflict, errorResponse{
				Error:   "conflict",
				Details: "request with the same idempotency key is already processing",
			})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
