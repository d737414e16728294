package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// NewRouter собирает маршруты API. idem может быть nil, тогда checkout не идемпотентен.
func NewRouter(h *Handler, idem domain.IdempotencyRepository) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.Catalog)

		r.Route("/checkout", func(r chi.Router) {
			r.With(Idempotency(idem, defaultIdempotencyTTL, h.logger)).Post("/", h.PlaceOrder)
			r.Post("/{id}/success", h.ConfirmCheckout)
			r.Post("/{id}/cancel", h.CancelCheckout)
		})

		r.Route("/paystack", func(r chi.Router) {
			r.Post("/webhook", h.Webhook)
			r.Post("/create-virtual-account", h.CreatePaymentIntent)
			r.Post("/create-split", h.CreateSplit)
			r.Get("/verify-payment", h.VerifyPayment)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/stats", h.Stats)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Get("/{id}/receipt", h.GetReceipt)
			r.Post("/{id}/status", h.AdvanceStatus)
			r.Post("/{id}/confirm-payment", h.ConfirmPayment)
		})
	})
	return r
}

// requestLogger пишет строку лога на каждый запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("http request failed")
				return
			}
			entry.Debug("http request")
		})
	}
}
