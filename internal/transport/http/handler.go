// Package httpapi — HTTP-интерфейс витрины: checkout, webhook Paystack и действия диспетчера.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
)

const maxBodyBytes = 1 << 20

// Handler обслуживает HTTP API.
type Handler struct {
	checkout   *checkout.Service
	settlement *settlement.Service
	ledger     *ledger.Ledger
	catalog    *catalog.Catalog
	logger     *log.Entry
}

// NewHandler собирает обработчики.
func NewHandler(checkoutSvc *checkout.Service, settlementSvc *settlement.Service, l *ledger.Ledger, c *catalog.Catalog, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	if c == nil {
		c = catalog.Default()
	}
	return &Handler{
		checkout:   checkoutSvc,
		settlement: settlementSvc,
		ledger:     l,
		catalog:    c,
		logger:     logger,
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError(fmt.Errorf("invalid json body: %w", err))
	}
	return nil
}

// PlaceOrder — POST /api/checkout.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.checkout.PlaceOrder(r.Context(), req.toDomain())
	if err != nil {
		h.writeErrorFor(w, r, err, res.Order.ID)
		return
	}
	writeJSON(w, http.StatusCreated, newCheckoutResponse(res))
}

// ConfirmCheckout — POST /api/checkout/{id}/success.
func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutSuccessRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.settlement.ConfirmCheckout(r.Context(), chi.URLParam(r, "id"), req.Reference, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResult{Success: true, Order: order})
}

// CancelCheckout — POST /api/checkout/{id}/cancel. Состояние заказа не меняется.
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	order, err := h.checkout.AbandonCheckout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResult{Success: true, Order: order})
}

// CreatePaymentIntent — POST /api/paystack/create-virtual-account.
// Отвечает 400 на неполный запрос и 500 на сбой обработки.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, paymentIntentResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	intent, err := h.checkout.RequestPayment(r.Context(), checkout.PaymentIntentRequest{
		OrderID:       req.OrderID,
		CustomerEmail: req.CustomerEmail,
		Amount:        req.Amount,
	})
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Failed to create payment intent"
		if errors.Is(err, domain.ErrValidation) || domain.IsNotFound(err) {
			status = http.StatusBadRequest
			msg = "Invalid payment intent request"
		}
		h.logger.WithError(err).WithField("order_id", req.OrderID).Warn("payment intent failed")
		writeJSON(w, status, paymentIntentResponse{Error: msg, Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newPaymentIntentResponse(intent))
}

// Webhook — POST /api/paystack/webhook. Подпись проверяется по сырому телу.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "unreadable body"})
		return
	}

	res, err := h.settlement.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookResponse{Status: "success"})
	case errors.Is(err, domain.ErrAuthentication):
		h.logger.WithFields(log.Fields{
			"remote_addr": r.RemoteAddr,
			"body_size":   len(body),
		}).Warn("webhook rejected: invalid signature")
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "invalid signature"})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, webhookResponse{Status: "error", Message: "malformed event"})
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"event":    res.Event,
			"order_id": res.OrderID,
		}).Error("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Message: "processing failed"})
	}
}

// CreateSplit — POST /api/paystack/create-split.
func (h *Handler) CreateSplit(w http.ResponseWriter, r *http.Request) {
	var req createSplitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	split, err := h.checkout.SplitCodeFor(r.Context(), req.MerchantName, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createSplitResponse{
		Success:    true,
		SplitCode:  split.SplitCode,
		Subaccount: h.checkout.SubaccountFor(strings.TrimSpace(req.MerchantName)),
	})
}

// VerifyPayment — GET /api/paystack/verify-payment?reference=.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.settlement.VerifyPayment(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Success: res.Settled,
		Status:  res.Charge.Status,
		Order:   res.Order,
	})
}

// ListOrders — GET /api/orders?email=&status=&limit=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OrderFilter{
		Email:  strings.TrimSpace(q.Get("email")),
		Status: domain.OrderStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, r, domain.NewValidationError(fmt.Errorf("unknown status %q", filter.Status)))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, r, domain.NewValidationError(fmt.Errorf("invalid limit %q", raw)))
			return
		}
		filter.Limit = limit
	}

	orders, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, ordersResponse{Orders: orders})
}

// Stats — GET /api/orders/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := statsResponse{ByStatus: make(map[string]int, len(stats))}
	for st, n := range stats {
		resp.ByStatus[string(st)] = n
		resp.Total += n
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder — GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	timeline, err := h.ledger.Timeline(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", id).Warn("failed to load timeline")
	}
	writeJSON(w, http.StatusOK, orderDetailsResponse{Order: order, Timeline: timeline})
}

// ListTransactions — GET /api/orders/{id}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.settlement.Transactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

// GetReceipt — GET /api/orders/{id}/receipt.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.settlement.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// AdvanceStatus — POST /api/orders/{id}/status, действие диспетчера.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var req advanceStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	version := ledger.AnyVersion
	if req.Version != nil {
		version = *req.Version
	}
	next := domain.OrderStatus(req.OrderStatus)
	order, err := h.ledger.Update(r.Context(), chi.URLParam(r, "id"), version, ledger.OrderPatch{
		OrderStatus: &next,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResult{Success: true, Order: order})
}

// ConfirmPayment — POST /api/orders/{id}/confirm-payment.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	order, err := h.settlement.ConfirmManually(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResult{Success: true, Order: order})
}

// Catalog — GET /api/catalog.
func (h *Handler) Catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{Products: h.catalog.List()})
}
