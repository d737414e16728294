// Package settlement — единственная точка, переводящая платёж заказа в конечное состояние.
//
// Источники сигналов: webhook Paystack, синхронный успех онлайн-оплаты, ручное
// подтверждение диспетчера и проверка транзакции по reference. Все пути идемпотентны:
// оплаченный заказ не меняется и не получает повторную транзакцию.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

var (
	errOnlineOnly      = errors.New("checkout confirmation applies to online orders only")
	errOnDeliveryOnly  = errors.New("manual confirmation applies to bank_transfer and terminal orders only")
	errReferenceDiffer = errors.New("reference does not match order")
)

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service — reconciler расчётов.
type Service struct {
	ledger   *ledger.Ledger
	txs      domain.TransactionRepository
	receipts domain.ReceiptRepository
	gateway  domain.PaymentGateway
	secret   string

	logger  *log.Entry
	metrics *metrics.StorefrontMetrics
	now     func() time.Time
}

// NewService создаёт reconciler. webhookSecret проверяет подписи webhook.
func NewService(l *ledger.Ledger, txs domain.TransactionRepository, receipts domain.ReceiptRepository, gateway domain.PaymentGateway, webhookSecret string, opts ...Option) (*Service, error) {
	if l == nil || txs == nil || receipts == nil {
		return nil, errors.New("settlement: ledger, transactions and receipts are required")
	}
	s := &Service{
		ledger:   l,
		txs:      txs,
		receipts: receipts,
		gateway:  gateway,
		secret:   webhookSecret,
		logger:   log.WithField("component", "settlement"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// settleRequest описывает входящий сигнал об успешной оплате.
type settleRequest struct {
	Source      domain.SettlementSource
	Reference   string
	AmountMinor int64 // 0 — взять сумму заказа
	Raw         json.RawMessage
}

// settle переводит заказ в paid (и confirmed, если он ещё pending).
// Повторный сигнал по оплаченному заказу ничего не меняет.
func (s *Service) settle(ctx context.Context, orderID string, req settleRequest) (domain.Order, bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"reference": req.Reference,
		"source":    req.Source,
	})

	order, changed, err := s.ledger.Mutate(ctx, orderID, func(current domain.Order) (*ledger.OrderPatch, error) {
		switch current.PaymentStatus {
		case domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
			return nil, nil
		}
		paid := domain.PaymentStatusPaid
		patch := &ledger.OrderPatch{
			PaymentStatus: &paid,
			Reason:        "payment settled via " + string(req.Source),
		}
		switch current.OrderStatus {
		case domain.OrderStatusPending:
			confirmed := domain.OrderStatusConfirmed
			patch.OrderStatus = &confirmed
		case domain.OrderStatusCancelled:
			logger.Warn("payment received for cancelled order, order stays cancelled")
		}
		return patch, nil
	})
	if err != nil {
		logger.WithError(err).WithField("payload", string(req.Raw)).Error("settlement failed")
		return domain.Order{}, false, err
	}
	if !changed {
		s.metrics.RecordSettlementNoop(string(req.Source))
		if order.PaymentStatus == domain.PaymentStatusPaid {
			if err := s.heal(order, domain.PaymentStatusPaid, req, logger); err != nil {
				return domain.Order{}, false, err
			}
		}
		logger.Info("order already settled, nothing to do")
		return order, false, nil
	}
	s.metrics.RecordSettlement(string(req.Source), string(domain.PaymentStatusPaid))

	if amount := domain.FromMinorUnits(amountMinor(order, req)); amount != order.Total {
		logger.WithFields(log.Fields{
			"order_total": order.Total,
			"paid_amount": amount,
		}).Warn("settled amount differs from order total")
	}
	// Заказ уже сохранён как paid: при сбое записи ниже повторный сигнал
	// попадёт в heal и допишет недостающее.
	if err := s.appendTransaction(order, domain.PaymentStatusPaid, req); err != nil {
		logger.WithError(err).Error("append transaction failed")
		return domain.Order{}, false, err
	}
	if order.PaymentMethod == domain.PaymentMethodOnline {
		if err := s.ensureReceipt(order); err != nil {
			logger.WithError(err).Error("create receipt failed")
			return domain.Order{}, false, err
		}
	}
	logger.WithField("payment_method", order.PaymentMethod).Info("order settled")
	return order, true, nil
}

// fail отмечает отказ платежа. Оплаченный заказ не откатывается.
func (s *Service) fail(ctx context.Context, orderID string, req settleRequest) (domain.Order, bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"reference": req.Reference,
		"source":    req.Source,
	})

	order, changed, err := s.ledger.Mutate(ctx, orderID, func(current domain.Order) (*ledger.OrderPatch, error) {
		switch current.PaymentStatus {
		case domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
			logger.Warn("charge failure for settled order ignored")
			return nil, nil
		case domain.PaymentStatusFailed:
			return nil, nil
		}
		failed := domain.PaymentStatusFailed
		patch := &ledger.OrderPatch{
			PaymentStatus: &failed,
			Reason:        "payment failed via " + string(req.Source),
		}
		if domain.CanTransition(current.OrderStatus, domain.OrderStatusCancelled) {
			cancelled := domain.OrderStatusCancelled
			patch.OrderStatus = &cancelled
		}
		return patch, nil
	})
	if err != nil {
		logger.WithError(err).WithField("payload", string(req.Raw)).Error("payment failure update failed")
		return domain.Order{}, false, err
	}
	if !changed {
		s.metrics.RecordSettlementNoop(string(req.Source))
		if order.PaymentStatus == domain.PaymentStatusFailed {
			if err := s.heal(order, domain.PaymentStatusFailed, req, logger); err != nil {
				return domain.Order{}, false, err
			}
		}
		return order, false, nil
	}
	s.metrics.RecordSettlement(string(req.Source), string(domain.PaymentStatusFailed))

	if err := s.appendTransaction(order, domain.PaymentStatusFailed, req); err != nil {
		logger.WithError(err).Error("append transaction failed")
		return domain.Order{}, false, err
	}
	logger.Info("order payment marked failed")
	return order, true, nil
}

// heal дописывает транзакцию (и чек онлайн-заказа), если прошлый расчёт
// сохранил статус заказа, но упал на записи журнала.
func (s *Service) heal(order domain.Order, status domain.PaymentStatus, req settleRequest, logger *log.Entry) error {
	existing, err := s.txs.ListByOrder(order.ID)
	if err != nil {
		return domain.PersistenceErr("list transactions", err)
	}
	recorded := slices.ContainsFunc(existing, func(tx domain.Transaction) bool {
		return tx.Status == status
	})
	if !recorded {
		if err := s.appendTransaction(order, status, req); err != nil {
			logger.WithError(err).Error("restore transaction failed")
			return err
		}
		logger.WithField("status", status).Warn("missing settlement transaction restored")
	}
	if status == domain.PaymentStatusPaid && order.PaymentMethod == domain.PaymentMethodOnline {
		return s.ensureReceipt(order)
	}
	return nil
}

func (s *Service) appendTransaction(order domain.Order, status domain.PaymentStatus, req settleRequest) error {
	raw := req.Raw
	if len(raw) > 0 && !json.Valid(raw) {
		raw = nil
	}
	minor := amountMinor(order, req)
	tx := domain.Transaction{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		Amount:         domain.FromMinorUnits(minor),
		AmountMinor:    minor,
		PaymentMethod:  order.PaymentMethod,
		Status:         status,
		Reference:      reference(req.Reference, order),
		Source:         req.Source,
		GatewayPayload: raw,
		CreatedAt:      s.now(),
	}
	if err := s.txs.Append(tx); err != nil {
		return domain.PersistenceErr("append transaction", err)
	}
	return nil
}

func (s *Service) ensureReceipt(order domain.Order) error {
	err := s.receipts.Create(domain.NewReceipt(uuid.NewString(), order, s.now()))
	if err != nil && !errors.Is(err, domain.ErrReceiptExists) {
		return domain.PersistenceErr("create receipt", err)
	}
	return nil
}

// ConfirmCheckout обрабатывает синхронный успех онлайн-оплаты.
func (s *Service) ConfirmCheckout(ctx context.Context, orderID, ref string, payload json.RawMessage) (domain.Order, error) {
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return domain.Order{}, domain.NewValidationError(errOnlineOnly)
	}
	if strings.TrimSpace(ref) == "" {
		return domain.Order{}, domain.NewValidationError(domain.ErrReferenceRequired)
	}
	if ref != order.PaymentReference {
		return domain.Order{}, domain.NewValidationError(fmt.Errorf("%w: %s", errReferenceDiffer, ref))
	}
	settled, _, err := s.settle(ctx, order.ID, settleRequest{
		Source:    domain.SettlementSourceCheckout,
		Reference: ref,
		Raw:       payload,
	})
	return settled, err
}

// ConfirmManually — подтверждение оплаты диспетчером при доставке.
func (s *Service) ConfirmManually(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.PaymentMethod == domain.PaymentMethodOnline {
		return domain.Order{}, domain.NewValidationError(errOnDeliveryOnly)
	}
	settled, _, err := s.settle(ctx, order.ID, settleRequest{
		Source:    domain.SettlementSourceManual,
		Reference: order.PaymentReference,
	})
	return settled, err
}

// VerifyResult — итог проверки транзакции у шлюза.
type VerifyResult struct {
	Order   domain.Order
	Charge  domain.ChargeResult
	Settled bool
}

// VerifyPayment запрашивает у шлюза итог транзакции и при успехе проводит расчёт.
func (s *Service) VerifyPayment(ctx context.Context, ref string) (VerifyResult, error) {
	if strings.TrimSpace(ref) == "" {
		return VerifyResult{}, domain.NewValidationError(domain.ErrReferenceRequired)
	}
	if s.gateway == nil {
		return VerifyResult{}, &domain.GatewayError{Op: "verify transaction", Message: "gateway is not configured"}
	}
	charge, err := s.gateway.VerifyTransaction(ctx, ref)
	if err != nil {
		s.logger.WithError(err).WithField("reference", ref).Error("verify transaction failed")
		return VerifyResult{}, err
	}
	order, err := s.resolveOrder(ctx, charge.OrderID, ref)
	if err != nil {
		return VerifyResult{Charge: charge}, err
	}
	result := VerifyResult{Order: order, Charge: charge}
	if !charge.Succeeded() {
		s.logger.WithFields(log.Fields{
			"order_id":  order.ID,
			"reference": ref,
			"status":    charge.Status,
		}).Info("transaction not successful yet")
		return result, nil
	}
	settled, _, err := s.settle(ctx, order.ID, settleRequest{
		Source:      domain.SettlementSourceVerify,
		Reference:   ref,
		AmountMinor: charge.AmountMinor,
		Raw:         charge.Raw,
	})
	if err != nil {
		return result, err
	}
	result.Order = settled
	result.Settled = settled.PaymentStatus == domain.PaymentStatusPaid
	return result, nil
}

// Transactions возвращает журнал расчётов заказа.
func (s *Service) Transactions(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	if _, err := s.ledger.Get(ctx, orderID); err != nil {
		return nil, err
	}
	txs, err := s.txs.ListByOrder(orderID)
	if err != nil {
		return nil, domain.PersistenceErr("list transactions", err)
	}
	return txs, nil
}

// Receipt возвращает чек заказа.
func (s *Service) Receipt(ctx context.Context, orderID string) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	return s.receipts.GetByOrder(orderID)
}

// resolveOrder ищет заказ по id из metadata, затем по reference.
func (s *Service) resolveOrder(ctx context.Context, orderID, ref string) (domain.Order, error) {
	if orderID != "" {
		order, err := s.ledger.Get(ctx, orderID)
		if err == nil || !domain.IsNotFound(err) {
			return order, err
		}
	}
	if ref == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order, err := s.ledger.Get(ctx, ref); err == nil {
		return order, nil
	}
	return s.ledger.FindByReference(ctx, ref)
}

// amountMinor — сумма сигнала, а без неё сумма заказа.
func amountMinor(order domain.Order, req settleRequest) int64 {
	if req.AmountMinor != 0 {
		return req.AmountMinor
	}
	return domain.ToMinorUnits(order.Total)
}

func reference(ref string, order domain.Order) string {
	if ref != "" {
		return ref
	}
	return order.PaymentReference
}
