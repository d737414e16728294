// Package checkout управляет платёжными намерениями: создаёт заказы, открывает
// онлайн-оплату и выпускает виртуальные счета для оплаты переводом.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Окружения Paystack.
const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"
)

// TestProvider — банк для выпуска счетов в тестовом окружении.
const TestProvider = "test-bank"

// DefaultSubaccount используется для мерчантов без собственного сабаккаунта.
const DefaultSubaccount = "ACCT_test_default_merchant"

// DefaultMerchantSubaccounts — сабаккаунты мерчантов витрины.
var DefaultMerchantSubaccounts = map[string]string{
	"Balogun Market":     "ACCT_test_balogun_market",
	"Alaba Grocery":      "ACCT_test_alaba_grocery",
	"Makoko Fish Market": "ACCT_test_makoko_fish",
}

// Config задаёт параметры оркестратора.
type Config struct {
	Environment         string
	PreferredBanks      []string
	Currency            string
	Channels            []string
	MerchantSubaccounts map[string]string
	DefaultSubaccount   string
}

func (c Config) withDefaults() Config {
	if c.Environment == "" {
		c.Environment = EnvironmentTest
	}
	if c.Currency == "" {
		c.Currency = "NGN"
	}
	if len(c.Channels) == 0 {
		c.Channels = []string{"card"}
	}
	if c.MerchantSubaccounts == nil {
		c.MerchantSubaccounts = DefaultMerchantSubaccounts
	}
	if c.DefaultSubaccount == "" {
		c.DefaultSubaccount = DefaultSubaccount
	}
	return c
}

// PlaceOrderRequest — заказ из корзины.
type PlaceOrderRequest struct {
	PaymentMethod domain.PaymentMethod
	Customer      domain.Customer
	Items         []domain.OrderItem
	Total         int64
	Notes         string
}

// PlaceOrderResult — созданный заказ и данные для онлайн-оплаты.
type PlaceOrderResult struct {
	Order            domain.Order
	AuthorizationURL string
	AccessCode       string
	SplitCode        string
}

// PaymentIntentRequest — запрос диспетчера на получение реквизитов оплаты.
type PaymentIntentRequest struct {
	OrderID       string
	CustomerEmail string
	Amount        int64
}

// PaymentIntent — реквизиты оплаты заказа.
type PaymentIntent struct {
	OrderID          string
	Reference        string
	PaymentMethod    domain.PaymentMethod
	VirtualAccount   *domain.VirtualAccount
	AuthorizationURL string
}

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

// WithCatalog включает проверку товаров по каталогу.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

// WithReferenceGenerator подменяет генератор платёжных ссылок.
func WithReferenceGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newReference = gen
		}
	}
}

// Service — оркестратор платёжных намерений.
type Service struct {
	ledger  *ledger.Ledger
	txs     domain.TransactionRepository
	gateway domain.PaymentGateway
	catalog *catalog.Catalog
	cfg     Config

	logger       *log.Entry
	metrics      *metrics.StorefrontMetrics
	now          func() time.Time
	newReference func() string

	splitMu    sync.Mutex
	splitCodes map[string]string

	issueMu    sync.Mutex
	issueLocks map[string]*sync.Mutex
}

// NewService создаёт оркестратор.
func NewService(l *ledger.Ledger, txs domain.TransactionRepository, gateway domain.PaymentGateway, cfg Config, opts ...Option) (*Service, error) {
	if l == nil || txs == nil || gateway == nil {
		return nil, errors.New("checkout: ledger, transactions and gateway are required")
	}
	s := &Service{
		ledger:     l,
		txs:        txs,
		gateway:    gateway,
		cfg:        cfg.withDefaults(),
		logger:     log.WithField("component", "checkout"),
		now:        func() time.Time { return time.Now().UTC() },
		splitCodes: make(map[string]string),
		issueLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newReference == nil {
		gen, err := NewReferenceGenerator(nil)
		if err != nil {
			return nil, err
		}
		s.newReference = gen
	}
	return s, nil
}

// PlaceOrder создаёт заказ (pending/pending) и запускает платёжный сценарий его способа оплаты.
// При сбое шлюза заказ остаётся pending/pending, записывается failed-транзакция,
// а ошибка возвращается вместе с созданным заказом.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if !req.PaymentMethod.Valid() {
		s.metrics.RecordCheckoutFailed(string(req.PaymentMethod))
		return PlaceOrderResult{}, domain.NewValidationError(domain.ErrPaymentMethodInvalid)
	}
	items := req.Items
	if s.catalog != nil {
		resolved, err := s.catalog.Resolve(items)
		if err != nil {
			s.metrics.RecordCheckoutFailed(string(req.PaymentMethod))
			return PlaceOrderResult{}, err
		}
		items = resolved
	}

	order, err := s.ledger.Create(ctx, ledger.Draft{
		Customer:         req.Customer,
		Items:            items,
		Total:            req.Total,
		Currency:         s.cfg.Currency,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: s.newReference(),
		Notes:            req.Notes,
	})
	if err != nil {
		s.metrics.RecordCheckoutFailed(string(req.PaymentMethod))
		return PlaceOrderResult{}, err
	}
	s.metrics.RecordCheckoutStarted(string(order.PaymentMethod))

	logger := s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"reference":      order.PaymentReference,
		"payment_method": order.PaymentMethod,
	})

	switch order.PaymentMethod {
	case domain.PaymentMethodOnline:
		return s.startOnline(ctx, order, logger)
	default:
		logger.Info("order placed, payment on delivery")
		return PlaceOrderResult{Order: order}, nil
	}
}

func (s *Service) startOnline(ctx context.Context, order domain.Order, logger *log.Entry) (PlaceOrderResult, error) {
	result := PlaceOrderResult{Order: order}

	if len(order.Merchants) == 1 {
		split, err := s.SplitCodeFor(ctx, order.Merchants[0], order.ID)
		if err != nil {
			logger.WithError(err).Warn("split code unavailable, charging without split")
		} else {
			result.SplitCode = split.SplitCode
		}
	}

	session, err := s.initialize(ctx, order, result.SplitCode)
	if err != nil {
		s.metrics.RecordCheckoutFailed(string(order.PaymentMethod))
		s.recordTransaction(order, domain.PaymentStatusFailed, domain.SettlementSourceCheckout, gatewayRaw(err), logger)
		logger.WithError(err).Error("online checkout initialization failed")
		return result, err
	}

	updated, err := s.ledger.Update(ctx, order.ID, order.Version, ledger.OrderPatch{
		AuthorizationURL: &session.AuthorizationURL,
		AccessCode:       &session.AccessCode,
		Reason:           "checkout initialized",
	})
	if err != nil {
		logger.WithError(err).Error("persist checkout session failed")
		return result, err
	}
	result.Order = updated
	result.AuthorizationURL = session.AuthorizationURL
	result.AccessCode = session.AccessCode
	logger.Info("online checkout initialized")
	return result, nil
}

func (s *Service) initialize(ctx context.Context, order domain.Order, splitCode string) (domain.CheckoutSession, error) {
	return s.gateway.InitializeTransaction(ctx, domain.CheckoutRequest{
		Email:       order.Customer.Email,
		AmountMinor: domain.ToMinorUnits(order.Total),
		Reference:   order.PaymentReference,
		Currency:    order.Currency,
		Channels:    s.cfg.Channels,
		SplitCode:   splitCode,
		Metadata: map[string]any{
			"orderId":       order.ID,
			"customerName":  order.Customer.Name,
			"platformFee":   order.PlatformFee,
			"merchantShare": order.MerchantAmount,
		},
	})
}

// AbandonCheckout фиксирует закрытие окна оплаты: заказ остаётся pending/pending.
func (s *Service) AbandonCheckout(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"reference": order.PaymentReference,
	}).Info("online checkout abandoned by customer")
	return order, nil
}

// RequestPayment возвращает реквизиты оплаты. Для bank_transfer счёт выпускается лениво
// и сохраняется в заказе только после успешного выпуска.
func (s *Service) RequestPayment(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error) {
	var errs []error
	if strings.TrimSpace(req.OrderID) == "" {
		errs = append(errs, domain.ErrOrderIDRequired)
	}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		errs = append(errs, domain.ErrCustomerEmailRequired)
	}
	if req.Amount <= 0 {
		errs = append(errs, errAmountRequired)
	}
	if len(errs) > 0 {
		return PaymentIntent{}, domain.NewValidationError(errs...)
	}

	order, err := s.ledger.Get(ctx, req.OrderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if !strings.EqualFold(strings.TrimSpace(req.CustomerEmail), order.Customer.Email) {
		return PaymentIntent{}, domain.NewValidationError(errEmailMismatch)
	}
	if req.Amount != order.Total {
		return PaymentIntent{}, domain.NewValidationError(fmt.Errorf("%w: order total %d, requested %d", errAmountMismatch, order.Total, req.Amount))
	}

	intent := PaymentIntent{
		OrderID:          order.ID,
		Reference:        order.PaymentReference,
		PaymentMethod:    order.PaymentMethod,
		VirtualAccount:   order.VirtualAccount,
		AuthorizationURL: order.AuthorizationURL,
	}

	switch order.PaymentMethod {
	case domain.PaymentMethodBankTransfer:
		if order.VirtualAccount != nil || order.PaymentStatus == domain.PaymentStatusPaid {
			return intent, nil
		}
		va, err := s.ensureVirtualAccount(ctx, order)
		if err != nil {
			return PaymentIntent{}, err
		}
		intent.VirtualAccount = va
	case domain.PaymentMethodOnline:
		if order.AuthorizationURL != "" || order.PaymentStatus == domain.PaymentStatusPaid {
			return intent, nil
		}
		// Повторная попытка после сбоя инициализации.
		res, err := s.startOnline(ctx, order, s.logger.WithField("order_id", order.ID))
		if err != nil {
			return PaymentIntent{}, err
		}
		intent.AuthorizationURL = res.AuthorizationURL
	case domain.PaymentMethodTerminal:
		// Терминал: только ссылка, расчёт подтверждает курьер.
	}
	return intent, nil
}

func (s *Service) recordTransaction(order domain.Order, status domain.PaymentStatus, source domain.SettlementSource, raw []byte, logger *log.Entry) {
	tx := domain.Transaction{
		ID:             uuid.NewString(),
		OrderID:        order.ID,
		Amount:         order.Total,
		AmountMinor:    domain.ToMinorUnits(order.Total),
		PaymentMethod:  order.PaymentMethod,
		Status:         status,
		Reference:      order.PaymentReference,
		Source:         source,
		GatewayPayload: raw,
		CreatedAt:      s.now(),
	}
	if err := s.txs.Append(tx); err != nil {
		logger.WithError(err).Error("append transaction failed")
	}
}

// gatewayRaw возвращает сырой ответ шлюза, если он валидный JSON.
func gatewayRaw(err error) []byte {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && len(gwErr.Raw) > 0 && jsonValid(gwErr.Raw) {
		return gwErr.Raw
	}
	return nil
}
