package domain

import (
	"context"
	"encoding/json"
	"time"
)

// PaymentGateway описывает контракт с Paystack, нужный движку расчётов.
type PaymentGateway interface {
	// EnsureCustomer создаёт клиента по email или возвращает существующего.
	EnsureCustomer(ctx context.Context, customer Customer) (GatewayCustomer, error)
	// ListDedicatedAccounts возвращает уже выпущенные клиенту счета.
	ListDedicatedAccounts(ctx context.Context, customerCode string) ([]VirtualAccount, error)
	// AvailableProviders возвращает слаги банков, доступных для выпуска счёта.
	AvailableProviders(ctx context.Context) ([]string, error)
	// CreateDedicatedAccount выпускает счёт у выбранного банка.
	CreateDedicatedAccount(ctx context.Context, customerCode, provider string) (VirtualAccount, error)
	// InitializeTransaction открывает hosted checkout.
	InitializeTransaction(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// VerifyTransaction запрашивает итог транзакции по reference.
	VerifyTransaction(ctx context.Context, reference string) (ChargeResult, error)
	// CreateSplit настраивает процентный сплит с сабаккаунтом мерчанта.
	CreateSplit(ctx context.Context, req SplitRequest) (SplitConfig, error)
}

// GatewayCustomer — клиент на стороне шлюза.
type GatewayCustomer struct {
	Code  string
	Email string
}

// CheckoutRequest — параметры инициализации онлайн-оплаты.
type CheckoutRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	Currency    string
	Channels    []string
	SplitCode   string
	Metadata    map[string]any
}

// CheckoutSession — ответ шлюза на инициализацию.
type CheckoutSession struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// ChargeResult — нормализованный итог списания (verify или webhook).
type ChargeResult struct {
	Reference   string
	Status      string
	AmountMinor int64
	Currency    string
	OrderID     string
	Channel     string
	PaidAt      time.Time
	Raw         json.RawMessage
}

// Succeeded сообщает, что шлюз подтвердил списание.
func (c ChargeResult) Succeeded() bool {
	return c.Status == "success"
}

// SplitRequest — параметры процентного сплита.
type SplitRequest struct {
	Name             string
	Currency         string
	SubaccountCode   string
	MerchantShare    int
	BearerType       string
	BearerSubaccount string
}

// SplitConfig — созданный шлюзом сплит.
type SplitConfig struct {
	SplitCode string
	Name      string
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// Типы событий outbox.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderUpdated   = "OrderUpdated"
	EventPaymentSettled = "PaymentSettled"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
