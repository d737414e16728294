// Package payment содержит in-memory платёжный шлюз для локального запуска и тестов.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Операции шлюза, по которым считаются вызовы и настраиваются ошибки.
const (
	OpEnsureCustomer         = "EnsureCustomer"
	OpListDedicatedAccounts  = "ListDedicatedAccounts"
	OpAvailableProviders     = "AvailableProviders"
	OpCreateDedicatedAccount = "CreateDedicatedAccount"
	OpInitializeTransaction  = "InitializeTransaction"
	OpVerifyTransaction      = "VerifyTransaction"
	OpCreateSplit            = "CreateSplit"
)

// MockGateway — конфигурируемая реализация domain.PaymentGateway без сети.
// Клиенты и выпущенные счета запоминаются, поэтому повторный выпуск для того же
// email возвращает уже существующий счёт через ListDedicatedAccounts.
type MockGateway struct {
	mu sync.Mutex

	// Errors — ошибка, которую вернёт операция (ключ — Op*).
	Errors map[string]error
	// ProviderErrors — ошибка выпуска счёта у конкретного банка.
	ProviderErrors map[string]error
	// Providers — банки, которые вернёт AvailableProviders.
	Providers []string
	// Charges — результаты VerifyTransaction по reference.
	Charges map[string]domain.ChargeResult

	Calls map[string]int

	customers map[string]string
	accounts  map[string][]domain.VirtualAccount
	seq       int
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Errors:         make(map[string]error),
		ProviderErrors: make(map[string]error),
		Providers:      []string{"test-bank"},
		Charges:        make(map[string]domain.ChargeResult),
		Calls:          make(map[string]int),
		customers:      make(map[string]string),
		accounts:       make(map[string][]domain.VirtualAccount),
	}
}

// CallCount возвращает число вызовов операции.
func (m *MockGateway) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

// SetError настраивает ошибку операции (nil снимает её).
func (m *MockGateway) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, op)
		return
	}
	m.Errors[op] = err
}

// SetCharge задаёт ответ VerifyTransaction.
func (m *MockGateway) SetCharge(charge domain.ChargeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Charges[charge.Reference] = charge
}

func (m *MockGateway) begin(op string) error {
	m.Calls[op]++
	return m.Errors[op]
}

func (m *MockGateway) EnsureCustomer(_ context.Context, customer domain.Customer) (domain.GatewayCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpEnsureCustomer); err != nil {
		return domain.GatewayCustomer{}, err
	}
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	code, ok := m.customers[email]
	if !ok {
		m.seq++
		code = fmt.Sprintf("CUS_mock%04d", m.seq)
		m.customers[email] = code
	}
	return domain.GatewayCustomer{Code: code, Email: email}, nil
}

func (m *MockGateway) ListDedicatedAccounts(_ context.Context, customerCode string) ([]domain.VirtualAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpListDedicatedAccounts); err != nil {
		return nil, err
	}
	return append([]domain.VirtualAccount(nil), m.accounts[customerCode]...), nil
}

func (m *MockGateway) AvailableProviders(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpAvailableProviders); err != nil {
		return nil, err
	}
	return append([]string(nil), m.Providers...), nil
}

func (m *MockGateway) CreateDedicatedAccount(_ context.Context, customerCode, provider string) (domain.VirtualAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCreateDedicatedAccount); err != nil {
		return domain.VirtualAccount{}, err
	}
	if err := m.ProviderErrors[provider]; err != nil {
		return domain.VirtualAccount{}, err
	}
	m.seq++
	va := domain.VirtualAccount{
		AccountNumber: fmt.Sprintf("99%08d", m.seq),
		BankName:      bankName(provider),
		AccountName:   "GRUNDY/" + strings.ToUpper(customerCode),
		CustomerCode:  customerCode,
		Currency:      "NGN",
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
	m.accounts[customerCode] = append(m.accounts[customerCode], va)
	return va, nil
}

func (m *MockGateway) InitializeTransaction(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpInitializeTransaction); err != nil {
		return domain.CheckoutSession{}, err
	}
	code := strings.ReplaceAll(req.Reference, "_", "")
	return domain.CheckoutSession{
		AuthorizationURL: "https://checkout.paystack.com/" + code,
		AccessCode:       code,
		Reference:        req.Reference,
	}, nil
}

// VerifyTransaction возвращает заданный через SetCharge результат или abandoned.
func (m *MockGateway) VerifyTransaction(_ context.Context, reference string) (domain.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpVerifyTransaction); err != nil {
		return domain.ChargeResult{}, err
	}
	if charge, ok := m.Charges[reference]; ok {
		return charge, nil
	}
	raw, _ := json.Marshal(map[string]string{"reference": reference, "status": "abandoned"})
	return domain.ChargeResult{Reference: reference, Status: "abandoned", Raw: raw}, nil
}

func (m *MockGateway) CreateSplit(_ context.Context, req domain.SplitRequest) (domain.SplitConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpCreateSplit); err != nil {
		return domain.SplitConfig{}, err
	}
	m.seq++
	return domain.SplitConfig{SplitCode: fmt.Sprintf("SPL_mock%04d", m.seq), Name: req.Name}, nil
}

func bankName(provider string) string {
	if provider == "test-bank" {
		return "Test Bank"
	}
	words := strings.Fields(strings.ReplaceAll(provider, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
