package domain

import (
	"encoding/json"
	"time"
)

// PaymentMethod фиксируется при создании заказа и больше не меняется.
type PaymentMethod string

const (
	// PaymentMethodOnline — карта через hosted checkout Paystack.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodBankTransfer — перевод на выделенный виртуальный счёт при доставке.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	// PaymentMethodTerminal — оплата через POS-терминал курьера.
	PaymentMethodTerminal PaymentMethod = "terminal"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodOnline, PaymentMethodBankTransfer, PaymentMethodTerminal:
		return true
	default:
		return false
	}
}

// PaymentStatus описывает платёжную ось заказа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж ещё не подтверждён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — деньги получены.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — шлюз сообщил об отказе.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус платежа известен системе.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// SettlementSource — источник сигнала об оплате.
type SettlementSource string

const (
	SettlementSourceWebhook  SettlementSource = "webhook"
	SettlementSourceCheckout SettlementSource = "checkout"
	SettlementSourceManual   SettlementSource = "manual"
	SettlementSourceVerify   SettlementSource = "verify"
)

// VirtualAccount — выделенный банковский счёт, выпущенный шлюзом для клиента.
type VirtualAccount struct {
	AccountNumber string    `json:"accountNumber"`
	BankName      string    `json:"bankName"`
	AccountName   string    `json:"accountName"`
	CustomerCode  string    `json:"customerCode,omitempty"`
	Currency      string    `json:"currency"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Transaction — неизменяемая запись об одной попытке или результате расчёта.
type Transaction struct {
	ID             string           `json:"id"`
	OrderID        string           `json:"orderId"`
	Amount         int64            `json:"amount"`        // naira
	AmountMinor    int64            `json:"amountMinor"` // kobo
	PaymentMethod  PaymentMethod    `json:"paymentMethod"`
	Status         PaymentStatus    `json:"status"`
	Reference      string           `json:"reference"`
	Source         SettlementSource `json:"source"`
	GatewayPayload json.RawMessage  `json:"gatewayPayload,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Receipt — снимок оплаченного онлайн-заказа, создаётся один раз.
type Receipt struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId"`
	CustomerEmail string        `json:"customerEmail"`
	Items         []OrderItem   `json:"items"`
	Total         int64         `json:"total"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Reference     string        `json:"reference"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// NewReceipt строит чек по оплаченному заказу.
func NewReceipt(id string, order Order, now time.Time) Receipt {
	return Receipt{
		ID:            id,
		OrderID:       order.ID,
		CustomerEmail: order.Customer.Email,
		Items:         append([]OrderItem(nil), order.Items...),
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		Reference:     order.PaymentReference,
		CreatedAt:     now,
	}
}
