package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает фулфилмент-ось заказа (доставка).
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, диспетчер ещё не подтвердил его.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — заказ подтверждён (оплатой или диспетчером).
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing — заказ собирается у мерчантов.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusOutForDelivery — курьер везёт заказ клиенту.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered — заказ вручён клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// AllOrderStatuses перечисляет статусы в порядке жизненного цикла.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус известен системе.
func (s OrderStatus) Valid() bool {
	for _, st := range AllOrderStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// beyondConfirmed — статусы, недоступные онлайн-заказу без оплаты.
func (s OrderStatus) beyondConfirmed() bool {
	switch s {
	case OrderStatusPreparing, OrderStatusOutForDelivery, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing:      {OrderStatusOutForDelivery},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
}

// CanTransition сообщает, допустим ли шаг машины состояний from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Customer — контактные данные покупателя, неизменяемые после создания заказа.
type Customer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Equal сравнивает контактные данные без учёта регистра email.
func (c Customer) Equal(other Customer) bool {
	return c.Name == other.Name &&
		strings.EqualFold(c.Email, other.Email) &&
		c.Phone == other.Phone &&
		c.Address == other.Address
}

// OrderItem представляет одну позицию заказа (снимок корзины).
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Merchant  string `json:"merchant"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"` // naira за единицу
}

// Subtotal возвращает стоимость позиции.
func (i OrderItem) Subtotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// Order агрегирует состояние заказа: две независимые оси статусов и платёжные метаданные.
type Order struct {
	ID       string      `json:"id"`
	Customer Customer    `json:"customer"`
	Items    []OrderItem `json:"items"`

	// Total — сумма позиций в naira, вычисляется один раз при создании.
	Total    int64  `json:"total"`
	Currency string `json:"currency"`

	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	OrderStatus      OrderStatus     `json:"orderStatus"`
	PaymentReference string          `json:"paymentReference"`
	VirtualAccount   *VirtualAccount `json:"virtualAccount,omitempty"`
	AuthorizationURL string          `json:"authorizationUrl,omitempty"`
	AccessCode       string          `json:"accessCode,omitempty"`

	PlatformFee    int64    `json:"platformFee"`
	MerchantAmount int64    `json:"merchantAmount"`
	Merchants      []string `json:"merchants"`
	Notes          string   `json:"notes,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemsTotal пересчитывает сумму позиций.
func (o *Order) ItemsTotal() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += item.Subtotal()
	}
	return sum
}

// Clone возвращает глубокую копию заказа, чтобы вызывающий не мог менять состояние хранилища.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.Merchants != nil {
		out.Merchants = append([]string(nil), o.Merchants...)
	}
	if o.VirtualAccount != nil {
		va := *o.VirtualAccount
		out.VirtualAccount = &va
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(o.Customer.Name) == "" {
		errs = append(errs, ErrCustomerNameRequired)
	}
	if strings.TrimSpace(o.Customer.Email) == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if strings.TrimSpace(o.Customer.Phone) == "" {
		errs = append(errs, ErrCustomerPhoneRequired)
	}
	if strings.TrimSpace(o.Customer.Address) == "" {
		errs = append(errs, ErrCustomerAddressRequired)
	}
	if !o.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Total < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	for _, item := range o.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if calc := o.ItemsTotal(); calc != o.Total {
		errs = append(errs, fmt.Errorf("%w: total %d, items %d", ErrTotalMismatch, o.Total, calc))
	}

	return errs
}

// DistinctMerchants возвращает мерчантов позиций в порядке первого появления.
func DistinctMerchants(items []OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Merchant == "" {
			continue
		}
		if _, ok := seen[item.Merchant]; ok {
			continue
		}
		seen[item.Merchant] = struct{}{}
		out = append(out, item.Merchant)
	}
	return out
}

// CheckTransition проверяет перевод заказа в статус next с учётом предоплаты онлайн-заказов.
func (o *Order) CheckTransition(next OrderStatus) error {
	if !next.Valid() {
		return &InvalidTransitionError{
			OrderID: o.ID, Field: "orderStatus",
			From: string(o.OrderStatus), To: string(next),
			Reason: "unknown status",
		}
	}
	if !CanTransition(o.OrderStatus, next) {
		return &InvalidTransitionError{
			OrderID: o.ID, Field: "orderStatus",
			From: string(o.OrderStatus), To: string(next),
		}
	}
	if o.PaymentMethod == PaymentMethodOnline && o.PaymentStatus != PaymentStatusPaid && next.beyondConfirmed() {
		return &InvalidTransitionError{
			OrderID: o.ID, Field: "orderStatus",
			From: string(o.OrderStatus), To: string(next),
			Reason: "online order must be paid before fulfilment",
		}
	}
	return nil
}
