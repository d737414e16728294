package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation — корневая ошибка некорректного входа (ValidationError).
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition — корневая ошибка недопустимого перехода статусов.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrGateway — корневая ошибка платёжного шлюза.
	ErrGateway = errors.New("payment gateway error")
	// ErrAuthentication возвращается при несовпадении подписи webhook.
	ErrAuthentication = errors.New("webhook signature mismatch")
	// ErrPersistence оборачивает сбои хранилища.
	ErrPersistence = errors.New("persistence failure")

	// Ошибка отсутствующего имени клиента.
	ErrCustomerNameRequired = errors.New("customer name is required")
	// Ошибка отсутствующего email клиента.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// Ошибка отсутствующего телефона клиента.
	ErrCustomerPhoneRequired = errors.New("customer phone is required")
	// Ошибка отсутствующего адреса доставки.
	ErrCustomerAddressRequired = errors.New("customer delivery address is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара.
	ErrItemProductRequired = errors.New("item product id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной суммы заказа.
	ErrTotalNegative = errors.New("total must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method must be one of online, bank_transfer, terminal")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order id is required")
	// Ошибка отсутствующей платёжной ссылки.
	ErrReferenceRequired = errors.New("payment reference is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrReceiptNotFound возвращается, если чек по заказу ещё не создан.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrReceiptExists возвращается при попытке создать второй чек для заказа.
	ErrReceiptExists = errors.New("receipt already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении (ConflictError).
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrNoDedicatedAccountProvider — нет ни одного банка для выпуска виртуального счёта.
	ErrNoDedicatedAccountProvider = errors.New("no dedicated account provider available")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки idempotency-слоя.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different payload")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ValidationError собирает все замечания к входным данным.
type ValidationError struct {
	Errs []error
}

// NewValidationError создаёт ValidationError из списка замечаний.
func NewValidationError(errs ...error) *ValidationError {
	return &ValidationError{Errs: errs}
}

func (e *ValidationError) Error() string {
	if len(e.Errs) == 0 {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s: %s", ErrValidation, joinErrors(e.Errs))
}

// Unwrap позволяет errors.Is находить как ErrValidation, так и конкретные причины.
func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrValidation}, e.Errs...)
}

// InvalidTransitionError описывает отклонённое изменение заказа.
type InvalidTransitionError struct {
	OrderID string
	Field   string
	From    string
	To      string
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s: order %s %s %q -> %q", ErrInvalidTransition, e.OrderID, e.Field, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// GatewayError несёт диагностику ответа платёжного шлюза.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Raw        []byte
	Err        error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	b.WriteString(ErrGateway.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGateway}
	}
	return []error{ErrGateway, e.Err}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, что заказ отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsInvalidTransition проверяет отказ машины состояний.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsIdempotencyConflict проверяет повтор idempotency-key.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// PersistenceErr оборачивает ошибку хранилища, сохраняя доменные sentinel-ошибки как есть.
func PersistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrReceiptNotFound) || errors.Is(err, ErrReceiptExists) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func joinErrors(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}
