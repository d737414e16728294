package domain

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	Email     string
	Status    OrderStatus
	Reference string
	Limit     int
}

// Match проверяет заказ на соответствие фильтру (без учёта Limit).
func (f OrderFilter) Match(o Order) bool {
	if f.Email != "" && !equalFoldASCII(f.Email, o.Customer.Email) {
		return false
	}
	if f.Status != "" && f.Status != o.OrderStatus {
		return false
	}
	if f.Reference != "" && f.Reference != o.PaymentReference {
		return false
	}
	return true
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// order.Version должен совпадать с сохранённой версией, после записи версия увеличивается.
	Save(order Order) (Order, error)
}

// TransactionRepository — журнал расчётов, только добавление.
type TransactionRepository interface {
	// Append молча пропускает вторую paid-транзакцию с тем же reference.
	Append(tx Transaction) error
	ListByOrder(orderID string) ([]Transaction, error)
	ListByReference(reference string) ([]Transaction, error)
}

// ReceiptRepository хранит чеки; на заказ не более одного.
type ReceiptRepository interface {
	// Create возвращает ErrReceiptExists, если чек по заказу уже есть.
	Create(receipt Receipt) error
	GetByOrder(orderID string) (Receipt, error)
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
