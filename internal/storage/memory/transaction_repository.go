package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// transactionRepositoryInMemory хранит журнал расчётов в порядке записи.
type transactionRepositoryInMemory struct {
	mu  sync.RWMutex
	txs []domain.Transaction
}

// NewTransactionRepository создаёт in-memory журнал транзакций.
func NewTransactionRepository() domain.TransactionRepository {
	return &transactionRepositoryInMemory{}
}

func (r *transactionRepositoryInMemory) Append(tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.Status == domain.PaymentStatusPaid {
		for _, existing := range r.txs {
			if existing.Status == domain.PaymentStatusPaid && existing.Reference == tx.Reference {
				return nil
			}
		}
	}
	tx.GatewayPayload = append([]byte(nil), tx.GatewayPayload...)
	r.txs = append(r.txs, tx)
	return nil
}

func (r *transactionRepositoryInMemory) ListByOrder(orderID string) ([]domain.Transaction, error) {
	return r.filter(func(tx domain.Transaction) bool { return tx.OrderID == orderID }), nil
}

func (r *transactionRepositoryInMemory) ListByReference(reference string) ([]domain.Transaction, error) {
	return r.filter(func(tx domain.Transaction) bool { return tx.Reference == reference }), nil
}

func (r *transactionRepositoryInMemory) filter(keep func(domain.Transaction) bool) []domain.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, tx := range r.txs {
		if keep(tx) {
			result = append(result, tx)
		}
	}
	return result
}

var _ domain.TransactionRepository = (*transactionRepositoryInMemory)(nil)
