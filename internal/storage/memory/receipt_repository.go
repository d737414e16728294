package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type receiptRepositoryInMemory struct {
	mu      sync.RWMutex
	byOrder map[string]domain.Receipt
}

// NewReceiptRepository создаёт in-memory хранилище чеков.
func NewReceiptRepository() domain.ReceiptRepository {
	return &receiptRepositoryInMemory{byOrder: make(map[string]domain.Receipt)}
}

// Create сохраняет чек; второй чек на тот же заказ отклоняется.
func (r *receiptRepositoryInMemory) Create(receipt domain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrder[receipt.OrderID]; ok {
		return domain.ErrReceiptExists
	}
	receipt.Items = append([]domain.OrderItem(nil), receipt.Items...)
	r.byOrder[receipt.OrderID] = receipt
	return nil
}

func (r *receiptRepositoryInMemory) GetByOrder(orderID string) (domain.Receipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	receipt, ok := r.byOrder[orderID]
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}
	return receipt, nil
}

var _ domain.ReceiptRepository = (*receiptRepositoryInMemory)(nil)
