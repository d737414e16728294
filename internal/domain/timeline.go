package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated         = "order_created"
	TimelineOrderStatusChanged   = "order_status_changed"
	TimelinePaymentStatusChanged = "payment_status_changed"
	TimelineVirtualAccountIssued = "virtual_account_issued"
	TimelineCheckoutInitialized  = "checkout_initialized"
	TimelineOrderUpdated         = "order_updated"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string    `json:"orderId"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Occurred time.Time `json:"occurred"`
}
