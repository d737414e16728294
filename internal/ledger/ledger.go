// Package ledger хранит каноническое состояние заказов и уведомляет подписчиков об изменениях.
//
// Все изменения заказа проходят через Ledger: он проверяет неизменяемые поля и машину
// состояний, сохраняет заказ с optimistic locking, пишет события в outbox и timeline
// и рассылает подписчикам свежие снимки.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// AnyVersion отключает предварительную проверку версии в Update.
const AnyVersion int64 = -1

const (
	defaultCurrency   = "NGN"
	maxUpdateAttempts = 3
	baseRetryDelay    = 10 * time.Millisecond
)

// Draft — данные нового заказа.
type Draft struct {
	Customer         domain.Customer
	Items            []domain.OrderItem
	Total            int64
	Currency         string
	PaymentMethod    domain.PaymentMethod
	PaymentReference string
	Notes            string
}

// OrderPatch — частичное изменение заказа. nil-поля не меняются.
// PaymentMethod, Customer, Items и Total допускаются только равными текущим значениям.
type OrderPatch struct {
	PaymentStatus    *domain.PaymentStatus
	OrderStatus      *domain.OrderStatus
	VirtualAccount   *domain.VirtualAccount
	AuthorizationURL *string
	AccessCode       *string
	Notes            *string
	Reason           string

	PaymentMethod *domain.PaymentMethod
	Customer      *domain.Customer
	Items         []domain.OrderItem
	Total         *int64
}

// Empty сообщает, что патч ничего не меняет.
func (p OrderPatch) Empty() bool {
	return p.PaymentStatus == nil && p.OrderStatus == nil && p.VirtualAccount == nil &&
		p.AuthorizationURL == nil && p.AccessCode == nil && p.Notes == nil &&
		p.PaymentMethod == nil && p.Customer == nil && p.Items == nil && p.Total == nil
}

// MutateFunc по свежему состоянию заказа решает, что изменить. nil означает «ничего».
type MutateFunc func(current domain.Order) (*OrderPatch, error)

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) {
		if gen != nil {
			l.newID = gen
		}
	}
}

// Ledger — реестр заказов.
type Ledger struct {
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository

	logger  *log.Entry
	metrics *metrics.StorefrontMetrics
	now     func() time.Time
	newID   func() string
	sleep   func(time.Duration)

	hub *broadcaster
}

// New создаёт Ledger. outbox и timeline могут быть nil.
func New(orders domain.OrderRepository, outbox domain.OutboxRepository, timeline domain.TimelineRepository, opts ...Option) *Ledger {
	l := &Ledger{
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		logger:   log.New().WithField("component", "ledger"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.hub = newBroadcaster(l.snapshot, l.logger)
	return l
}

// Create сохраняет новый заказ в состоянии pending/pending и рассчитывает сплит.
func (l *Ledger) Create(ctx context.Context, draft Draft) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	now := l.now()
	currency := strings.TrimSpace(draft.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	order := domain.Order{
		ID: l.newID(),
		Customer: domain.Customer{
			Name:    strings.TrimSpace(draft.Customer.Name),
			Email:   strings.TrimSpace(draft.Customer.Email),
			Phone:   strings.TrimSpace(draft.Customer.Phone),
			Address: strings.TrimSpace(draft.Customer.Address),
		},
		Items:            append([]domain.OrderItem(nil), draft.Items...),
		Total:            draft.Total,
		Currency:         currency,
		PaymentMethod:    draft.PaymentMethod,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		PaymentReference: draft.PaymentReference,
		Merchants:        domain.DistinctMerchants(draft.Items),
		Notes:            draft.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, domain.NewValidationError(errs...)
	}
	if order.PaymentReference == "" {
		return domain.Order{}, domain.NewValidationError(domain.ErrReferenceRequired)
	}

	split := domain.CalculateSplit(order.Total)
	order.PlatformFee = split.PlatformFee
	order.MerchantAmount = split.MerchantAmount

	if err := l.orders.Create(order); err != nil {
		return domain.Order{}, domain.PersistenceErr("create order", err)
	}

	l.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"reference":      order.PaymentReference,
		"payment_method": order.PaymentMethod,
		"total":          order.Total,
	}).Info("order created")

	l.emit(order, domain.EventOrderCreated, domain.TimelineOrderCreated, string(order.PaymentMethod))
	l.hub.publish()
	return order, nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	order, err := l.orders.Get(id)
	if err != nil {
		return domain.Order{}, domain.PersistenceErr("get order", err)
	}
	return order, nil
}

// List возвращает заказы по фильтру, новые первыми.
func (l *Ledger) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := l.orders.List(filter)
	if err != nil {
		return nil, domain.PersistenceErr("list orders", err)
	}
	return orders, nil
}

// FindByReference ищет заказ по платёжной ссылке.
func (l *Ledger) FindByReference(ctx context.Context, reference string) (domain.Order, error) {
	if strings.TrimSpace(reference) == "" {
		return domain.Order{}, domain.NewValidationError(domain.ErrReferenceRequired)
	}
	orders, err := l.List(ctx, domain.OrderFilter{Reference: reference, Limit: 1})
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, fmt.Errorf("reference %s: %w", reference, domain.ErrOrderNotFound)
	}
	return orders[0], nil
}

// Stats считает заказы по статусам фулфилмента.
func (l *Ledger) Stats(ctx context.Context) (map[domain.OrderStatus]int, error) {
	orders, err := l.List(ctx, domain.OrderFilter{})
	if err != nil {
		return nil, err
	}
	stats := make(map[domain.OrderStatus]int, len(domain.AllOrderStatuses))
	for _, st := range domain.AllOrderStatuses {
		stats[st] = 0
	}
	for _, o := range orders {
		stats[o.OrderStatus]++
	}
	return stats, nil
}

// Timeline возвращает историю изменений заказа.
func (l *Ledger) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.timeline == nil {
		return nil, nil
	}
	events, err := l.timeline.List(id)
	if err != nil {
		return nil, domain.PersistenceErr("list timeline", err)
	}
	return events, nil
}

// Update применяет патч к заказу, прочитанному в версии version.
// Устаревшая версия даёт ErrOrderVersionConflict, попытка изменить неизменяемые поля
// или нарушить машину состояний — InvalidTransitionError.
// Принятый патч всегда сохраняется с новым updatedAt, даже если значения совпали.
func (l *Ledger) Update(ctx context.Context, id string, version int64, patch OrderPatch) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	current, err := l.orders.Get(id)
	if err != nil {
		return domain.Order{}, domain.PersistenceErr("get order", err)
	}
	if version != AnyVersion && current.Version != version {
		return domain.Order{}, fmt.Errorf("order %s: read version %d, stored %d: %w",
			id, version, current.Version, domain.ErrOrderVersionConflict)
	}
	updated, _, err := l.apply(current, patch, true)
	return updated, err
}

// Mutate перечитывает заказ и применяет патч, построенный fn по свежему состоянию.
// При конфликте версий повторяет попытку с экспоненциальной задержкой.
// Второе значение сообщает, был ли заказ изменён.
func (l *Ledger) Mutate(ctx context.Context, id string, fn MutateFunc) (domain.Order, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Order{}, false, err
		}
		current, err := l.orders.Get(id)
		if err != nil {
			return domain.Order{}, false, domain.PersistenceErr("get order", err)
		}
		patch, err := fn(current)
		if err != nil {
			return current, false, err
		}
		if patch == nil || patch.Empty() {
			return current, false, nil
		}

		updated, changed, err := l.apply(current, *patch, false)
		if err == nil {
			return updated, changed, nil
		}
		if !domain.IsVersionConflict(err) {
			return current, false, err
		}
		lastErr = err
		l.logger.WithFields(log.Fields{
			"order_id": id,
			"attempt":  attempt + 1,
			"version":  current.Version,
		}).Warn("version conflict detected, retrying")
		l.sleep(baseRetryDelay * time.Duration(1<<uint(attempt)))
	}
	return domain.Order{}, false, lastErr
}

// Subscribe возвращает поток снимков заказов, подходящих под match (nil — все заказы).
// Первый снимок отправляется сразу. Канал хранит только последний снимок и закрывается
// после отмены ctx.
func (l *Ledger) Subscribe(ctx context.Context, match func(domain.Order) bool) (<-chan []domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub, err := l.hub.subscribe(match)
	if err != nil {
		return nil, err
	}
	l.metrics.SubscriberAdded()

	go func() {
		<-ctx.Done()
		l.hub.unsubscribe(sub.id)
		l.metrics.SubscriberRemoved()
	}()
	return sub.ch, nil
}

// Refresh рассылает подписчикам актуальное состояние (например, после изменения на другой реплике).
func (l *Ledger) Refresh() {
	l.hub.publish()
}

// apply проверяет и сохраняет патч. Без touch патч, ничего не меняющий, не пишется.
func (l *Ledger) apply(current domain.Order, patch OrderPatch, touch bool) (domain.Order, bool, error) {
	next := current.Clone()
	var changes []change

	if err := checkImmutable(current, patch); err != nil {
		return current, false, err
	}

	if patch.PaymentStatus != nil && *patch.PaymentStatus != current.PaymentStatus {
		if err := checkPaymentTransition(current, *patch.PaymentStatus); err != nil {
			return current, false, err
		}
		next.PaymentStatus = *patch.PaymentStatus
		changes = append(changes, change{
			timeline: domain.TimelinePaymentStatusChanged,
			reason:   fmt.Sprintf("%s -> %s", current.PaymentStatus, next.PaymentStatus),
		})
	}
	if patch.OrderStatus != nil && *patch.OrderStatus != current.OrderStatus {
		// Предоплата проверяется с учётом платёжного статуса из этого же патча.
		if err := next.CheckTransition(*patch.OrderStatus); err != nil {
			return current, false, err
		}
		next.OrderStatus = *patch.OrderStatus
		changes = append(changes, change{
			timeline: domain.TimelineOrderStatusChanged,
			reason:   fmt.Sprintf("%s -> %s", current.OrderStatus, next.OrderStatus),
		})
	}
	if patch.VirtualAccount != nil {
		if current.PaymentMethod != domain.PaymentMethodBankTransfer {
			return current, false, &domain.InvalidTransitionError{
				OrderID: current.ID, Field: "virtualAccount",
				From: string(current.PaymentMethod), To: patch.VirtualAccount.AccountNumber,
				Reason: "virtual account applies to bank_transfer orders only",
			}
		}
		if current.VirtualAccount == nil || current.VirtualAccount.AccountNumber != patch.VirtualAccount.AccountNumber {
			va := *patch.VirtualAccount
			next.VirtualAccount = &va
			changes = append(changes, change{
				timeline: domain.TimelineVirtualAccountIssued,
				reason:   va.BankName + " " + va.AccountNumber,
			})
		}
	}
	if patch.AuthorizationURL != nil && *patch.AuthorizationURL != current.AuthorizationURL {
		next.AuthorizationURL = *patch.AuthorizationURL
		changes = append(changes, change{timeline: domain.TimelineCheckoutInitialized, reason: next.AuthorizationURL})
	}
	if patch.AccessCode != nil && *patch.AccessCode != current.AccessCode {
		next.AccessCode = *patch.AccessCode
	}
	if patch.Notes != nil && *patch.Notes != current.Notes {
		next.Notes = *patch.Notes
		changes = append(changes, change{timeline: domain.TimelineOrderUpdated, reason: "notes"})
	}

	modified := len(changes) > 0 || next.AccessCode != current.AccessCode
	if !modified && !touch {
		return current, false, nil
	}

	next.UpdatedAt = l.now()
	saved, err := l.orders.Save(next)
	if err != nil {
		return current, false, domain.PersistenceErr("save order", err)
	}

	fields := log.Fields{"order_id": saved.ID, "version": saved.Version}
	if patch.Reason != "" {
		fields["reason"] = patch.Reason
	}
	if !modified {
		l.logger.WithFields(fields).Debug("order touched")
		l.hub.publish()
		return saved, false, nil
	}
	l.logger.WithFields(fields).Info("order updated")

	for _, c := range changes {
		reason := c.reason
		if patch.Reason != "" {
			reason = reason + " (" + patch.Reason + ")"
		}
		l.appendTimeline(saved, c.timeline, reason)
	}
	l.enqueue(saved, domain.EventOrderUpdated, patch.Reason)
	if current.PaymentStatus != domain.PaymentStatusPaid && saved.PaymentStatus == domain.PaymentStatusPaid {
		l.enqueue(saved, domain.EventPaymentSettled, patch.Reason)
	}
	l.hub.publish()
	return saved, true, nil
}

type change struct {
	timeline string
	reason   string
}

func checkImmutable(current domain.Order, patch OrderPatch) error {
	reject := func(field, from, to string) error {
		return &domain.InvalidTransitionError{
			OrderID: current.ID, Field: field, From: from, To: to,
			Reason: "field is immutable after creation",
		}
	}
	if patch.PaymentMethod != nil && *patch.PaymentMethod != current.PaymentMethod {
		return reject("paymentMethod", string(current.PaymentMethod), string(*patch.PaymentMethod))
	}
	if patch.Customer != nil && !patch.Customer.Equal(current.Customer) {
		return reject("customer", current.Customer.Email, patch.Customer.Email)
	}
	if patch.Items != nil && !itemsEqual(current.Items, patch.Items) {
		return reject("items", fmt.Sprintf("%d items", len(current.Items)), fmt.Sprintf("%d items", len(patch.Items)))
	}
	if patch.Total != nil && *patch.Total != current.Total {
		return reject("total", fmt.Sprint(current.Total), fmt.Sprint(*patch.Total))
	}
	return nil
}

// checkPaymentTransition не допускает регресса из paid и возврата в pending.
func checkPaymentTransition(current domain.Order, next domain.PaymentStatus) error {
	allowed := false
	switch current.PaymentStatus {
	case domain.PaymentStatusPending:
		allowed = next == domain.PaymentStatusPaid || next == domain.PaymentStatusFailed
	case domain.PaymentStatusFailed:
		allowed = next == domain.PaymentStatusPaid
	case domain.PaymentStatusPaid:
		allowed = next == domain.PaymentStatusRefunded
	}
	if !next.Valid() || !allowed {
		return &domain.InvalidTransitionError{
			OrderID: current.ID, Field: "paymentStatus",
			From: string(current.PaymentStatus), To: string(next),
		}
	}
	return nil
}

func itemsEqual(a, b []domain.OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (l *Ledger) snapshot() ([]domain.Order, error) {
	return l.orders.List(domain.OrderFilter{})
}

func (l *Ledger) emit(order domain.Order, eventType, timelineType, reason string) {
	l.enqueue(order, eventType, reason)
	l.appendTimeline(order, timelineType, reason)
}

// orderEvent — полезная нагрузка событий outbox.
type orderEvent struct {
	OrderID       string               `json:"order_id"`
	Reference     string               `json:"reference"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	OrderStatus   domain.OrderStatus   `json:"order_status"`
	Total         int64                `json:"total"`
	Version       int64                `json:"version"`
	Reason        string               `json:"reason,omitempty"`
	UpdatedAt     string               `json:"updated_at"`
}

func (l *Ledger) enqueue(order domain.Order, eventType, reason string) {
	if l.outbox == nil {
		return
	}
	data, err := json.Marshal(orderEvent{
		OrderID:       order.ID,
		Reference:     order.PaymentReference,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		Total:         order.Total,
		Version:       order.Version,
		Reason:        reason,
		UpdatedAt:     order.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		l.metrics.RecordOutboxEnqueueFailed(eventType)
		l.logger.WithError(err).WithFields(log.Fields{"order_id": order.ID, "event": eventType}).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}
	// Заказ к этому моменту уже сохранён, поэтому сбой outbox не откатывает мутацию:
	// событие теряется, потеря видна по storefront_outbox_enqueue_failures_total.
	if _, err := l.outbox.Enqueue(msg); err != nil {
		l.metrics.RecordOutboxEnqueueFailed(eventType)
		l.logger.WithError(err).WithFields(log.Fields{"order_id": order.ID, "event": eventType}).Error("enqueue event failed")
		return
	}
	l.metrics.RecordOutboxEvent()
}

func (l *Ledger) appendTimeline(order domain.Order, eventType, reason string) {
	if l.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: order.UpdatedAt,
	}
	if err := l.timeline.Append(event); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{"order_id": order.ID, "event": eventType}).Warn("append timeline event failed")
		return
	}
	l.metrics.RecordTimelineEvent()
}

// ErrClosed возвращается при подписке на остановленный Ledger.
var ErrClosed = errors.New("ledger closed")

// Close закрывает все подписки.
func (l *Ledger) Close() {
	l.hub.close()
}
