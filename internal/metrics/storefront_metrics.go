package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorefrontMetrics содержит метрики жизненного цикла заказов и расчётов.
type StorefrontMetrics struct {
	// Оформление заказов
	checkoutStarted *prometheus.CounterVec
	checkoutFailed  *prometheus.CounterVec

	// Расчёты
	settlementsApplied *prometheus.CounterVec
	settlementsNoop    *prometheus.CounterVec

	// Webhook
	webhookEvents       *prometheus.CounterVec
	signatureRejections prometheus.Counter

	// Шлюз
	gatewayDuration *prometheus.HistogramVec
	accountsIssued  *prometheus.CounterVec

	// Ledger
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
	outboxDropped  *prometheus.CounterVec
	subscribers    prometheus.Gauge
}

// NewStorefrontMetrics регистрирует метрики в DefaultRegisterer.
func NewStorefrontMetrics() *StorefrontMetrics {
	return NewStorefrontMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewStorefrontMetricsWithRegisterer(registerer prometheus.Registerer) *StorefrontMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StorefrontMetrics{
		checkoutStarted: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_started_total",
			Help: "Orders placed, by payment method",
		}, []string{"payment_method"})),
		checkoutFailed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkout_failed_total",
			Help: "Checkouts rejected or failed at the gateway, by payment method",
		}, []string{"payment_method"})),
		settlementsApplied: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_settlements_applied_total",
			Help: "Payment status transitions applied, by source and resulting status",
		}, []string{"source", "status"})),
		settlementsNoop: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_settlements_noop_total",
			Help: "Settlement signals that did not change the order, by source",
		}, []string{"source"})),
		webhookEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Gateway webhook events, by event type and result",
		}, []string{"event", "result"})),
		signatureRejections: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_webhook_signature_rejections_total",
			Help: "Webhook deliveries rejected due to a missing or invalid signature",
		})),
		gatewayDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"})),
		accountsIssued: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_dedicated_accounts_total",
			Help: "Dedicated accounts attached to orders, by outcome (issued, reused)",
		}, []string{"outcome"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		})),
		outboxDropped: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_outbox_enqueue_failures_total",
			Help: "Order events lost because the outbox write failed after the order was saved, by event type",
		}, []string{"event"})),
		subscribers: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_ledger_subscribers",
			Help: "Number of active order ledger subscriptions",
		})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordCheckoutStarted фиксирует созданный заказ.
func (m *StorefrontMetrics) RecordCheckoutStarted(method string) {
	if m == nil {
		return
	}
	m.checkoutStarted.WithLabelValues(method).Inc()
}

// RecordCheckoutFailed фиксирует неудачное оформление.
func (m *StorefrontMetrics) RecordCheckoutFailed(method string) {
	if m == nil {
		return
	}
	m.checkoutFailed.WithLabelValues(method).Inc()
}

// RecordSettlement фиксирует применённый переход платёжного статуса.
func (m *StorefrontMetrics) RecordSettlement(source, status string) {
	if m == nil {
		return
	}
	m.settlementsApplied.WithLabelValues(source, status).Inc()
}

// RecordSettlementNoop фиксирует повторный сигнал без изменений.
func (m *StorefrontMetrics) RecordSettlementNoop(source string) {
	if m == nil {
		return
	}
	m.settlementsNoop.WithLabelValues(source).Inc()
}

// RecordWebhookEvent фиксирует обработку webhook-события.
func (m *StorefrontMetrics) RecordWebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}

// RecordSignatureRejected фиксирует отклонённую подпись.
func (m *StorefrontMetrics) RecordSignatureRejected() {
	if m == nil {
		return
	}
	m.signatureRejections.Inc()
}

// ObserveGatewayCall записывает длительность вызова шлюза.
func (m *StorefrontMetrics) ObserveGatewayCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// RecordDedicatedAccount фиксирует выпуск или переиспользование счёта.
func (m *StorefrontMetrics) RecordDedicatedAccount(outcome string) {
	if m == nil {
		return
	}
	m.accountsIssued.WithLabelValues(outcome).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *StorefrontMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StorefrontMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordOutboxEnqueueFailed фиксирует событие, не попавшее в outbox.
func (m *StorefrontMetrics) RecordOutboxEnqueueFailed(event string) {
	if m == nil {
		return
	}
	m.outboxDropped.WithLabelValues(event).Inc()
}

// SubscriberAdded увеличивает число активных подписок.
func (m *StorefrontMetrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved уменьшает число активных подписок.
func (m *StorefrontMetrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
