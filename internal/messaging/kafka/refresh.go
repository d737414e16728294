package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Refresher — получатель сигнала «состояние заказов изменилось».
type Refresher interface {
	Refresh()
}

// NewRefreshHandler возвращает обработчик TopicOrderEvents, который будит
// подписчиков локального ledger при изменениях на других репликах.
// Сообщения с собственным origin пропускаются: ledger уже разослал их сам.
func NewRefreshHandler(target Refresher, origin string, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		if origin != "" && header(message, HeaderOrigin) == origin {
			return nil
		}
		envelope, err := ParseOrderEnvelope(message)
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"order_id":   envelope.OrderID,
			"event_type": envelope.EventType,
		}).Debug("order event from peer")
		target.Refresh()
		return nil
	}
}
