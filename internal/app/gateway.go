package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/paystack"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// newGateway возвращает клиент Paystack. Без секретного ключа работает in-memory шлюз
// для локального запуска. Live-окружение без ключа отсекается валидацией конфига.
func newGateway(cfg config.Paystack, m *metrics.StorefrontMetrics, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.SecretKey == "" {
		logger.Warn("paystack secret key is not set, using in-memory gateway; webhooks will be rejected")
		return payment.NewMockGateway(), nil
	}

	opts := []paystack.Option{
		paystack.WithLogger(logger.WithField("layer", "paystack")),
		paystack.WithMetrics(m),
		paystack.WithUserAgent(version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, paystack.WithBaseURL(cfg.BaseURL))
	}
	client, err := paystack.New(cfg.SecretKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("init paystack client: %w", err)
	}
	logger.WithField("environment", cfg.Environment).Info("paystack gateway initialized")
	return client, nil
}
