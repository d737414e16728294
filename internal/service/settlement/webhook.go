package settlement

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/paystack"
)

// Исходы обработки webhook.
const (
	OutcomeSettled   = "settled"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeUnmatched = "unmatched"
	OutcomeAudited   = "audited"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
)

// WebhookResult — итог обработки события.
type WebhookResult struct {
	Event   string
	OrderID string
	Outcome string
}

// HandleWebhook проверяет подпись сырого тела и применяет событие.
// Неверная подпись возвращает ErrAuthentication без изменений состояния.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if err := paystack.VerifySignature(s.secret, body, signature); err != nil {
		s.metrics.RecordSignatureRejected()
		s.logger.WithError(err).WithField("body_size", len(body)).Warn("webhook signature rejected")
		return WebhookResult{Outcome: OutcomeRejected}, err
	}

	evt, err := paystack.ParseEvent(body)
	if err != nil {
		s.metrics.RecordWebhookEvent("unknown", OutcomeRejected)
		s.logger.WithError(err).WithField("payload", string(body)).Warn("malformed webhook body")
		return WebhookResult{Outcome: OutcomeRejected}, err
	}

	logger := s.logger.WithField("event", evt.Event)
	var res WebhookResult
	switch evt.Event {
	case paystack.EventChargeSuccess:
		res, err = s.chargeSuccess(ctx, evt, logger)
	case paystack.EventChargeFailed:
		res, err = s.chargeFailed(ctx, evt, logger)
	case paystack.EventTransferSuccess, paystack.EventTransferFailed:
		logger.WithFields(log.Fields{
			"reference": evt.Reference(),
			"payload":   string(evt.Data),
		}).Info("transfer event recorded")
		res = WebhookResult{Outcome: OutcomeAudited}
	default:
		logger.Info("unhandled webhook event ignored")
		res = WebhookResult{Outcome: OutcomeIgnored}
	}
	res.Event = evt.Event
	if err != nil {
		res.Outcome = OutcomeRejected
	}
	s.metrics.RecordWebhookEvent(evt.Event, res.Outcome)
	return res, err
}

func (s *Service) chargeSuccess(ctx context.Context, evt paystack.Event, logger *log.Entry) (WebhookResult, error) {
	charge, err := evt.Charge()
	if err != nil {
		logger.WithError(err).WithField("payload", string(evt.Data)).Error("malformed charge payload")
		return WebhookResult{}, err
	}
	logger = logger.WithField("reference", charge.Reference)

	order, err := s.resolveOrder(ctx, charge.OrderID, charge.Reference)
	if err != nil {
		if domain.IsNotFound(err) {
			logger.WithField("payload", string(evt.Data)).Warn("charge does not match any order")
			return WebhookResult{Outcome: OutcomeUnmatched}, nil
		}
		return WebhookResult{}, err
	}

	_, changed, err := s.settle(ctx, order.ID, settleRequest{
		Source:      domain.SettlementSourceWebhook,
		Reference:   charge.Reference,
		AmountMinor: charge.AmountMinor,
		Raw:         charge.Raw,
	})
	if err != nil {
		return WebhookResult{OrderID: order.ID}, err
	}
	if !changed {
		return WebhookResult{OrderID: order.ID, Outcome: OutcomeDuplicate}, nil
	}
	return WebhookResult{OrderID: order.ID, Outcome: OutcomeSettled}, nil
}

func (s *Service) chargeFailed(ctx context.Context, evt paystack.Event, logger *log.Entry) (WebhookResult, error) {
	ref, orderID := evt.Reference(), evt.OrderID()
	var minor int64
	if charge, err := evt.Charge(); err == nil {
		ref, orderID, minor = charge.Reference, charge.OrderID, charge.AmountMinor
	}
	logger = logger.WithField("reference", ref)

	order, err := s.resolveOrder(ctx, orderID, ref)
	if err != nil {
		if domain.IsNotFound(err) {
			logger.WithField("payload", string(evt.Data)).Warn("failed charge does not match any order")
			return WebhookResult{Outcome: OutcomeUnmatched}, nil
		}
		return WebhookResult{}, err
	}

	_, changed, err := s.fail(ctx, order.ID, settleRequest{
		Source:      domain.SettlementSourceWebhook,
		Reference:   ref,
		AmountMinor: minor,
		Raw:         evt.Data,
	})
	if err != nil {
		return WebhookResult{OrderID: order.ID}, err
	}
	if !changed {
		return WebhookResult{OrderID: order.ID, Outcome: OutcomeDuplicate}, nil
	}
	return WebhookResult{OrderID: order.ID, Outcome: OutcomeFailed}, nil
}
