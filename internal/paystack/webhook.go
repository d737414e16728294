package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SignatureHeader — заголовок с HMAC-SHA512 подписью тела webhook.
const SignatureHeader = "x-paystack-signature"

// Типы событий webhook.
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventTransferSuccess = "transfer.success"
	EventTransferFailed  = "transfer.failed"
)

// Event — разобранное webhook-событие.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Sign вычисляет hex(HMAC-SHA512(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет подпись за постоянное время.
// Пустой секрет, отсутствующая или неверная подпись дают ErrAuthentication.
func VerifySignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrAuthentication, SignatureHeader)
	}
	if secret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", domain.ErrAuthentication)
	}
	// Сравнение строк hex как есть: подпись в другом регистре не принимается.
	if !hmac.Equal([]byte(signature), []byte(Sign(secret, body))) {
		return domain.ErrAuthentication
	}
	return nil
}

// ParseEvent разбирает тело webhook.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, domain.NewValidationError(fmt.Errorf("malformed webhook body: %w", err))
	}
	if evt.Event == "" {
		return Event{}, domain.NewValidationError(fmt.Errorf("webhook event type is empty"))
	}
	return evt, nil
}

// Charge нормализует data события charge.*.
func (e Event) Charge() (domain.ChargeResult, error) {
	return ParseCharge("webhook."+e.Event, e.Data)
}

// Reference возвращает reference из data без строгой проверки (для аудита transfer-событий).
func (e Event) Reference() string {
	var data struct {
		Reference string `json:"reference"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return data.Reference
}

// OrderID возвращает идентификатор заказа из data.metadata, если он есть.
func (e Event) OrderID() string {
	var data struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	_ = json.Unmarshal(e.Data, &data)
	return metadataOrderID(data.Metadata)
}
