package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type initializePayload struct {
	Email     string         `json:"email"`
	Amount    int64          `json:"amount"`
	Reference string         `json:"reference"`
	Currency  string         `json:"currency,omitempty"`
	Channels  []string       `json:"channels,omitempty"`
	SplitCode string         `json:"split_code,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeTransaction открывает hosted checkout. AmountMinor — сумма в kobo.
func (c *Client) InitializeTransaction(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	const op = "transaction.initialize"
	data, err := c.do(ctx, op, http.MethodPost, "/transaction/initialize", initializePayload{
		Email:     req.Email,
		Amount:    req.AmountMinor,
		Reference: req.Reference,
		Currency:  req.Currency,
		Channels:  req.Channels,
		SplitCode: req.SplitCode,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	var init initializeData
	if err := json.Unmarshal(data, &init); err != nil {
		return domain.CheckoutSession{}, gatewayErr(op, 0, "malformed initialize response", data, err)
	}
	switch {
	case init.AuthorizationURL == "":
		return domain.CheckoutSession{}, missingField(op, "authorization_url", data)
	case init.AccessCode == "":
		return domain.CheckoutSession{}, missingField(op, "access_code", data)
	}
	if init.Reference == "" {
		init.Reference = req.Reference
	}
	return domain.CheckoutSession{
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
		Reference:        init.Reference,
	}, nil
}

// VerifyTransaction запрашивает итог транзакции.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (domain.ChargeResult, error) {
	const op = "transaction.verify"
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.ChargeResult{}, domain.NewValidationError(domain.ErrReferenceRequired)
	}
	data, err := c.do(ctx, op, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	return ParseCharge(op, data)
}

type chargeData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    *int64          `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// ParseCharge нормализует объект транзакции (data из verify или webhook).
func ParseCharge(op string, data json.RawMessage) (domain.ChargeResult, error) {
	var cd chargeData
	if err := json.Unmarshal(data, &cd); err != nil {
		return domain.ChargeResult{}, gatewayErr(op, 0, "malformed charge", data, err)
	}
	switch {
	case cd.Reference == "":
		return domain.ChargeResult{}, missingField(op, "reference", data)
	case cd.Amount == nil:
		return domain.ChargeResult{}, missingField(op, "amount", data)
	case cd.Status == "":
		return domain.ChargeResult{}, missingField(op, "status", data)
	}
	result := domain.ChargeResult{
		Reference:   cd.Reference,
		Status:      cd.Status,
		AmountMinor: *cd.Amount,
		Currency:    cd.Currency,
		OrderID:     metadataOrderID(cd.Metadata),
		Channel:     cd.Channel,
		Raw:         append(json.RawMessage(nil), data...),
	}
	if ts, err := time.Parse(time.RFC3339, cd.PaidAt); err == nil {
		result.PaidAt = ts.UTC()
	}
	return result, nil
}

// metadataOrderID достаёт идентификатор заказа из metadata.
// Paystack может вернуть metadata объектом или JSON-строкой.
func metadataOrderID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil || encoded == "" {
			return ""
		}
		if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
			return ""
		}
	}
	for _, key := range []string{"orderId", "order_id"} {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
