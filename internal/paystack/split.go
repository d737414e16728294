package paystack

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type splitSubaccount struct {
	Subaccount string `json:"subaccount"`
	Share      int    `json:"share"`
}

type splitPayload struct {
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	Currency         string            `json:"currency"`
	Subaccounts      []splitSubaccount `json:"subaccounts"`
	BearerType       string            `json:"bearer_type"`
	BearerSubaccount string            `json:"bearer_subaccount,omitempty"`
}

// CreateSplit создаёт процентный сплит: сабаккаунт мерчанта получает MerchantShare процентов.
func (c *Client) CreateSplit(ctx context.Context, req domain.SplitRequest) (domain.SplitConfig, error) {
	const op = "split.create"
	data, err := c.do(ctx, op, http.MethodPost, "/split", splitPayload{
		Name:             req.Name,
		Type:             "percentage",
		Currency:         req.Currency,
		Subaccounts:      []splitSubaccount{{Subaccount: req.SubaccountCode, Share: req.MerchantShare}},
		BearerType:       req.BearerType,
		BearerSubaccount: req.BearerSubaccount,
	})
	if err != nil {
		return domain.SplitConfig{}, err
	}
	var out struct {
		SplitCode string `json:"split_code"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.SplitConfig{}, gatewayErr(op, 0, "malformed split", data, err)
	}
	if out.SplitCode == "" {
		return domain.SplitConfig{}, missingField(op, "split_code", data)
	}
	return domain.SplitConfig{SplitCode: out.SplitCode, Name: out.Name}, nil
}

var _ domain.PaymentGateway = (*Client)(nil)
