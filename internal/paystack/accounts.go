package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type accountData struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Active        bool   `json:"active"`
	Currency      string `json:"currency"`
	CreatedAt     string `json:"created_at"`
	Bank          *struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"bank"`
	Customer *struct {
		CustomerCode string `json:"customer_code"`
	} `json:"customer"`
}

type providerData struct {
	ProviderSlug string `json:"provider_slug"`
	BankName     string `json:"bank_name"`
}

// ListDedicatedAccounts возвращает активные счета клиента.
func (c *Client) ListDedicatedAccounts(ctx context.Context, customerCode string) ([]domain.VirtualAccount, error) {
	const op = "dedicated_account.list"
	q := url.Values{}
	q.Set("customer", customerCode)
	q.Set("active", "true")

	data, err := c.do(ctx, op, http.MethodGet, "/dedicated_account?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var items []accountData
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, gatewayErr(op, 0, "malformed account list", data, err)
	}
	accounts := make([]domain.VirtualAccount, 0, len(items))
	for _, item := range items {
		va, err := normalizeAccount(op, item, data)
		if err != nil {
			return nil, err
		}
		if va.CustomerCode == "" {
			va.CustomerCode = customerCode
		}
		accounts = append(accounts, va)
	}
	return accounts, nil
}

// AvailableProviders возвращает слаги банков, доступных для выпуска счёта.
func (c *Client) AvailableProviders(ctx context.Context) ([]string, error) {
	const op = "dedicated_account.providers"
	data, err := c.do(ctx, op, http.MethodGet, "/dedicated_account/available_providers", nil)
	if err != nil {
		return nil, err
	}
	var items []providerData
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, gatewayErr(op, 0, "malformed provider list", data, err)
	}
	slugs := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProviderSlug != "" {
			slugs = append(slugs, item.ProviderSlug)
		}
	}
	return slugs, nil
}

// CreateDedicatedAccount выпускает счёт у банка provider.
func (c *Client) CreateDedicatedAccount(ctx context.Context, customerCode, provider string) (domain.VirtualAccount, error) {
	const op = "dedicated_account.create"
	data, err := c.do(ctx, op, http.MethodPost, "/dedicated_account", map[string]string{
		"customer":       customerCode,
		"preferred_bank": provider,
	})
	if err != nil {
		return domain.VirtualAccount{}, err
	}
	var item accountData
	if err := json.Unmarshal(data, &item); err != nil {
		return domain.VirtualAccount{}, gatewayErr(op, 0, "malformed account", data, err)
	}
	va, err := normalizeAccount(op, item, data)
	if err != nil {
		return domain.VirtualAccount{}, err
	}
	if va.CustomerCode == "" {
		va.CustomerCode = customerCode
	}
	return va, nil
}

func normalizeAccount(op string, item accountData, raw []byte) (domain.VirtualAccount, error) {
	switch {
	case item.AccountNumber == "":
		return domain.VirtualAccount{}, missingField(op, "account_number", raw)
	case item.AccountName == "":
		return domain.VirtualAccount{}, missingField(op, "account_name", raw)
	case item.Bank == nil || item.Bank.Name == "":
		return domain.VirtualAccount{}, missingField(op, "bank.name", raw)
	}
	va := domain.VirtualAccount{
		AccountNumber: item.AccountNumber,
		BankName:      item.Bank.Name,
		AccountName:   item.AccountName,
		Currency:      item.Currency,
		Active:        item.Active,
		CreatedAt:     time.Now().UTC(),
	}
	if va.Currency == "" {
		va.Currency = "NGN"
	}
	if item.Customer != nil {
		va.CustomerCode = item.Customer.CustomerCode
	}
	if ts, err := time.Parse(time.RFC3339, item.CreatedAt); err == nil {
		va.CreatedAt = ts.UTC()
	}
	return va, nil
}
