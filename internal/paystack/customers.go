package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerPayload struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type customerData struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

// EnsureCustomer создаёт клиента по email. Ответ «already exists» считается успехом:
// код клиента восстанавливается запросом GET /customer/:email.
func (c *Client) EnsureCustomer(ctx context.Context, customer domain.Customer) (domain.GatewayCustomer, error) {
	const op = "customer.create"
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		return domain.GatewayCustomer{}, domain.NewValidationError(domain.ErrCustomerEmailRequired)
	}
	first, last := splitName(customer.Name)

	data, err := c.do(ctx, op, http.MethodPost, "/customer", customerPayload{
		Email:     email,
		FirstName: first,
		LastName:  last,
		Phone:     customer.Phone,
	})
	if err != nil {
		var gwErr *domain.GatewayError
		if errors.As(err, &gwErr) && isAlreadyExists(gwErr) {
			c.logger.WithField("email", email).Info("paystack customer already exists, fetching")
			return c.fetchCustomer(ctx, email)
		}
		return domain.GatewayCustomer{}, err
	}
	return parseCustomer(op, data)
}

func (c *Client) fetchCustomer(ctx context.Context, email string) (domain.GatewayCustomer, error) {
	const op = "customer.fetch"
	data, err := c.do(ctx, op, http.MethodGet, "/customer/"+url.PathEscape(email), nil)
	if err != nil {
		return domain.GatewayCustomer{}, err
	}
	return parseCustomer(op, data)
}

func parseCustomer(op string, data json.RawMessage) (domain.GatewayCustomer, error) {
	var cd customerData
	if err := json.Unmarshal(data, &cd); err != nil {
		return domain.GatewayCustomer{}, gatewayErr(op, 0, "malformed customer", data, err)
	}
	if cd.CustomerCode == "" {
		return domain.GatewayCustomer{}, missingField(op, "customer_code", data)
	}
	return domain.GatewayCustomer{Code: cd.CustomerCode, Email: cd.Email}, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
