package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New("sk_test_secret", WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("  ")
	require.ErrorIs(t, err, ErrSecretKeyRequired)
}

func TestEnsureCustomer_Created(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/customer", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ada@example.com", body["email"])
		require.Equal(t, "Ada", body["first_name"])
		require.Equal(t, "Obi", body["last_name"])

		writeJSON(w, http.StatusOK, `{"status":true,"message":"Customer created","data":{"customer_code":"CUS_123","email":"ada@example.com"}}`)
	})

	cust, err := c.EnsureCustomer(context.Background(), domain.Customer{Name: "Ada Obi", Email: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, "CUS_123", cust.Code)
}

func TestEnsureCustomer_AlreadyExistsRecoversCode(t *testing.T) {
	var fetched bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			writeJSON(w, http.StatusBadRequest, `{"status":false,"message":"Customer already exists"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/customer/"):
			fetched = true
			writeJSON(w, http.StatusOK, `{"status":true,"data":{"customer_code":"CUS_existing","email":"ada@example.com"}}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	cust, err := c.EnsureCustomer(context.Background(), domain.Customer{Email: "ada@example.com"})
	require.NoError(t, err)
	require.True(t, fetched)
	require.Equal(t, "CUS_existing", cust.Code)
}

func TestCreateDedicatedAccount_Normalises(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "CUS_1", body["customer"])
		require.Equal(t, "test-bank", body["preferred_bank"])
		writeJSON(w, http.StatusOK, `{"status":true,"data":{
			"account_name":"GRUNDY/ADA OBI","account_number":"9930000001","active":true,"currency":"NGN",
			"created_at":"2024-01-02T03:04:05Z","bank":{"name":"Test Bank","slug":"test-bank"},
			"customer":{"customer_code":"CUS_1"}}}`)
	})

	va, err := c.CreateDedicatedAccount(context.Background(), "CUS_1", "test-bank")
	require.NoError(t, err)
	require.Equal(t, "9930000001", va.AccountNumber)
	require.Equal(t, "Test Bank", va.BankName)
	require.Equal(t, "GRUNDY/ADA OBI", va.AccountName)
	require.True(t, va.Active)
	require.Equal(t, 2024, va.CreatedAt.Year())
}

func TestCreateDedicatedAccount_FailsClosedOnMissingField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":true,"data":{"account_name":"X","bank":{"name":"Test Bank"}}}`)
	})

	_, err := c.CreateDedicatedAccount(context.Background(), "CUS_1", "test-bank")
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Contains(t, gwErr.Message, "account_number")
	require.NotEmpty(t, gwErr.Raw)
}

func TestGatewayErrorCarriesRawMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"status":false,"message":"Dedicated NUBAN not available for this integration"}`)
	})

	_, err := c.CreateDedicatedAccount(context.Background(), "CUS_1", "wema-bank")
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	require.Equal(t, "Dedicated NUBAN not available for this integration", gwErr.Message)
	require.True(t, errors.Is(err, domain.ErrGateway))
}

func TestListAccountsAndProviders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dedicated_account":
			require.Equal(t, "CUS_1", r.URL.Query().Get("customer"))
			writeJSON(w, http.StatusOK, `{"status":true,"data":[{"account_name":"A","account_number":"1","active":true,"bank":{"name":"Wema Bank"}}]}`)
		case "/dedicated_account/available_providers":
			writeJSON(w, http.StatusOK, `{"status":true,"data":[{"provider_slug":"wema-bank","bank_name":"Wema Bank"},{"provider_slug":"titan-paystack"}]}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	accounts, err := c.ListDedicatedAccounts(context.Background(), "CUS_1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "CUS_1", accounts[0].CustomerCode)

	providers, err := c.AvailableProviders(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"wema-bank", "titan-paystack"}, providers)
}

func TestInitializeTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 100000, body["amount"])
		require.Equal(t, "SPL_1", body["split_code"])
		require.Equal(t, "order-1", body["metadata"].(map[string]any)["orderId"])
		writeJSON(w, http.StatusOK, `{"status":true,"data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"grundy_1_x"}}`)
	})

	session, err := c.InitializeTransaction(context.Background(), domain.CheckoutRequest{
		Email: "ada@example.com", AmountMinor: 100000, Reference: "grundy_1_x", Currency: "NGN",
		Channels: []string{"card"}, SplitCode: "SPL_1", Metadata: map[string]any{"orderId": "order-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.paystack.com/abc", session.AuthorizationURL)
	require.Equal(t, "abc", session.AccessCode)
}

func TestVerifyTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/grundy_1_x", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"status":true,"data":{"reference":"grundy_1_x","status":"success","amount":500000,
			"currency":"NGN","channel":"card","paid_at":"2024-05-01T10:00:00Z","metadata":"{\"order_id\":\"order-9\"}"}}`)
	})

	charge, err := c.VerifyTransaction(context.Background(), "grundy_1_x")
	require.NoError(t, err)
	require.True(t, charge.Succeeded())
	require.EqualValues(t, 500000, charge.AmountMinor)
	require.Equal(t, "order-9", charge.OrderID)
	require.False(t, charge.PaidAt.IsZero())
}

func TestCreateSplit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "percentage", body["type"])
		require.Equal(t, "subaccount", body["bearer_type"])
		subs := body["subaccounts"].([]any)
		require.EqualValues(t, 90, subs[0].(map[string]any)["share"])
		writeJSON(w, http.StatusOK, `{"status":true,"data":{"split_code":"SPL_abc","name":"Balogun Market split"}}`)
	})

	split, err := c.CreateSplit(context.Background(), domain.SplitRequest{
		Name: "Balogun Market split", Currency: "NGN", SubaccountCode: "ACCT_test_balogun_market",
		MerchantShare: 90, BearerType: "subaccount", BearerSubaccount: "ACCT_test_balogun_market",
	})
	require.NoError(t, err)
	require.Equal(t, "SPL_abc", split.SplitCode)
}

func TestUserAgentHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "storefront/v1.2.3" {
			writeJSON(w, http.StatusBadRequest, `{"status":false,"message":"bad agent"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"status":true,"message":"ok","data":[{"provider_slug":"wema-bank"}]}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New("sk_test_secret", WithBaseURL(srv.URL), WithUserAgent("storefront/v1.2.3"))
	require.NoError(t, err)

	providers, err := c.AvailableProviders(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"wema-bank"}, providers)
}
