package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/paystack"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const testSecret = "sk_test_http_secret"

type testAPI struct {
	server  *httptest.Server
	gateway *payment.MockGateway
	ledger  *ledger.Ledger
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	return newTestAPIWith(t, memory.NewTransactionRepository())
}

func newTestAPIWith(t *testing.T, txs domain.TransactionRepository) testAPI {
	t.Helper()
	l := ledger.New(memory.NewOrderRepository(), memory.NewOutboxRepository(), memory.NewTimelineRepository())
	t.Cleanup(l.Close)
	gw := payment.NewMockGateway()
	cat := catalog.Default()

	checkoutSvc, err := checkout.NewService(l, txs, gw, checkout.Config{}, checkout.WithCatalog(cat))
	require.NoError(t, err)
	settlementSvc, err := settlement.NewService(l, txs, memory.NewReceiptRepository(), gw, testSecret)
	require.NoError(t, err)

	h := NewHandler(checkoutSvc, settlementSvc, l, cat, nil)
	srv := httptest.NewServer(NewRouter(h, memory.NewIdempotencyRepository()))
	t.Cleanup(srv.Close)
	return testAPI{server: srv, gateway: gw, ledger: l}
}

func (a testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func checkoutBody(method string) map[string]any {
	return map[string]any{
		"paymentMethod": method,
		"customer": map[string]string{
			"name":    "Ada Obi",
			"email":   "ada@example.com",
			"phone":   "+2348000000000",
			"address": "12 Marina, Lagos",
		},
		"items": []map[string]any{
			{"productId": "4", "quantity": 1, "unitPrice": 4500},
			{"productId": "11", "quantity": 1, "unitPrice": 500},
		},
		"total": 5000,
	}
}

func placeOrder(t *testing.T, api testAPI, method string) checkoutResponse {
	t.Helper()
	resp, body := api.do(t, http.MethodPost, "/api/checkout", checkoutBody(method), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var out checkoutResponse
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestCatalog(t *testing.T) {
	api := newTestAPI(t)
	resp, body := api.do(t, http.MethodGet, "/api/catalog", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out catalogResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Products, len(catalog.Default().List()))
}

func TestCheckout_BankTransferFlow(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "bank_transfer")
	require.Equal(t, int64(500), placed.PlatformFee)
	require.Equal(t, int64(4500), placed.MerchantAmount)
	require.Empty(t, placed.AuthorizationURL)

	resp, body := api.do(t, http.MethodPost, "/api/paystack/create-virtual-account", map[string]any{
		"orderId":       placed.OrderID,
		"customerEmail": "ada@example.com",
		"amount":        5000,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var intent paymentIntentResponse
	require.NoError(t, json.Unmarshal(body, &intent))
	require.True(t, intent.Success)
	require.NotNil(t, intent.VirtualAccount)
	require.Equal(t, placed.Reference, intent.Reference)

	resp, body = api.do(t, http.MethodPost, "/api/orders/"+placed.OrderID+"/confirm-payment", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var confirmed orderResult
	require.NoError(t, json.Unmarshal(body, &confirmed))
	require.Equal(t, domain.PaymentStatusPaid, confirmed.Order.PaymentStatus)
	require.Equal(t, domain.OrderStatusConfirmed, confirmed.Order.OrderStatus)

	resp, body = api.do(t, http.MethodGet, "/api/orders/"+placed.OrderID+"/transactions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var txs transactionsResponse
	require.NoError(t, json.Unmarshal(body, &txs))
	require.Len(t, txs.Transactions, 1)
	require.Equal(t, int64(5000), txs.Transactions[0].Amount)
	require.Equal(t, domain.PaymentMethodBankTransfer, txs.Transactions[0].PaymentMethod)
}

func TestCheckout_ValidationError(t *testing.T) {
	api := newTestAPI(t)
	body := checkoutBody("bank_transfer")
	body["total"] = 4999

	resp, raw := api.do(t, http.MethodPost, "/api/checkout", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out errorResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "validation_failed", out.Error)
}

func TestCheckout_OnlineGatewayFailure(t *testing.T) {
	api := newTestAPI(t)
	api.gateway.SetError(payment.OpInitializeTransaction, &domain.GatewayError{Op: "initialize transaction", Message: "Invalid key"})

	resp, raw := api.do(t, http.MethodPost, "/api/checkout", checkoutBody("online"), nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var out errorResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotEmpty(t, out.OrderID)
	require.Contains(t, out.Details, "Invalid key")
}

func TestCheckout_IdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{IdempotencyKeyHeader: "checkout-1"}

	first, firstBody := api.do(t, http.MethodPost, "/api/checkout", checkoutBody("terminal"), headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second, secondBody := api.do(t, http.MethodPost, "/api/checkout", checkoutBody("terminal"), headers)
	require.Equal(t, http.StatusCreated, second.StatusCode)
	require.Equal(t, "true", second.Header.Get(ReplayedHeader))
	require.JSONEq(t, string(firstBody), string(secondBody))

	orders, err := api.ledger.List(t.Context(), domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)

	third, _ := api.do(t, http.MethodPost, "/api/checkout", checkoutBody("online"), headers)
	require.Equal(t, http.StatusConflict, third.StatusCode)
}

func TestWebhook_SignatureContract(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "bank_transfer")
	event, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": placed.Reference,
			"status":    "success",
			"amount":    500000,
			"metadata":  map[string]string{"orderId": placed.OrderID},
		},
	})
	require.NoError(t, err)

	resp, _ := api.do(t, http.MethodPost, "/api/paystack/webhook", event, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/api/paystack/webhook", event, map[string]string{paystack.SignatureHeader: "deadbeef"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sig := map[string]string{paystack.SignatureHeader: paystack.Sign(testSecret, event)}
	for i := 0; i < 2; i++ {
		resp, body := api.do(t, http.MethodPost, "/api/paystack/webhook", event, sig)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"status":"success"}`, string(body))
	}

	order, err := api.ledger.Get(t.Context(), placed.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
}

func TestWebhook_UppercasedSignatureIsRejected(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "bank_transfer")
	event := chargeSuccessEvent(t, placed)

	upper := map[string]string{paystack.SignatureHeader: strings.ToUpper(paystack.Sign(testSecret, event))}
	resp, body := api.do(t, http.MethodPost, "/api/paystack/webhook", event, upper)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "invalid signature")

	order, err := api.ledger.Get(t.Context(), placed.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
}

func TestWebhook_JournalFailureAnswers500UntilRecorded(t *testing.T) {
	txs := &failingJournal{TransactionRepository: memory.NewTransactionRepository(), down: true}
	api := newTestAPIWith(t, txs)
	placed := placeOrder(t, api, "bank_transfer")
	event := chargeSuccessEvent(t, placed)
	sig := map[string]string{paystack.SignatureHeader: paystack.Sign(testSecret, event)}

	resp, body := api.do(t, http.MethodPost, "/api/paystack/webhook", event, sig)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"status":"error","message":"processing failed"}`, string(body))

	txs.down = false
	resp, body = api.do(t, http.MethodPost, "/api/paystack/webhook", event, sig)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	recorded, err := txs.ListByOrder(placed.OrderID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	require.Equal(t, domain.PaymentStatusPaid, recorded[0].Status)
}

func chargeSuccessEvent(t *testing.T, placed checkoutResponse) []byte {
	t.Helper()
	event, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": placed.Reference,
			"status":    "success",
			"amount":    500000,
			"metadata":  map[string]string{"orderId": placed.OrderID},
		},
	})
	require.NoError(t, err)
	return event
}

type failingJournal struct {
	domain.TransactionRepository
	down bool
}

func (j *failingJournal) Append(tx domain.Transaction) error {
	if j.down {
		return errors.New("journal unavailable")
	}
	return j.TransactionRepository.Append(tx)
}

func TestOrders_AdvanceStatus(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "terminal")
	path := "/api/orders/" + placed.OrderID + "/status"

	resp, _ := api.do(t, http.MethodPost, path, map[string]any{"orderStatus": "confirmed", "version": placed.Order.Version}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, path, map[string]any{"orderStatus": "preparing", "version": placed.Order.Version}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, path, map[string]any{"orderStatus": "delivered"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := api.do(t, http.MethodGet, "/api/orders/"+placed.OrderID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var details orderDetailsResponse
	require.NoError(t, json.Unmarshal(body, &details))
	require.Equal(t, domain.OrderStatusConfirmed, details.Order.OrderStatus)
	require.NotEmpty(t, details.Timeline)
}

func TestOrders_ListAndStats(t *testing.T) {
	api := newTestAPI(t)
	placeOrder(t, api, "terminal")
	placeOrder(t, api, "bank_transfer")

	resp, body := api.do(t, http.MethodGet, "/api/orders?email=ADA@example.com", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list ordersResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Orders, 2)

	resp, _ = api.do(t, http.MethodGet, "/api/orders?status=lost", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = api.do(t, http.MethodGet, "/api/orders/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.ByStatus["pending"])

	resp, _ = api.do(t, http.MethodGet, "/api/orders/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckout_CancelKeepsOrderPending(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "online")

	resp, body := api.do(t, http.MethodPost, "/api/checkout/"+placed.OrderID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out orderResult
	require.NoError(t, json.Unmarshal(body, &out))
	require.True(t, out.Success)
	require.Equal(t, domain.PaymentStatusPending, out.Order.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, out.Order.OrderStatus)

	resp, _ = api.do(t, http.MethodPost, "/api/checkout/missing/cancel", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPaystack_CreateSplitIsCachedPerMerchant(t *testing.T) {
	api := newTestAPI(t)
	body := map[string]any{"merchantName": "Alaba Grocery", "orderId": "order-1"}

	resp, raw := api.do(t, http.MethodPost, "/api/paystack/create-split", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var first createSplitResponse
	require.NoError(t, json.Unmarshal(raw, &first))
	require.True(t, first.Success)
	require.NotEmpty(t, first.SplitCode)
	require.Equal(t, "ACCT_test_alaba_grocery", first.Subaccount)

	resp, raw = api.do(t, http.MethodPost, "/api/paystack/create-split", body, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second createSplitResponse
	require.NoError(t, json.Unmarshal(raw, &second))
	require.Equal(t, first.SplitCode, second.SplitCode)
	require.Equal(t, 1, api.gateway.CallCount(payment.OpCreateSplit))

	resp, _ = api.do(t, http.MethodPost, "/api/paystack/create-split", map[string]any{"orderId": "order-1"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaystack_VerifyPaymentSettlesOnSuccess(t *testing.T) {
	api := newTestAPI(t)
	placed := placeOrder(t, api, "online")
	path := "/api/paystack/verify-payment?reference=" + placed.Reference

	resp, raw := api.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var pending verifyResponse
	require.NoError(t, json.Unmarshal(raw, &pending))
	require.False(t, pending.Success)
	require.Equal(t, "abandoned", pending.Status)

	api.gateway.SetCharge(domain.ChargeResult{
		Reference:   placed.Reference,
		Status:      "success",
		AmountMinor: 500000,
		OrderID:     placed.OrderID,
		Raw:         json.RawMessage(`{"status":"success"}`),
	})
	resp, raw = api.do(t, http.MethodGet, path, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var settled verifyResponse
	require.NoError(t, json.Unmarshal(raw, &settled))
	require.True(t, settled.Success)
	require.Equal(t, domain.PaymentStatusPaid, settled.Order.PaymentStatus)
	require.Equal(t, domain.OrderStatusConfirmed, settled.Order.OrderStatus)

	resp, _ = api.do(t, http.MethodGet, "/api/paystack/verify-payment", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPaymentIntent_BadInput(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/api/paystack/create-virtual-account", map[string]any{"orderId": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var out paymentIntentResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.False(t, out.Success)
	require.NotEmpty(t, out.Error)
}

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          domain.NewValidationError(domain.ErrItemsRequired),
		http.StatusNotFound:            domain.ErrOrderNotFound,
		http.StatusConflict:            domain.ErrOrderVersionConflict,
		http.StatusUnprocessableEntity: &domain.InvalidTransitionError{From: "preparing", To: "delivered"},
		http.StatusBadGateway:          &domain.GatewayError{Op: "verify"},
		http.StatusInternalServerError: domain.ErrPersistence,
	}
	for want, err := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
}
