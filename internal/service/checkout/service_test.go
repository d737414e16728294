package checkout

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	svc     *Service
	ledger  *ledger.Ledger
	txs     domain.TransactionRepository
	gateway *payment.MockGateway
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	l := ledger.New(memory.NewOrderRepository(), memory.NewOutboxRepository(), memory.NewTimelineRepository())
	t.Cleanup(l.Close)
	txs := memory.NewTransactionRepository()
	gw := payment.NewMockGateway()
	svc, err := NewService(l, txs, gw, cfg, WithCatalog(catalog.Default()))
	require.NoError(t, err)
	return fixture{svc: svc, ledger: l, txs: txs, gateway: gw}
}

func customer(email string) domain.Customer {
	return domain.Customer{Name: "Ada Obi", Email: email, Phone: "+2348000000000", Address: "12 Marina, Lagos"}
}

// 4500 (Alaba Grocery) + 500 (Balogun Market) = 5000.
func mixedBasket() []domain.OrderItem {
	return []domain.OrderItem{
		{ProductID: "4", Quantity: 1, UnitPrice: 4500},
		{ProductID: "11", Quantity: 1, UnitPrice: 500},
	}
}

// 2 x 2800 (Makoko Fish Market) = 5600.
func fishBasket() []domain.OrderItem {
	return []domain.OrderItem{{ProductID: "6", Quantity: 2, UnitPrice: 2800}}
}

func TestPlaceOrder_BankTransferCreatesPendingOrder(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Customer:      customer("ada@example.com"),
		Items:         mixedBasket(),
		Total:         5000,
	})
	require.NoError(t, err)

	order := res.Order
	require.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, order.OrderStatus)
	require.Equal(t, int64(500), order.PlatformFee)
	require.Equal(t, int64(4500), order.MerchantAmount)
	require.Equal(t, []string{"Alaba Grocery", "Balogun Market"}, order.Merchants)
	require.Equal(t, "Rice (Local)", order.Items[0].Name)
	require.Regexp(t, regexp.MustCompile(`^grundy_\d+_[0-9a-z]{9}$`), order.PaymentReference)
	require.Nil(t, order.VirtualAccount)
	require.Zero(t, f.gateway.CallCount(payment.OpCreateDedicatedAccount))

	// Расчёта ещё не было, журнал пуст.
	txs, err := f.txs.ListByOrder(order.ID)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestPlaceOrder_RejectsUnknownProduct(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodTerminal,
		Customer:      customer("ada@example.com"),
		Items:         []domain.OrderItem{{ProductID: "999", Quantity: 1, UnitPrice: 100}},
		Total:         100,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	orders, err := f.ledger.List(context.Background(), domain.OrderFilter{})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestPlaceOrder_OnlineInitializesCheckoutWithSplit(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodOnline,
		Customer:      customer("ada@example.com"),
		Items:         fishBasket(),
		Total:         5600,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.AuthorizationURL)
	require.NotEmpty(t, res.AccessCode)
	require.NotEmpty(t, res.SplitCode)
	require.Equal(t, res.AuthorizationURL, res.Order.AuthorizationURL)
	require.Equal(t, domain.PaymentStatusPending, res.Order.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, res.Order.OrderStatus)

	// Сплит одного мерчанта кэшируется.
	_, err = f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodOnline,
		Customer:      customer("bola@example.com"),
		Items:         fishBasket(),
		Total:         5600,
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.gateway.CallCount(payment.OpCreateSplit))
	require.Equal(t, 2, f.gateway.CallCount(payment.OpInitializeTransaction))
}

func TestPlaceOrder_OnlineMultiMerchantSkipsSplit(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodOnline,
		Customer:      customer("ada@example.com"),
		Items:         mixedBasket(),
		Total:         5000,
	})
	require.NoError(t, err)
	require.Empty(t, res.SplitCode)
	require.Zero(t, f.gateway.CallCount(payment.OpCreateSplit))
}

func TestPlaceOrder_OnlineSplitFailureStillCharges(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.SetError(payment.OpCreateSplit, errors.New("split unavailable"))

	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodOnline,
		Customer:      customer("ada@example.com"),
		Items:         fishBasket(),
		Total:         5600,
	})
	require.NoError(t, err)
	require.Empty(t, res.SplitCode)
	require.NotEmpty(t, res.AuthorizationURL)
}

func TestPlaceOrder_OnlineGatewayFailureLeavesOrderPending(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.gateway.SetError(payment.OpInitializeTransaction, &domain.GatewayError{
		Op:         "initialize transaction",
		StatusCode: 400,
		Message:    "Invalid key",
		Raw:        []byte(`{"status":false,"message":"Invalid key"}`),
	})

	res, err := f.svc.PlaceOrder(ctx, PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodOnline,
		Customer:      customer("ada@example.com"),
		Items:         fishBasket(),
		Total:         5600,
	})
	require.ErrorIs(t, err, domain.ErrGateway)
	require.NotEmpty(t, res.Order.ID)

	stored, err := f.ledger.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)
	require.Equal(t, domain.OrderStatusPending, stored.OrderStatus)
	require.Empty(t, stored.AuthorizationURL)

	txs, err := f.txs.ListByOrder(stored.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, domain.PaymentStatusFailed, txs[0].Status)
	require.JSONEq(t, `{"status":false,"message":"Invalid key"}`, string(txs[0].GatewayPayload))

	// Повторный запрос оплаты заново открывает checkout.
	f.gateway.SetError(payment.OpInitializeTransaction, nil)
	intent, err := f.svc.RequestPayment(ctx, PaymentIntentRequest{OrderID: stored.ID, CustomerEmail: "ada@example.com", Amount: 5600})
	require.NoError(t, err)
	require.NotEmpty(t, intent.AuthorizationURL)
}

func placeBankTransfer(t *testing.T, f fixture, email string) domain.Order {
	t.Helper()
	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Customer:      customer(email),
		Items:         mixedBasket(),
		Total:         5000,
	})
	require.NoError(t, err)
	return res.Order
}

func TestRequestPayment_IssuesAccountLazily(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order := placeBankTransfer(t, f, "ada@example.com")

	intent, err := f.svc.RequestPayment(ctx, PaymentIntentRequest{OrderID: order.ID, CustomerEmail: "ADA@example.com", Amount: 5000})
	require.NoError(t, err)
	require.NotNil(t, intent.VirtualAccount)
	require.Equal(t, "Test Bank", intent.VirtualAccount.BankName)
	require.Equal(t, order.PaymentReference, intent.Reference)

	stored, err := f.ledger.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, intent.VirtualAccount.AccountNumber, stored.VirtualAccount.AccountNumber)
	require.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)

	// Повторный запрос не обращается к шлюзу.
	again, err := f.svc.RequestPayment(ctx, PaymentIntentRequest{OrderID: order.ID, CustomerEmail: "ada@example.com", Amount: 5000})
	require.NoError(t, err)
	require.Equal(t, intent.VirtualAccount.AccountNumber, again.VirtualAccount.AccountNumber)
	require.Equal(t, 1, f.gateway.CallCount(payment.OpEnsureCustomer))
}

func TestRequestPayment_SameEmailIssuesAtMostOneAccount(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first := placeBankTransfer(t, f, "ada@example.com")
	second := placeBankTransfer(t, f, "ada@example.com")

	var wg sync.WaitGroup
	intents := make([]PaymentIntent, 2)
	errs := make([]error, 2)
	for i, order := range []domain.Order{first, second} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			intents[i], errs[i] = f.svc.RequestPayment(ctx, PaymentIntentRequest{OrderID: id, CustomerEmail: "ada@example.com", Amount: 5000})
		}(i, order.ID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, f.gateway.CallCount(payment.OpCreateDedicatedAccount))
	require.Equal(t, intents[0].VirtualAccount.AccountNumber, intents[1].VirtualAccount.AccountNumber)
}

func TestRequestPayment_FallsBackToAlternateProvider(t *testing.T) {
	f := newFixture(t, Config{Environment: EnvironmentLive, PreferredBanks: []string{"wema-bank", "titan-paystack"}})
	f.gateway.Providers = []string{"titan-paystack", "wema-bank"}
	f.gateway.ProviderErrors["wema-bank"] = errors.New("provider down")
	order := placeBankTransfer(t, f, "ada@example.com")

	intent, err := f.svc.RequestPayment(context.Background(), PaymentIntentRequest{OrderID: order.ID, CustomerEmail: "ada@example.com", Amount: 5000})
	require.NoError(t, err)
	require.Equal(t, "Titan Paystack", intent.VirtualAccount.BankName)
	require.Equal(t, 2, f.gateway.CallCount(payment.OpCreateDedicatedAccount))
}

func TestRequestPayment_TriesOnlyOneAlternate(t *testing.T) {
	f := newFixture(t, Config{Environment: EnvironmentLive})
	f.gateway.Providers = []string{"wema-bank", "titan-paystack", "access-bank"}
	f.gateway.ProviderErrors["wema-bank"] = errors.New("provider down")
	f.gateway.ProviderErrors["titan-paystack"] = errors.New("provider down")
	order := placeBankTransfer(t, f, "ada@example.com")

	_, err := f.svc.RequestPayment(context.Background(), PaymentIntentRequest{OrderID: order.ID, CustomerEmail: "ada@example.com", Amount: 5000})
	require.Error(t, err)
	require.Equal(t, 2, f.gateway.CallCount(payment.OpCreateDedicatedAccount))

	stored, err := f.ledger.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Nil(t, stored.VirtualAccount)
}

func TestRequestPayment_NoProviderIsDiagnosed(t *testing.T) {
	f := newFixture(t, Config{Environment: EnvironmentLive, PreferredBanks: []string{"wema-bank"}})
	f.gateway.Providers = []string{"titan-paystack"}
	order := placeBankTransfer(t, f, "ada@example.com")

	_, err := f.svc.RequestPayment(context.Background(), PaymentIntentRequest{OrderID: order.ID, CustomerEmail: "ada@example.com", Amount: 5000})
	require.ErrorIs(t, err, domain.ErrNoDedicatedAccountProvider)
	require.ErrorIs(t, err, domain.ErrGateway)
	require.Contains(t, err.Error(), "wema-bank")
	require.Contains(t, err.Error(), "titan-paystack")
	require.Zero(t, f.gateway.CallCount(payment.OpCreateDedicatedAccount))
}

func TestRequestPayment_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	order := placeBankTransfer(t, f, "ada@example.com")

	cases := map[string]PaymentIntentRequest{
		"missing fields": {},
		"wrong email":    {OrderID: order.ID, CustomerEmail: "eve@example.com", Amount: 5000},
		"wrong amount":   {OrderID: order.ID, CustomerEmail: "ada@example.com", Amount: 4999},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RequestPayment(ctx, req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := f.svc.RequestPayment(ctx, PaymentIntentRequest{OrderID: "missing", CustomerEmail: "ada@example.com", Amount: 5000})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRequestPayment_TerminalReturnsReference(t *testing.T) {
	f := newFixture(t, Config{})
	res, err := f.svc.PlaceOrder(context.Background(), PlaceOrderRequest{
		PaymentMethod: domain.PaymentMethodTerminal,
		Customer:      customer("ada@example.com"),
		Items:         mixedBasket(),
		Total:         5000,
	})
	require.NoError(t, err)

	intent, err := f.svc.RequestPayment(context.Background(), PaymentIntentRequest{OrderID: res.Order.ID, CustomerEmail: "ada@example.com", Amount: 5000})
	require.NoError(t, err)
	require.Equal(t, res.Order.PaymentReference, intent.Reference)
	require.Nil(t, intent.VirtualAccount)
	require.Zero(t, f.gateway.CallCount(payment.OpEnsureCustomer))
}

func TestSplitCodeFor_UsesMerchantSubaccount(t *testing.T) {
	f := newFixture(t, Config{})

	require.Equal(t, "ACCT_test_makoko_fish", f.svc.SubaccountFor("Makoko Fish Market"))
	require.Equal(t, DefaultSubaccount, f.svc.SubaccountFor("Unknown Stall"))

	_, err := f.svc.SplitCodeFor(context.Background(), " ", "order-1")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestReferenceGenerator_Format(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	gen, err := NewReferenceGenerator(func() time.Time { return fixed })
	require.NoError(t, err)

	a, b := gen(), gen()
	require.Regexp(t, regexp.MustCompile(`^grundy_1700000000000_[0-9a-z]{9}$`), a)
	require.NotEqual(t, a, b)
}
