// Команда loadtest нагружает HTTP API витрины сценариями оформления и оплаты заказов.
//
//	loadtest -addr=http://localhost:8080 -total=400 -concurrency=40 -mode=checkout-settle
//
// Если задан -webhook-secret (по умолчанию STOREFRONT_PAYSTACK_SECRET_KEY), оплата
// подтверждается подписанным webhook charge.success, иначе ручным подтверждением
// или синхронным success онлайн-оплаты.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/paystack"
	httpapi "github.com/vladislavdragonenkov/storefront/internal/transport/http"
)

type loadMode string

const (
	modeCheckout        loadMode = "checkout"
	modeCheckoutSettle  loadMode = "checkout-settle"
	modeCheckoutDeliver loadMode = "checkout-deliver"
)

var deliverySteps = []domain.OrderStatus{
	domain.OrderStatusPreparing,
	domain.OrderStatusOutForDelivery,
	domain.OrderStatusDelivered,
}

type loadConfig struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	paymentMethod domain.PaymentMethod
	cancelRate    int
	product       catalog.Product
	quantity      int
	customerTag   string
	webhookSecret string
	outputPath    string
}

func parseConfig(args []string, cat *catalog.Catalog) (loadConfig, error) {
	var (
		cfg       loadConfig
		mode      string
		method    string
		productID string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "storefront HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCheckout), "load mode: checkout | checkout-settle | checkout-deliver")
	fs.StringVar(&method, "payment", string(domain.PaymentMethodBankTransfer), "payment method: bank_transfer | terminal | online")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of orders cancelled right after checkout in checkout mode (0..100)")
	fs.StringVar(&productID, "product", "4", "catalog product id")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer email prefix")
	fs.StringVar(&cfg.webhookSecret, "webhook-secret", os.Getenv("STOREFRONT_PAYSTACK_SECRET_KEY"), "Paystack secret used to sign webhooks")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return cfg, err
	}
	cfg.paymentMethod = domain.PaymentMethod(strings.TrimSpace(method))
	if !cfg.paymentMethod.Valid() {
		return cfg, fmt.Errorf("unsupported payment method: %s", method)
	}
	product, ok := cat.Get(strings.TrimSpace(productID))
	if !ok || !product.Available {
		return cfg, fmt.Errorf("unknown or unavailable product: %s", productID)
	}
	cfg.product = product
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch m := loadMode(strings.TrimSpace(value)); m {
	case modeCheckout, modeCheckoutSettle, modeCheckoutDeliver:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], catalog.Default())
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(context.Background(), cfg, newAPIClient(cfg, &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}))

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg loadConfig, api *apiClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	jobs := make(chan int, cfg.concurrency*2)
	var (
		failures int64
		wg       sync.WaitGroup
	)
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(ctx, api, cfg, id, runID); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}
	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := api.col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg loadConfig) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// placedOrder — часть ответа POST /api/checkout, нужная сценарию.
type placedOrder struct {
	OrderID   string `json:"orderId"`
	Reference string `json:"reference"`
	Total     int64  `json:"total"`
}

func runScenario(ctx context.Context, api *apiClient, cfg loadConfig, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		code := http.StatusOK
		if err != nil {
			code = statusOf(err)
		}
		api.col.record(scenarioMethod, time.Since(start), code)
	}()

	email := fmt.Sprintf("%s+%s-%d@example.com", cfg.customerTag, runID, index)
	price := cfg.product.Price
	var placed placedOrder
	err = api.call(ctx, "Checkout", http.MethodPost, "/api/checkout", map[string]any{
		"paymentMethod": cfg.paymentMethod,
		"customer": domain.Customer{
			Name:    fmt.Sprintf("Load Customer %d", index),
			Email:   email,
			Phone:   "+2348000000000",
			Address: "1 Marina Road, Lagos Island",
		},
		"items": []map[string]any{{
			"productId": cfg.product.ID,
			"quantity":  cfg.quantity,
			"unitPrice": price,
		}},
		"total": price * int64(cfg.quantity),
	}, map[string]string{httpapi.IdempotencyKeyHeader: fmt.Sprintf("lt-checkout-%s-%d", runID, index)}, &placed)
	if err != nil {
		return err
	}
	if placed.OrderID == "" {
		return errors.New("checkout response returned empty order id")
	}

	if cfg.mode == modeCheckout {
		if shouldCancelScenario(index, cfg.cancelRate) {
			return api.advance(ctx, "CancelOrder", placed.OrderID, domain.OrderStatusCancelled)
		}
		return nil
	}

	if err := api.settle(ctx, cfg, placed, email); err != nil {
		return err
	}
	if cfg.mode == modeCheckoutDeliver {
		for _, next := range deliverySteps {
			if err := api.advance(ctx, "AdvanceStatus", placed.OrderID, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

// statusError — ответ API с кодом вне 2xx.
type statusError struct {
	method string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.method, e.code, e.body)
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

type apiClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	secret  string
	col     *collector
}

func newAPIClient(cfg loadConfig, client *http.Client) *apiClient {
	return &apiClient{
		base:    cfg.addr,
		http:    client,
		timeout: cfg.timeout,
		secret:  cfg.webhookSecret,
		col:     newCollector(),
	}
}

// call выполняет запрос и учитывает его в отчёте под именем name.
func (a *apiClient) call(ctx context.Context, name, method, path string, body any, headers map[string]string, out any) error {
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		if raw, err = json.Marshal(b); err != nil {
			return fmt.Errorf("%s: marshal request: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		a.col.record(name, time.Since(start), 0)
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	a.col.record(name, time.Since(start), resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{method: name, code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if readErr != nil {
		return fmt.Errorf("%s: read response: %w", name, readErr)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", name, err)
		}
	}
	return nil
}

func (a *apiClient) advance(ctx context.Context, name, orderID string, next domain.OrderStatus) error {
	return a.call(ctx, name, http.MethodPost, "/api/orders/"+orderID+"/status",
		map[string]any{"orderStatus": next, "reason": "loadtest"}, nil, nil)
}

// settle проводит оплату так, как это сделал бы клиент способа оплаты.
func (a *apiClient) settle(ctx context.Context, cfg loadConfig, placed placedOrder, email string) error {
	if cfg.paymentMethod == domain.PaymentMethodBankTransfer {
		err := a.call(ctx, "CreateVirtualAccount", http.MethodPost, "/api/paystack/create-virtual-account", map[string]any{
			"orderId":       placed.OrderID,
			"customerEmail": email,
			"amount":        placed.Total,
		}, nil, nil)
		if err != nil {
			return err
		}
	}

	if a.secret != "" {
		event, err := chargeSuccessEvent(placed, cfg.paymentMethod)
		if err != nil {
			return err
		}
		return a.call(ctx, "Webhook", http.MethodPost, "/api/paystack/webhook", event,
			map[string]string{paystack.SignatureHeader: paystack.Sign(a.secret, event)}, nil)
	}

	if cfg.paymentMethod == domain.PaymentMethodOnline {
		return a.call(ctx, "CheckoutSuccess", http.MethodPost, "/api/checkout/"+placed.OrderID+"/success",
			map[string]any{"reference": placed.Reference}, nil, nil)
	}
	return a.call(ctx, "ConfirmPayment", http.MethodPost, "/api/orders/"+placed.OrderID+"/confirm-payment", nil, nil, nil)
}

func chargeSuccessEvent(placed placedOrder, method domain.PaymentMethod) ([]byte, error) {
	channel := "card"
	if method == domain.PaymentMethodBankTransfer {
		channel = "dedicated_nuban"
	}
	return json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": placed.Reference,
			"status":    "success",
			"amount":    domain.ToMinorUnits(placed.Total),
			"channel":   channel,
			"metadata":  map[string]string{"orderId": placed.OrderID},
		},
	})
}
