// Package paystack реализует domain.PaymentGateway поверх REST API Paystack.
//
// Ответы шлюза строго нормализуются: если в ответе нет обязательного поля,
// вызов завершается *domain.GatewayError, а не частично заполненной структурой.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultBaseURL — адрес продакшн API.
const DefaultBaseURL = "https://api.paystack.co"

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
)

// ErrSecretKeyRequired возвращается конструктором без секретного ключа.
var ErrSecretKeyRequired = errors.New("paystack secret key is required")

// Option настраивает Client.
type Option func(*Client)

// WithBaseURL переопределяет адрес API (используется в тестах с httptest).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient задаёт http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics задаёт метрики длительности вызовов.
func WithMetrics(m *metrics.StorefrontMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithUserAgent задаёт заголовок User-Agent исходящих запросов.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// Client — HTTP-клиент Paystack.
type Client struct {
	baseURL   string
	secretKey string
	userAgent string
	http      *http.Client
	logger    *log.Entry
	metrics   *metrics.StorefrontMetrics
}

// New создаёт клиент. Секретный ключ передаётся явно и не читается из окружения.
func New(secretKey string, opts ...Option) (*Client, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, ErrSecretKeyRequired
	}
	c := &Client{
		baseURL:   DefaultBaseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: defaultTimeout},
		logger:    log.WithField("component", "paystack"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// envelope — общая обёртка ответов Paystack.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do выполняет запрос и возвращает поле data успешного ответа.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	started := time.Now()
	data, err := c.roundTrip(ctx, op, method, path, body)
	c.metrics.ObserveGatewayCall(op, err, time.Since(started))
	if err != nil {
		c.logger.WithError(err).WithField("operation", op).Warn("paystack call failed")
	}
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, gatewayErr(op, 0, "request failed", nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, gatewayErr(op, resp.StatusCode, "read response", nil, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, gatewayErr(op, resp.StatusCode, "malformed response", raw, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, gatewayErr(op, resp.StatusCode, msg, raw, nil)
	}
	return env.Data, nil
}
