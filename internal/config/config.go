// Package config загружает настройки сервиса из окружения и опционального YAML-файла.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	log "github.com/sirupsen/logrus"
)

// PathEnv — переменная с путём к YAML-файлу конфигурации.
const PathEnv = "STOREFRONT_CONFIG_PATH"

// Драйверы хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Окружения Paystack.
const (
	PaystackTest = "test"
	PaystackLive = "live"
)

// ErrInvalidConfig оборачивает все ошибки валидации.
var ErrInvalidConfig = errors.New("invalid config")

// Config — полный набор настроек storefront.
type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Metrics  Metrics  `yaml:"metrics"`
	Log      Log      `yaml:"log"`
	Storage  Storage  `yaml:"storage"`
	Kafka    Kafka    `yaml:"kafka"`
	Paystack Paystack `yaml:"paystack"`
	Checkout Checkout `yaml:"checkout"`
	Workers  Workers  `yaml:"workers"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"STOREFRONT_HTTP_ADDR" env-default:":8080" env-description:"public HTTP API address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"STOREFRONT_HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type GRPC struct {
	Addr string `yaml:"addr" env:"STOREFRONT_GRPC_ADDR" env-default:":50051" env-description:"dashboard gRPC address"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"STOREFRONT_METRICS_ADDR" env-default:":9090" env-description:"prometheus and health endpoints address"`
}

type Log struct {
	Level  string `yaml:"level" env:"STOREFRONT_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"STOREFRONT_LOG_FORMAT" env-default:"text" env-description:"text or json"`
}

type Storage struct {
	Driver          string        `yaml:"driver" env:"STOREFRONT_STORAGE_DRIVER" env-default:"memory" env-description:"memory or postgres"`
	DSN             string        `yaml:"dsn" env:"STOREFRONT_POSTGRES_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"STOREFRONT_POSTGRES_MAX_OPEN_CONNS" env-default:"10"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"STOREFRONT_POSTGRES_CONN_MAX_LIFETIME" env-default:"30m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"STOREFRONT_POSTGRES_CONN_MAX_IDLE_TIME" env-default:"5m"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"STOREFRONT_POSTGRES_AUTO_MIGRATE" env-default:"true"`
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"STOREFRONT_KAFKA_BROKERS" env-separator:"," env-description:"empty disables kafka"`
	Topic         string   `yaml:"topic" env:"STOREFRONT_KAFKA_TOPIC" env-default:"storefront.order.events"`
	DLQTopic      string   `yaml:"dlq_topic" env:"STOREFRONT_KAFKA_DLQ_TOPIC" env-default:"storefront.dlq"`
	ConsumerGroup string   `yaml:"consumer_group" env:"STOREFRONT_KAFKA_CONSUMER_GROUP"`
	ClientID      string   `yaml:"client_id" env:"STOREFRONT_KAFKA_CLIENT_ID" env-default:"storefront"`
}

// Enabled сообщает, настроен ли брокер.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

type Paystack struct {
	SecretKey   string `yaml:"secret_key" env:"STOREFRONT_PAYSTACK_SECRET_KEY" env-description:"empty runs the in-memory gateway"`
	PublicKey   string `yaml:"public_key" env:"STOREFRONT_PAYSTACK_PUBLIC_KEY"`
	BaseURL     string `yaml:"base_url" env:"STOREFRONT_PAYSTACK_BASE_URL" env-default:"https://api.paystack.co"`
	Environment string `yaml:"environment" env:"STOREFRONT_PAYSTACK_ENVIRONMENT" env-default:"test" env-description:"test or live"`
}

type Checkout struct {
	PreferredBanks      []string          `yaml:"preferred_banks" env:"STOREFRONT_PREFERRED_BANKS" env-separator:"," env-default:"wema-bank,titan-paystack"`
	Currency            string            `yaml:"currency" env:"STOREFRONT_CURRENCY" env-default:"NGN"`
	MerchantSubaccounts map[string]string `yaml:"merchant_subaccounts" env:"STOREFRONT_MERCHANT_SUBACCOUNTS" env-separator:"," env-description:"merchant:ACCT_code pairs"`
	DefaultSubaccount   string            `yaml:"default_subaccount" env:"STOREFRONT_DEFAULT_SUBACCOUNT"`
}

type Workers struct {
	OutboxInterval       time.Duration `yaml:"outbox_interval" env:"STOREFRONT_OUTBOX_INTERVAL" env-default:"1s"`
	OutboxBatchSize      int           `yaml:"outbox_batch_size" env:"STOREFRONT_OUTBOX_BATCH_SIZE" env-default:"100"`
	OutboxMaxAttempts    int           `yaml:"outbox_max_attempts" env:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" env-default:"3"`
	IdempotencyInterval  time.Duration `yaml:"idempotency_interval" env:"STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL" env-default:"1m"`
	IdempotencyBatchSize int           `yaml:"idempotency_batch_size" env:"STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE" env-default:"500"`
}

// Load читает конфигурацию: YAML из STOREFRONT_CONFIG_PATH (если задан), затем
// переменные окружения поверх него.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(PathEnv))
}

// LoadFrom читает конфигурацию из файла path; пустой path означает только окружение.
func LoadFrom(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Paystack.Environment = strings.ToLower(strings.TrimSpace(c.Paystack.Environment))
	c.Paystack.SecretKey = strings.TrimSpace(c.Paystack.SecretKey)
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.Checkout.PreferredBanks = compact(c.Checkout.PreferredBanks)
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("postgres storage requires STOREFRONT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Paystack.Environment {
	case PaystackTest, PaystackLive:
	default:
		errs = append(errs, fmt.Errorf("unknown paystack environment %q", c.Paystack.Environment))
	}
	if c.Paystack.Environment == PaystackLive && c.Paystack.SecretKey == "" {
		errs = append(errs, errors.New("live environment requires STOREFRONT_PAYSTACK_SECRET_KEY"))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Workers.OutboxInterval <= 0 || c.Workers.IdempotencyInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Group возвращает группу консьюмера. По умолчанию у каждой реплики своя группа,
// чтобы все реплики получали все события.
func (k Kafka) Group(instance string) string {
	if k.ConsumerGroup != "" {
		return k.ConsumerGroup
	}
	return "storefront-" + instance
}

// Usage печатает список переменных окружения.
func Usage(w io.Writer) {
	var cfg Config
	header := "storefront environment variables:"
	cleanenv.FUsage(w, &cfg, &header)()
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
