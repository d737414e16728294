package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, ":50051", cfg.GRPC.Addr)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
	require.Equal(t, StorageMemory, cfg.Storage.Driver)
	require.Equal(t, PaystackTest, cfg.Paystack.Environment)
	require.Equal(t, "https://api.paystack.co", cfg.Paystack.BaseURL)
	require.Equal(t, []string{"wema-bank", "titan-paystack"}, cfg.Checkout.PreferredBanks)
	require.Equal(t, "NGN", cfg.Checkout.Currency)
	require.Equal(t, time.Second, cfg.Workers.OutboxInterval)
	require.Equal(t, time.Minute, cfg.Workers.IdempotencyInterval)
	require.False(t, cfg.Kafka.Enabled())
	require.Equal(t, "storefront.order.events", cfg.Kafka.Topic)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("STOREFRONT_HTTP_ADDR", ":18080")
	t.Setenv("STOREFRONT_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("STOREFRONT_MERCHANT_SUBACCOUNTS", "Balogun Market:ACCT_b,Alaba Grocery:ACCT_a")
	t.Setenv("STOREFRONT_LOG_FORMAT", "JSON")
	t.Setenv("STOREFRONT_OUTBOX_INTERVAL", "250ms")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	require.Equal(t, ":18080", cfg.HTTP.Addr)
	require.True(t, cfg.Kafka.Enabled())
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, map[string]string{
		"Balogun Market": "ACCT_b",
		"Alaba Grocery":  "ACCT_a",
	}, cfg.Checkout.MerchantSubaccounts)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 250*time.Millisecond, cfg.Workers.OutboxInterval)
}

func TestLoadFrom_YAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":7000"
storage:
  driver: postgres
  dsn: postgres://localhost/storefront
paystack:
  environment: live
  secret_key: sk_live_file
checkout:
  preferred_banks: [wema-bank]
`), 0o600))
	t.Setenv("STOREFRONT_PAYSTACK_SECRET_KEY", "sk_live_env")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	require.Equal(t, ":7000", cfg.HTTP.Addr)
	require.Equal(t, StoragePostgres, cfg.Storage.Driver)
	require.Equal(t, "postgres://localhost/storefront", cfg.Storage.DSN)
	require.Equal(t, PaystackLive, cfg.Paystack.Environment)
	require.Equal(t, "sk_live_env", cfg.Paystack.SecretKey)
	require.Equal(t, []string{"wema-bank"}, cfg.Checkout.PreferredBanks)
	// Незаданные в файле ключи получают значения по умолчанию.
	require.Equal(t, ":50051", cfg.GRPC.Addr)
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storefront.yml")
	require.NoError(t, os.WriteFile(path, []byte("grpc:\n  addr: \":6000\"\n"), 0o600))
	t.Setenv(PathEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":6000", cfg.GRPC.Addr)
}

func TestLoadFrom_MissingFile(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := LoadFrom("")
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = StoragePostgres }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"unknown environment", func(c *Config) { c.Paystack.Environment = "staging" }},
		{"live without secret", func(c *Config) { c.Paystack.Environment = PaystackLive }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero interval", func(c *Config) { c.Workers.OutboxInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestKafkaGroup(t *testing.T) {
	require.Equal(t, "storefront-pod-1", Kafka{}.Group("pod-1"))
	require.Equal(t, "shared", Kafka{ConsumerGroup: "shared"}.Group("pod-1"))
}

func TestUsage(t *testing.T) {
	var buf bytes.Buffer
	Usage(&buf)
	require.Contains(t, buf.String(), "STOREFRONT_HTTP_ADDR")
	require.Contains(t, buf.String(), "STOREFRONT_PAYSTACK_SECRET_KEY")
}
