package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/config"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/settlement"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// Dependencies содержит собранные компоненты сервиса.
type Dependencies struct {
	Orders       domain.OrderRepository
	Transactions domain.TransactionRepository
	Receipts     domain.ReceiptRepository
	Outbox       domain.OutboxRepository
	Timeline     domain.TimelineRepository
	Idempotency  domain.IdempotencyRepository

	// Store задан только для драйвера postgres.
	Store *postgres.Store

	Gateway    domain.PaymentGateway
	Catalog    *catalog.Catalog
	Ledger     *ledger.Ledger
	Checkout   *checkout.Service
	Settlement *settlement.Service
	Metrics    *metrics.StorefrontMetrics
	Logger     *log.Entry
}

// NewDependencies создаёт хранилище, шлюз и сервисы по конфигурации.
func NewDependencies(ctx context.Context, cfg config.Config, m *metrics.StorefrontMetrics, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{Metrics: m, Logger: logger, Catalog: catalog.Default()}

	if err := deps.initStorage(ctx, cfg.Storage); err != nil {
		return nil, err
	}

	gateway, err := newGateway(cfg.Paystack, m, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Gateway = gateway

	deps.Ledger = ledger.New(deps.Orders, deps.Outbox, deps.Timeline,
		ledger.WithLogger(logger.WithField("layer", "ledger")),
		ledger.WithMetrics(m),
	)

	deps.Checkout, err = checkout.NewService(deps.Ledger, deps.Transactions, gateway, checkoutConfig(cfg),
		checkout.WithLogger(logger.WithField("layer", "checkout")),
		checkout.WithMetrics(m),
		checkout.WithCatalog(deps.Catalog),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init checkout: %w", err)
	}

	deps.Settlement, err = settlement.NewService(deps.Ledger, deps.Transactions, deps.Receipts, gateway, cfg.Paystack.SecretKey,
		settlement.WithLogger(logger.WithField("layer", "settlement")),
		settlement.WithMetrics(m),
	)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("init settlement: %w", err)
	}
	return deps, nil
}

func (d *Dependencies) initStorage(ctx context.Context, cfg config.Storage) error {
	switch cfg.Driver {
	case config.StorageMemory, "":
		d.Orders = memory.NewOrderRepository()
		d.Transactions = memory.NewTransactionRepository()
		d.Receipts = memory.NewReceiptRepository()
		d.Outbox = memory.NewOutboxRepository()
		d.Timeline = memory.NewTimelineRepository()
		d.Idempotency = memory.NewIdempotencyRepository()
		d.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	case config.StoragePostgres:
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	store, err := postgres.Open(ctx, cfg.DSN, postgres.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("init postgres storage: %w", err)
	}
	if cfg.AutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
	}

	d.Store = store
	d.Orders = postgres.NewOrderRepository(store)
	d.Transactions = postgres.NewTransactionRepository(store)
	d.Receipts = postgres.NewReceiptRepository(store)
	d.Outbox = postgres.NewOutboxRepository(store)
	d.Timeline = postgres.NewTimelineRepository(store)
	d.Idempotency = postgres.NewIdempotencyRepository(store)
	d.Logger.WithField("auto_migrate", cfg.AutoMigrate).Info("postgres storage initialized")
	return nil
}

// Close освобождает ресурсы; безопасен для частично собранных зависимостей.
func (d *Dependencies) Close() {
	if d == nil {
		return
	}
	if d.Ledger != nil {
		d.Ledger.Close()
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil && !errors.Is(err, context.Canceled) {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
		d.Store = nil
	}
}

func checkoutConfig(cfg config.Config) checkout.Config {
	return checkout.Config{
		Environment:         cfg.Paystack.Environment,
		PreferredBanks:      cfg.Checkout.PreferredBanks,
		Currency:            cfg.Checkout.Currency,
		MerchantSubaccounts: cfg.Checkout.MerchantSubaccounts,
		DefaultSubaccount:   cfg.Checkout.DefaultSubaccount,
	}
}
