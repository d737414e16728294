package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// openTestStore подключается к STOREFRONT_POSTGRES_TEST_DSN; без неё тест пропускается.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, PoolOptions{MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openMigratedTestStore(t *testing.T) *Store {
	t.Helper()

	store := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			receipts,
			payment_transactions,
			orders
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return store
}

func sampleOrder(id, email string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID: id,
		Customer: domain.Customer{
			Name:    "Ada Obi",
			Email:   email,
			Phone:   "+2348012345678",
			Address: "12 Marina Rd, Lagos",
		},
		Items: []domain.OrderItem{
			{ProductID: "tomatoes-1kg", Name: "Tomatoes", Merchant: "Balogun Market", Quantity: 2, UnitPrice: 2500},
		},
		Total:            5000,
		Currency:         "NGN",
		PaymentMethod:    domain.PaymentMethodBankTransfer,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		PaymentReference: "grundy_" + id,
		PlatformFee:      500,
		MerchantAmount:   4500,
		Merchants:        []string{"Balogun Market"},
		Version:          1,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}
