package grpcsvc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestLedgerFileDescriptor(t *testing.T) {
	require.Equal(t, ledgerProtoPath, ledgerFile.Path())
	require.Equal(t, protoreflect.FullName(ledgerPackage), ledgerFile.Package())

	svc := ledgerFile.Services().ByName("LedgerService")
	require.NotNil(t, svc)
	require.Equal(t, protoreflect.FullName(ServiceName), svc.FullName())
	require.Equal(t, 3, svc.Methods().Len())

	watch := svc.Methods().ByName("WatchOrders")
	require.True(t, watch.IsStreamingServer())
	require.False(t, watch.IsStreamingClient())
	require.Equal(t, orderSnapshotDesc.FullName(), watch.Output().FullName())

	for _, name := range []protoreflect.Name{"total", "version", "platform_fee", "merchant_amount"} {
		require.Equal(t, protoreflect.Int64Kind, orderDesc.Fields().ByName(name).Kind(), name)
	}
	require.EqualValues(t, 19, orderDesc.Fields().ByName("updated_unix_nano").Number())
	require.True(t, orderDesc.Fields().ByName("items").IsList())
}

func TestOrderWireKeepsInt64Precision(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 123456789, time.UTC)
	order := domain.Order{
		ID:       "order-1",
		Customer: domain.Customer{Name: "Ada Obi", Email: "ada@example.com", Phone: "+2348000000000", Address: "Lagos"},
		Items: []domain.OrderItem{
			{ProductID: "4", Name: "Rice (Local)", Merchant: "Alaba Grocery", Quantity: 3, UnitPrice: 1<<53 + 1},
		},
		Total:            math.MaxInt64,
		Currency:         "NGN",
		PaymentMethod:    domain.PaymentMethodBankTransfer,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		PaymentReference: "grundy_1_wire",
		VirtualAccount: &domain.VirtualAccount{
			AccountNumber: "9930000001", BankName: "Wema Bank", AccountName: "STOREFRONT/ADA OBI",
			Currency: "NGN", Active: true, CreatedAt: created,
		},
		PlatformFee:    1<<53 + 3,
		MerchantAmount: 1<<53 + 5,
		Merchants:      []string{"Alaba Grocery"},
		Version:        1<<62 + 1,
		CreatedAt:      created,
		UpdatedAt:      created.Add(time.Nanosecond),
	}

	raw, err := proto.Marshal(encodeOrder(order))
	require.NoError(t, err)
	received := dynamicpb.NewMessage(orderDesc)
	require.NoError(t, proto.Unmarshal(raw, received))
	got := decodeOrder(received)

	require.Equal(t, order.Total, got.Total)
	require.Equal(t, order.Version, got.Version)
	require.Equal(t, order.PlatformFee, got.PlatformFee)
	require.Equal(t, order.MerchantAmount, got.MerchantAmount)
	require.Equal(t, order.Items, got.Items)
	require.Equal(t, order.Merchants, got.Merchants)
	require.Equal(t, order.Customer, got.Customer)
	require.True(t, got.CreatedAt.Equal(order.CreatedAt))
	require.True(t, got.UpdatedAt.Equal(order.UpdatedAt))
	require.NotNil(t, got.VirtualAccount)
	require.Equal(t, "9930000001", got.VirtualAccount.AccountNumber)
	require.True(t, got.VirtualAccount.CreatedAt.Equal(created))
}

func TestOrderWireZeroValues(t *testing.T) {
	got := decodeOrder(encodeOrder(domain.Order{ID: "order-2"}))

	require.Equal(t, "order-2", got.ID)
	require.Nil(t, got.VirtualAccount)
	require.True(t, got.CreatedAt.IsZero())
	require.Empty(t, got.Items)
}

func TestDecodeFilter(t *testing.T) {
	filter, err := decodeFilter(encodeFilter(domain.OrderFilter{
		Email: " ada@example.com ", Status: domain.OrderStatusConfirmed, Limit: 5,
	}))
	require.NoError(t, err)
	require.Equal(t, domain.OrderFilter{Email: "ada@example.com", Status: domain.OrderStatusConfirmed, Limit: 5}, filter)

	_, err = decodeFilter(encodeFilter(domain.OrderFilter{Status: "lost"}))
	require.ErrorContains(t, err, "unknown status")

	_, err = decodeFilter(encodeFilter(domain.OrderFilter{Limit: -1}))
	require.ErrorContains(t, err, "limit must be >= 0")

	filter, err = decodeFilter(encodeFilter(domain.OrderFilter{Limit: math.MaxInt}))
	require.NoError(t, err)
	require.Equal(t, math.MaxInt32, filter.Limit)
}
