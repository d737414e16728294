package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestMockGateway_CustomersAndAccounts(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway()

	first, err := gw.EnsureCustomer(ctx, domain.Customer{Email: "Ada@Example.com"})
	require.NoError(t, err)
	again, err := gw.EnsureCustomer(ctx, domain.Customer{Email: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, first.Code, again.Code)

	accounts, err := gw.ListDedicatedAccounts(ctx, first.Code)
	require.NoError(t, err)
	require.Empty(t, accounts)

	va, err := gw.CreateDedicatedAccount(ctx, first.Code, "test-bank")
	require.NoError(t, err)
	require.Equal(t, "Test Bank", va.BankName)
	require.Len(t, va.AccountNumber, 10)

	accounts, err = gw.ListDedicatedAccounts(ctx, first.Code)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, 1, gw.CallCount(OpCreateDedicatedAccount))
}

func TestMockGateway_ConfiguredErrors(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway()
	boom := errors.New("boom")

	gw.SetError(OpInitializeTransaction, boom)
	_, err := gw.InitializeTransaction(ctx, domain.CheckoutRequest{Reference: "r"})
	require.ErrorIs(t, err, boom)

	gw.SetError(OpInitializeTransaction, nil)
	session, err := gw.InitializeTransaction(ctx, domain.CheckoutRequest{Reference: "grundy_1_x"})
	require.NoError(t, err)
	require.Contains(t, session.AuthorizationURL, "grundy1x")

	gw.ProviderErrors["wema-bank"] = boom
	_, err = gw.CreateDedicatedAccount(ctx, "CUS_1", "wema-bank")
	require.ErrorIs(t, err, boom)
	va, err := gw.CreateDedicatedAccount(ctx, "CUS_1", "titan-paystack")
	require.NoError(t, err)
	require.Equal(t, "Titan Paystack", va.BankName)
}

func TestMockGateway_Verify(t *testing.T) {
	ctx := context.Background()
	gw := NewMockGateway()

	charge, err := gw.VerifyTransaction(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, charge.Succeeded())

	gw.SetCharge(domain.ChargeResult{Reference: "r1", Status: "success", AmountMinor: 100000})
	charge, err = gw.VerifyTransaction(ctx, "r1")
	require.NoError(t, err)
	require.True(t, charge.Succeeded())
}
