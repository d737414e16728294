package domain

import "testing"

func TestCalculateSplit(t *testing.T) {
	tests := []struct {
		total    int64
		fee      int64
		merchant int64
	}{
		{total: 1000, fee: 100, merchant: 900},
		{total: 3, fee: 0, merchant: 3},
		{total: 5, fee: 1, merchant: 4},
		{total: 15, fee: 2, merchant: 13},
		{total: 14, fee: 1, merchant: 13},
		{total: 24, fee: 2, merchant: 22},
		{total: 25, fee: 3, merchant: 22},
		{total: 35, fee: 4, merchant: 31},
		{total: 5000, fee: 500, merchant: 4500},
		{total: 0, fee: 0, merchant: 0},
		{total: 6100, fee: 610, merchant: 5490},
	}

	for _, tc := range tests {
		got := CalculateSplit(tc.total)
		if got.PlatformFee != tc.fee || got.MerchantAmount != tc.merchant {
			t.Fatalf("split(%d) = %d/%d, want %d/%d", tc.total, got.PlatformFee, got.MerchantAmount, tc.fee, tc.merchant)
		}
		if got.PlatformFee+got.MerchantAmount != tc.total {
			t.Fatalf("split(%d) parts do not add up", tc.total)
		}
	}
}

func TestCalculateSplitPartsAlwaysAddUp(t *testing.T) {
	for total := int64(0); total <= 100000; total++ {
		got := CalculateSplit(total)
		if got.PlatformFee+got.MerchantAmount != total {
			t.Fatalf("split(%d) = %d+%d, parts do not add up", total, got.PlatformFee, got.MerchantAmount)
		}
		// 10% с округлением половины вверх в целых числах.
		if want := (total*PlatformFeePercent + 50) / 100; got.PlatformFee != want {
			t.Fatalf("split(%d) fee = %d, want %d", total, got.PlatformFee, want)
		}
		if got.MerchantAmount < 0 {
			t.Fatalf("split(%d) merchant amount is negative", total)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	if got := ToMinorUnits(5000); got != 500000 {
		t.Fatalf("ToMinorUnits(5000) = %d", got)
	}
	if got := FromMinorUnits(500000); got != 5000 {
		t.Fatalf("FromMinorUnits(500000) = %d", got)
	}
	if got := FromMinorUnits(150); got != 2 {
		t.Fatalf("FromMinorUnits(150) = %d, want 2", got)
	}
}
