package domain

import "github.com/shopspring/decimal"

// PlatformFeePercent — доля площадки с каждого заказа.
const PlatformFeePercent = 10

var hundred = decimal.NewFromInt(100)

// Split — распределение суммы заказа между площадкой и мерчантами.
type Split struct {
	PlatformFee    int64
	MerchantAmount int64
}

// CalculateSplit делит total: комиссия округляется half-up, мерчанту остаётся разница.
// Сумма частей всегда равна total.
func CalculateSplit(total int64) Split {
	fee := decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(PlatformFeePercent)).
		Div(hundred).
		Round(0).
		IntPart()
	return Split{PlatformFee: fee, MerchantAmount: total - fee}
}

// ToMinorUnits переводит naira в kobo.
func ToMinorUnits(major int64) int64 {
	return decimal.NewFromInt(major).Mul(hundred).IntPart()
}

// FromMinorUnits переводит kobo в naira с округлением до целого.
func FromMinorUnits(minor int64) int64 {
	return decimal.NewFromInt(minor).Div(hundred).Round(0).IntPart()
}
