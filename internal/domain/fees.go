// internal/domain/fees.go
package domain

import "github.com/shopspring/decimal"

// FeeSchedule prices payments and payouts.
type FeeSchedule struct {
	PlatformRate    decimal.Decimal
	ProcessingRates map[Provider]decimal.Decimal
	PayoutFees      map[MethodKind]decimal.Decimal
}

// PaymentFees returns the processing and platform fee for an amount,
// each rounded to cents.
func (f FeeSchedule) PaymentFees(provider Provider, amount decimal.Decimal) (processing, platform decimal.Decimal) {
	rate, ok := f.ProcessingRates[provider]
	if !ok {
		rate = decimal.Zero
	}
	processing = amount.Mul(rate).Round(2)
	platform = amount.Mul(f.PlatformRate).Round(2)
	return processing, platform
}

// PayoutFee is the flat fee charged for a payout to the given method kind.
func (f FeeSchedule) PayoutFee(kind MethodKind) decimal.Decimal {
	if fee, ok := f.PayoutFees[kind]; ok {
		return fee
	}
	return decimal.Zero
}
