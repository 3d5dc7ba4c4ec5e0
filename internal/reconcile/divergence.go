package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

var hundred = decimal.NewFromInt(100)

// FiatPolicy tunes the fiat formula. A zero CapPercent disables the cap;
// otherwise positive deviations above it are clamped. Negative deviations
// are never clamped.
type FiatPolicy struct {
	CapPercent decimal.Decimal
}

// FiatDeviation uses the mean of both prices as denominator:
//
//	(ref - bo) / ((ref + bo) / 2) * 100
//
// A zero mean yields a null value with sign N/A.
func FiatDeviation(ref, bo decimal.Decimal, p FiatPolicy) models.Deviation {
	avg := ref.Add(bo).Div(decimal.NewFromInt(2))
	if avg.IsZero() {
		return models.Deviation{Sign: models.SignNA}
	}
	pct := ref.Sub(bo).Div(avg).Mul(hundred)
	if p.CapPercent.IsPositive() && pct.GreaterThan(p.CapPercent) {
		pct = p.CapPercent
	}
	return deviation(pct)
}

// USDTDeviation uses the back-office price as denominator:
//
//	(ref - bo) / bo * 100
//
// A non-positive reference forces 0 rather than reporting a spurious swing
// from missing P2P data. A zero bo yields a null value with sign N/A.
func USDTDeviation(ref, bo decimal.Decimal) models.Deviation {
	if !ref.IsPositive() {
		return deviation(decimal.Zero)
	}
	if bo.IsZero() {
		return models.Deviation{Sign: models.SignNA}
	}
	return deviation(ref.Sub(bo).Div(bo).Mul(hundred))
}

// ReferenceSource names where a USDT reference rate came from.
type ReferenceSource string

const (
	SourceOverride ReferenceSource = "override"
	SourceP2P      ReferenceSource = "p2p"
	SourceNone     ReferenceSource = "none"
)

// ResolveUSDTReference picks the USDT reference for currency. A positive
// override wins; a present but non-positive override forces zero; otherwise
// the P2P benchmark is used, or zero when there is no snapshot.
func ResolveUSDTReference(currency string, overrides map[string]decimal.Decimal, snap *models.P2PSnapshot) (decimal.Decimal, ReferenceSource) {
	if rate, ok := overrides[currency]; ok {
		if rate.IsPositive() {
			return rate, SourceOverride
		}
		return decimal.Zero, SourceOverride
	}
	if snap == nil {
		return decimal.Zero, SourceNone
	}
	return snap.BenchmarkRate, SourceP2P
}

func deviation(pct decimal.Decimal) models.Deviation {
	sign := models.SignPositive
	if pct.IsNegative() {
		sign = models.SignNegative
	}
	return models.Deviation{Percent: decimal.NewNullDecimal(pct), Sign: sign}
}
