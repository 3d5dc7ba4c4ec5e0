package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

// ConversionTable maps asset -> currency -> local-currency price.
type ConversionTable map[string]map[string]decimal.Decimal

func (t ConversionTable) Lookup(asset, currency string) (decimal.Decimal, bool) {
	byCur, ok := t[asset]
	if !ok {
		return decimal.Decimal{}, false
	}
	v, ok := byCur[currency]
	return v, ok
}

// Convert multiplies each non-USDT spot price by every FX rate, rounded to
// two decimals. USDT is priced from the P2P market instead.
func Convert(usd map[string]decimal.Decimal, fx models.FXTable) (ConversionTable, error) {
	out := ConversionTable{}
	for asset, price := range usd {
		if asset == models.AssetUSDT {
			continue
		}
		if price.IsNegative() {
			return nil, models.NewFailure(models.KindSchema, "negative USD price for %s: %s", asset, price)
		}
		byCur := make(map[string]decimal.Decimal, len(fx))
		for cur, rate := range fx {
			if rate.IsNegative() {
				return nil, models.NewFailure(models.KindSchema, "negative FX rate for %s: %s", cur, rate)
			}
			byCur[cur] = price.Mul(rate).Round(2)
		}
		out[asset] = byCur
	}
	return out, nil
}
