package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

// Limits holds the deviation alert thresholds from config, in percent.
// A zero value for any field means that check is disabled.
type Limits struct {
	FiatAlertPercent decimal.Decimal
	USDTAlertPercent decimal.Decimal
}

// Guardian flags reconciliation rows whose deviation is large enough to
// need an operator's attention. It never blocks a write.
type Guardian struct {
	limits Limits
}

func NewGuardian(limits Limits) *Guardian {
	return &Guardian{limits: limits}
}

// CheckFiat returns a descriptive error when the row's absolute deviation
// reaches FiatAlertPercent.
func (g *Guardian) CheckFiat(r models.FiatRow) error {
	return check(g.limits.FiatAlertPercent, r.Brand, r.Asset, r.Currency, r.BOMarketPrice, r.ReferenceRate, r.Deviation)
}

// CheckUSDT is CheckFiat for USDT rows against USDTAlertPercent.
func (g *Guardian) CheckUSDT(r models.USDTRow) error {
	return check(g.limits.USDTAlertPercent, r.Brand, r.Asset, r.Currency, r.BOMarketPrice, r.ReferenceRate, r.Deviation)
}

func check(limit decimal.Decimal, brand, asset, currency string, bo, ref decimal.Decimal, dev models.Deviation) error {
	if !limit.IsPositive() || !dev.Percent.Valid {
		return nil
	}
	if dev.Percent.Decimal.Abs().LessThan(limit) {
		return nil
	}
	return fmt.Errorf("%s %s/%s deviates %s%% (BO %s vs reference %s, threshold: %s%%)",
		brand, asset, currency,
		dev.Percent.Decimal.StringFixed(2), bo.String(), ref.StringFixed(2), limit.String())
}
