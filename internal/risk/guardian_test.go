package risk

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

func pct(s string) models.Deviation {
	d := decimal.RequireFromString(s)
	sign := models.SignPositive
	if d.IsNegative() {
		sign = models.SignNegative
	}
	return models.Deviation{Percent: decimal.NewNullDecimal(d), Sign: sign}
}

func fiatRow(dev models.Deviation) models.FiatRow {
	return models.FiatRow{
		Brand: "ALPHA", Asset: "BTC", Currency: "BDT",
		BOMarketPrice: decimal.NewFromInt(100),
		ReferenceRate: decimal.NewFromInt(105),
		Deviation:     dev,
	}
}

// --- CheckFiat ---

func TestCheckFiat_BelowThreshold(t *testing.T) {
	g := NewGuardian(Limits{FiatAlertPercent: decimal.NewFromInt(5)})
	if err := g.CheckFiat(fiatRow(pct("4.88"))); err != nil {
		t.Fatalf("expected no alert, got: %v", err)
	}
}

func TestCheckFiat_AtThreshold(t *testing.T) {
	g := NewGuardian(Limits{FiatAlertPercent: decimal.NewFromInt(5)})
	err := g.CheckFiat(fiatRow(pct("5")))
	if err == nil {
		t.Fatal("expected alert at threshold")
	}
	t.Logf("Correctly flagged: %v", err)
}

func TestCheckFiat_NegativeDeviation(t *testing.T) {
	g := NewGuardian(Limits{FiatAlertPercent: decimal.NewFromInt(3)})
	err := g.CheckFiat(fiatRow(pct("-4.2")))
	if err == nil {
		t.Fatal("expected alert for large negative deviation")
	}
	if !strings.Contains(err.Error(), "ALPHA BTC/BDT deviates -4.20%") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestCheckFiat_DisabledWhenZero(t *testing.T) {
	g := NewGuardian(Limits{})
	if err := g.CheckFiat(fiatRow(pct("99"))); err != nil {
		t.Fatalf("zero limit should disable check, got: %v", err)
	}
}

func TestCheckFiat_NullDeviation(t *testing.T) {
	g := NewGuardian(Limits{FiatAlertPercent: decimal.NewFromInt(1)})
	if err := g.CheckFiat(fiatRow(models.Deviation{Sign: models.SignNA})); err != nil {
		t.Fatalf("null deviation should not alert, got: %v", err)
	}
}

// --- CheckUSDT ---

func TestCheckUSDT_UsesOwnLimit(t *testing.T) {
	g := NewGuardian(Limits{
		FiatAlertPercent: decimal.NewFromInt(1),
		USDTAlertPercent: decimal.NewFromInt(10),
	})
	row := models.USDTRow{Brand: "BETA", Asset: "USDT", Currency: "INR", Deviation: pct("-3")}
	if err := g.CheckUSDT(row); err != nil {
		t.Fatalf("expected no alert under USDT limit, got: %v", err)
	}

	row.Deviation = pct("12.5")
	if err := g.CheckUSDT(row); err == nil {
		t.Fatal("expected alert over USDT limit")
	}
}
