package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/bo-pricewatch/internal/models"
)

func TestFiatEvent_EncodesRow(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := models.FiatRow{
		Date: "2026-03-01", Brand: "ALPHA", Asset: "BTC", Currency: "BDT",
		BOMarketPrice: decimal.NewFromInt(100),
		ReferenceRate: decimal.NewFromInt(105),
		Deviation: models.Deviation{
			Percent: decimal.NewNullDecimal(decimal.RequireFromString("4.88")),
			Sign:    models.SignPositive,
		},
	}

	e := FiatEvent("run-1", "CRYPTO", row, at)
	raw, err := e.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "run-1", decoded["runId"])
	require.Equal(t, "CRYPTO", decoded["table"])
	require.Equal(t, "BTC", decoded["asset"])
	require.Equal(t, "Positive", decoded["sign"])
	require.Equal(t, "CRYPTO|2026-03-01|ALPHA|BTC|BDT", e.Key())
}

func TestUSDTEvent_NullDeviation(t *testing.T) {
	row := models.USDTRow{
		Date: "2026-03-01", Brand: "ALPHA", Asset: "USDT", Currency: "INR",
		Deviation: models.Deviation{Sign: models.SignNA},
	}

	raw, err := USDTEvent("run-2", "USDT", row, time.Now()).Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Nil(t, decoded["deviation"])
	require.Equal(t, "N/A", decoded["sign"])
}

func TestNop_AcceptsEverything(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(t.Context(), Event{}))
	p.Close()
}
