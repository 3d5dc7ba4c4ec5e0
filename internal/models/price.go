package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AssetBTC  = "BTC"
	AssetETH  = "ETH"
	AssetUSDT = "USDT"
	FiatUSD   = "USD"
)

type Quote struct {
	Source     string          `json:"source"`
	Asset      string          `json:"asset"`
	Fiat       string          `json:"fiat"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observedAt"`
}

// FXTable maps a currency code to its USD mid-market rate.
type FXTable map[string]decimal.Decimal

// Ad is one peer-to-peer sell offer as returned by the marketplace search.
type Ad struct {
	Price             decimal.Decimal `json:"price"`
	MinAmount         decimal.Decimal `json:"minAmount"`
	MaxAmount         decimal.Decimal `json:"maxAmount"`
	Available         decimal.Decimal `json:"available"`
	Nickname          string          `json:"nickname"`
	CompletionRate    decimal.Decimal `json:"completionRate"`
	MonthlyOrderCount int             `json:"monthlyOrderCount"`
	PaymentMethods    []string        `json:"paymentMethods"`
	Featured          bool            `json:"featured"`
}

type TopAd struct {
	Nickname          string          `json:"nickname"`
	MonthlyOrderCount int             `json:"monthlyOrderCount"`
	Price             decimal.Decimal `json:"price"`
}

// P2PSnapshot is rebuilt on every fetch. BenchmarkRate is zero when no
// eligible ads were found.
type P2PSnapshot struct {
	Fiat          string          `json:"fiat"`
	Asset         string          `json:"asset"`
	BenchmarkRate decimal.Decimal `json:"benchmarkRate"`
	TopAds        []TopAd         `json:"topAds"`
	Ads           []Ad            `json:"-"`
	ObservedAt    time.Time       `json:"observedAt"`
}
