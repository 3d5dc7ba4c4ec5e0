package models

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

type Sign string

const (
	SignPositive Sign = "Positive"
	SignNegative Sign = "Negative"
	SignNA       Sign = "N/A"
)

// Deviation is a percentage with its sign. Percent is null when the value
// could not be computed, in which case Sign is SignNA.
type Deviation struct {
	Percent decimal.NullDecimal `json:"percent"`
	Sign    Sign                `json:"sign"`
}

// TableSchema names a destination table and its fixed header. The first
// KeyColumns cells of every row form the natural key.
type TableSchema struct {
	Name       string
	Header     []string
	KeyColumns int
}

var FiatHeader = []string{
	"Date", "Brand", "Crypto", "Currency",
	"USD Price", "BO Market Price", "Binance Rate",
	"Exchange Rate", "Exchange Rate Sign",
}

var USDTHeader = func() []string {
	h := []string{
		"Date", "Brand", "Crypto", "Currency",
		"USD", "XE RATE", "BO Market Price", "Binance Rate",
		"Exchange Rate", "Exchange Rate Sign",
	}
	for i := 1; i <= TopAdSlots; i++ {
		h = append(h,
			fmt.Sprintf("Top%d_Nick", i),
			fmt.Sprintf("Top%d_Orders", i),
			fmt.Sprintf("Top%d_Price", i),
		)
	}
	return h
}()

// TopAdSlots is the number of positional ad columns on a USDT row.
const TopAdSlots = 5

// NaturalKeyColumns covers Date, Brand, Crypto, Currency.
const NaturalKeyColumns = 4

func FiatSchema(name string) TableSchema {
	return TableSchema{Name: name, Header: FiatHeader, KeyColumns: NaturalKeyColumns}
}

func USDTSchema(name string) TableSchema {
	return TableSchema{Name: name, Header: USDTHeader, KeyColumns: NaturalKeyColumns}
}

type FiatRow struct {
	Date          string          `json:"date"`
	Brand         string          `json:"brand"`
	Asset         string          `json:"asset"`
	Currency      string          `json:"currency"`
	USDPrice      decimal.Decimal `json:"usdPrice"`
	BOMarketPrice decimal.Decimal `json:"boMarketPrice"`
	ReferenceRate decimal.Decimal `json:"referenceRate"`
	Deviation     Deviation       `json:"deviation"`
}

func (r FiatRow) Cells() []string {
	return []string{
		r.Date, r.Brand, r.Asset, r.Currency,
		r.USDPrice.StringFixed(2),
		r.BOMarketPrice.StringFixed(2),
		r.ReferenceRate.StringFixed(2),
		percentCell(r.Deviation.Percent),
		string(r.Deviation.Sign),
	}
}

type USDTRow struct {
	Date          string              `json:"date"`
	Brand         string              `json:"brand"`
	Asset         string              `json:"asset"`
	Currency      string              `json:"currency"`
	USDTUSD       decimal.NullDecimal `json:"usdtUsd"`
	FXMidRate     decimal.NullDecimal `json:"fxMidRate"`
	BOMarketPrice decimal.Decimal     `json:"boMarketPrice"`
	ReferenceRate decimal.Decimal     `json:"referenceRate"`
	Deviation     Deviation           `json:"deviation"`
	TopAds        []TopAd             `json:"topAds"`
}

func (r USDTRow) Cells() []string {
	cells := []string{
		r.Date, r.Brand, r.Asset, r.Currency,
		nullCell(r.USDTUSD, -1),
		nullCell(r.FXMidRate, 2),
		r.BOMarketPrice.String(),
		r.ReferenceRate.StringFixed(2),
		percentCell(r.Deviation.Percent),
		string(r.Deviation.Sign),
	}
	for i := 0; i < TopAdSlots; i++ {
		if i < len(r.TopAds) {
			ad := r.TopAds[i]
			cells = append(cells, ad.Nickname, strconv.Itoa(ad.MonthlyOrderCount), ad.Price.String())
			continue
		}
		cells = append(cells, "", "", "")
	}
	return cells
}

func percentCell(p decimal.NullDecimal) string {
	return nullCell(p, 2)
}

// nullCell renders a nullable decimal; places < 0 keeps full precision.
func nullCell(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return ""
	}
	if places < 0 {
		return d.Decimal.String()
	}
	return d.Decimal.StringFixed(places)
}
